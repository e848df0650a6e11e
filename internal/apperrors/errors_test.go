package apperrors

import (
	"errors"
	"testing"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	base := errors.New("connection reset")
	err := Wrap(Network, "send offer", base)

	if !Is(err, Network) {
		t.Error("expected Is(err, Network) to be true")
	}
	if Is(err, FileIo) {
		t.Error("expected Is(err, FileIo) to be false")
	}
}

func TestKindOfFallsBackToEngine(t *testing.T) {
	if got := KindOf(errors.New("plain error")); got != Engine {
		t.Errorf("KindOf(plain error) = %v, want %v", got, Engine)
	}
	if got := KindOf(New(FileIo, "disk full")); got != FileIo {
		t.Errorf("KindOf(FileIo error) = %v, want %v", got, FileIo)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Serialization, "decode offer", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestErrorMessageOmitsEmptyDetail(t *testing.T) {
	err := New(ServerNotRunning, "")
	if err.Error() != string(ServerNotRunning) {
		t.Errorf("Error() = %q, want %q", err.Error(), string(ServerNotRunning))
	}
}
