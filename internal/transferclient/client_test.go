package transferclient

import (
	"context"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"lanxfer/internal/apperrors"
	"lanxfer/internal/events"
	"lanxfer/internal/history"
	"lanxfer/internal/transferserver"
)

// startPeer runs a real transferserver.Server behind an httptest.Server so
// these tests exercise the whole offer/poll/upload sequence end to end
// against real connections instead of mocking the wire.
func startPeer(t *testing.T, trusted ...string) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	bus := events.NewBus(32)
	h := history.Open(filepath.Join(dir, "history.json"), nil)
	srv := transferserver.New(transferserver.Config{
		DownloadDir:  dir,
		TrustedHosts: trusted,
		Bus:          bus,
		History:      h,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, dir
}

func newTestClient() *Client {
	return New(Config{
		DeviceName:   "sender",
		MaxRetries:   1,
		RetryDelayMs: 10,
		Bus:          events.NewBus(32),
	})
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSendFilesToTrustedHostCompletesWithoutPolling(t *testing.T) {
	ts, downloadDir := startPeer(t, "127.0.0.1")
	host, port := splitTestURL(t, ts.URL)

	path := writeTempFile(t, "integration test payload")
	c := newTestClient()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.SendFiles(ctx, host, port, []string{path}); err != nil {
		t.Fatalf("SendFiles: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(downloadDir, "payload.txt"))
	if err != nil {
		t.Fatalf("reading received file: %v", err)
	}
	if string(got) != "integration test payload" {
		t.Errorf("received content = %q", got)
	}
}

func TestSendFilesRejectedDoesNotRetry(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(32)
	h := history.Open(filepath.Join(dir, "history.json"), nil)
	srv := transferserver.New(transferserver.Config{DownloadDir: dir, Bus: bus, History: h})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	go func() {
		for i := 0; i < 50; i++ {
			pending := srv.Pending()
			if len(pending) > 0 {
				srv.Reject(pending[0].ID, "no thanks")
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	host, port := splitTestURL(t, ts.URL)
	path := writeTempFile(t, "data")
	c := New(Config{DeviceName: "sender", MaxRetries: 3, RetryDelayMs: 10, Bus: events.NewBus(32)})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.SendFiles(ctx, host, port, []string{path})
	if !apperrors.Is(err, apperrors.TransferRejected) {
		t.Fatalf("expected TransferRejected, got %v", err)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	base := 500 * time.Millisecond
	if got := backoff(base, 1); got != 500*time.Millisecond {
		t.Errorf("attempt 1: got %v, want 500ms", got)
	}
	if got := backoff(base, 2); got != time.Second {
		t.Errorf("attempt 2: got %v, want 1s", got)
	}
	if got := backoff(base, 10); got != maxBackoff {
		t.Errorf("attempt 10: got %v, want capped at %v", got, maxBackoff)
	}
}

func TestCheckPeerAndGetPeerInfo(t *testing.T) {
	ts, _ := startPeer(t, "device-under-test")
	host, port := splitTestURL(t, ts.URL)
	c := newTestClient()
	ctx := context.Background()

	reachable, err := c.CheckPeer(ctx, host, port)
	if err != nil {
		t.Fatalf("CheckPeer: %v", err)
	}
	if !reachable {
		t.Fatal("CheckPeer: expected reachable peer to report true")
	}

	info, err := c.GetPeerInfo(ctx, host, port)
	if err != nil {
		t.Fatalf("GetPeerInfo: %v", err)
	}
	if info.App == "" || info.Version == "" {
		t.Errorf("GetPeerInfo: incomplete response %+v", info)
	}
}

func TestCheckPeerRefusedConnection(t *testing.T) {
	c := newTestClient()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Nothing listens on this port; the dial should fail fast rather than
	// report "reachable".
	reachable, err := c.CheckPeer(ctx, "127.0.0.1", 1)
	if err == nil {
		t.Fatalf("expected an error probing an unreachable peer, got reachable=%v", reachable)
	}
	if reachable {
		t.Error("expected reachable=false on error")
	}
}

func splitTestURL(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parsing test server URL %q: %v", rawURL, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing port from %q: %v", rawURL, err)
	}
	return u.Hostname(), port
}
