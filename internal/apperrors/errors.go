// Package apperrors defines the single tagged error domain used across the
// transfer engine. Components tag the failures they classify with one of
// these kinds, so callers can branch on Kind without string matching; some
// paths still return untagged errors, which KindOf reports as Engine.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind tags the category of failure so callers can branch without string
// matching against error text.
type Kind string

const (
	Network           Kind = "Network"
	DnsResolution     Kind = "DnsResolution"
	ConnectionRefused Kind = "ConnectionRefused"
	TransferRejected  Kind = "TransferRejected"
	FileIo            Kind = "FileIo"
	Serialization     Kind = "Serialization"
	ServerNotRunning  Kind = "ServerNotRunning"
	InvalidConfig     Kind = "InvalidConfig"
	Engine            Kind = "Engine"
)

// Error is the concrete type carried by every failure the engine returns.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a tagged error with a detail message.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds a tagged error around an underlying cause.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or Engine if err is not a tagged Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Engine
}
