// Package logging provides structured logging for the transfer engine: a
// thin zerolog console-writer wrapper for the single CLI mode this module
// ships.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger so callers don't import zerolog directly.
type Logger struct {
	zlog zerolog.Logger
}

// New creates a logger writing human-readable console lines to w.
func New(w io.Writer, debug bool) *Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	zlog := zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}).With().Timestamp().Logger()
	return &Logger{zlog: zlog}
}

// Default returns a logger writing to stderr at info level.
func Default() *Logger { return New(os.Stderr, false) }

func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }

// With starts a child-logger builder for attaching persistent fields, e.g.
// logger.With().Str("transfer_id", id).Logger().
func (l *Logger) With() zerolog.Context { return l.zlog.With() }
