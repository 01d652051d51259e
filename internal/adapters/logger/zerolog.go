// Package logger provides a zerolog-backed implementation of ports.Logger.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"trailbot/internal/ports"
)

// Logger adapts zerolog to the ports.Logger interface.
type Logger struct {
	zl zerolog.Logger
}

// Options configures the logger construction.
type Options struct {
	Level  zerolog.Level
	Writer io.Writer // defaults to stderr
	Pretty bool      // human-readable console output instead of JSON
}

// New creates a Logger writing structured JSON (or pretty console output)
// with timestamps.
func New(opts Options) *Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	zl := zerolog.New(w).Level(opts.Level).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// ParseLevel maps a config string to a zerolog level, defaulting to info for
// anything unrecognised.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.emit(l.zl.Debug(), msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.emit(l.zl.Info(), msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.emit(l.zl.Warn(), msg, fields)
}

func (l *Logger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.emit(l.zl.Error().Err(err), msg, fields)
}

func (l *Logger) emit(ev *zerolog.Event, msg string, fields []map[string]interface{}) {
	for _, m := range fields {
		ev = ev.Fields(m)
	}
	ev.Msg(msg)
}

var _ ports.Logger = (*Logger)(nil)
