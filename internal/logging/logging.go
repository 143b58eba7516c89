package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes structured key/value logs.
type Logger struct {
	zl zerolog.Logger
}

// Options controls how a Logger is built.
type Options struct {
	Level   string
	Console bool
	Output  io.Writer
}

// NewLogger creates a Logger at info level writing JSON to stdout.
func NewLogger() *Logger {
	return New(Options{Level: "info"})
}

// New creates a Logger from options. Unknown levels fall back to info.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	return &Logger{
		zl: zerolog.New(out).Level(level).With().Timestamp().Str("service", "complianceflow").Logger(),
	}
}

// With returns a child logger that adds the given key/value pairs to every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{zl: l.zl.With().Fields(args).Logger()}
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) {
	l.zl.Info().Fields(args).Msg(msg)
}

// Warn logs a warning.
func (l *Logger) Warn(msg string, args ...any) {
	l.zl.Warn().Fields(args).Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.zl.Error().Fields(args).Msg(msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.zl.Debug().Fields(args).Msg(msg)
}
