// Package obslog sets up the structured logging backbone used across the
// coordination kernel: a zerolog logger writing through a rotating
// lumberjack sink when a log file is configured, falling back to stderr
// otherwise. This is the "diagnostic channel" spec §4.4 refers to when
// enforcement mode "warn" logs a missing lease instead of rejecting the
// write.
package obslog

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger. Zero value logs info-and-above to
// stderr.
type Options struct {
	Level        string // debug|info|warn|error
	File         string // rotated log file path; empty = stderr only
	MaxSizeMB    int
	MaxBackups   int
	MaxAgeDays   int
}

// New builds a zerolog.Logger from opts.
func New(opts Options) zerolog.Logger {
	var w io.Writer = os.Stderr
	if opts.File != "" {
		w = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
		}
	}

	logger := zerolog.New(w).With().Timestamp().Logger()
	logger = logger.Level(parseLevel(opts.Level))
	return logger
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

// Nop returns a logger that discards everything, used as a safe default
// for constructors invoked without an explicit logger (e.g. in tests).
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
