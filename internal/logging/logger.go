// Package logging configures the zerolog logger shared by the CLI and the
// pipeline.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnv overrides the level when Options.Level is empty.
const LevelEnv = "UMIE_LOG_LEVEL"

// Options selects the level and an optional rotating log file.
type Options struct {
	// Level is debug, info, warn or error. Empty reads LevelEnv, then info.
	Level string
	// File receives JSON lines on top of the console output.
	File       string
	MaxSizeMB  int
	MaxAgeDays int
	// Console is the human readable output, os.Stderr when nil.
	Console io.Writer
	NoColor bool
}

// Init sets the global logger and returns it tagged with a fresh run_id.
// The returned closer flushes the log file, if any.
func Init(opts Options) (zerolog.Logger, io.Closer, error) {
	name := opts.Level
	if name == "" {
		name = os.Getenv(LevelEnv)
	}
	level, err := ParseLevel(name)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}
	zerolog.SetGlobalLevel(level)

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	var (
		w      io.Writer = zerolog.ConsoleWriter{Out: console, NoColor: opts.NoColor, TimeFormat: "15:04:05"}
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename: opts.File,
			MaxSize:  opts.MaxSizeMB, // megabytes
			MaxAge:   opts.MaxAgeDays,
		}
		w = zerolog.MultiLevelWriter(w, lj)
		closer = lj
	}

	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	runLog := log.With().Str("run_id", uuid.NewString()).Logger()
	return runLog, closer, nil
}

// ParseLevel maps a level name to its zerolog level. Empty is info.
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	}
	return zerolog.NoLevel, fmt.Errorf("unknown log level %q", name)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
