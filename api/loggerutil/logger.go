// Package loggerutil builds the slog loggers used by the aggview CLI.
package loggerutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Marlliton/slogpretty"
	ljack "gopkg.in/natefinch/lumberjack.v2"
)

type LogFormat int

const (
	LogHandlerTypeText LogFormat = iota
	LogHandlerTypeJSON
	LogHandlerTypePretty
)

// Defaults for the rotating log file
const (
	DefaultMaxSizeMB  = 20
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 20
	LogFileName       = "aggview.log"
)

// ParseFormat maps a --log-format value to a LogFormat.
func ParseFormat(s string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return LogHandlerTypeText, nil
	case "json":
		return LogHandlerTypeJSON, nil
	case "pretty":
		return LogHandlerTypePretty, nil
	default:
		return LogHandlerTypeText, fmt.Errorf("invalid log format %q, expected text, json or pretty (AGV_LOG_001)", s)
	}
}

// Options controls New.
type Options struct {
	Format  LogFormat
	Verbose bool
	// FileDir, when set, adds a rotating file next to the primary output.
	// Falls back to the LOG_FILE_DIR environment variable.
	FileDir string
	// Output defaults to os.Stdout.
	Output io.Writer
}

// New returns a logger writing to opts.Output and, when a file directory is
// configured, to a lumberjack-rotated file as well. The returned closer
// releases the file and is never nil.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var closer io.Closer = nopCloser{}
	dir := opts.FileDir
	if dir == "" {
		dir = os.Getenv("LOG_FILE_DIR")
	}
	if dir != "" {
		fw, err := newFileWriter(dir)
		if err != nil {
			return nil, nil, err
		}
		out = io.MultiWriter(out, fw)
		closer = fw
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	switch opts.Format {
	case LogHandlerTypeJSON:
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	case LogHandlerTypePretty:
		// Source: https://github.com/Marlliton/slogpretty
		handler = slogpretty.New(out, &slogpretty.Options{Level: level, Colorful: true})
	default:
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler), closer, nil
}

func newFileWriter(dir string) (*ljack.Logger, error) {
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w (AGV_LOG_002)", err)
		}
		dir = filepath.Join(home, dir[2:])
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w (AGV_LOG_003)", dir, err)
	}

	return &ljack.Logger{
		Filename:   filepath.Join(dir, LogFileName),
		MaxSize:    DefaultMaxSizeMB, // megabytes
		MaxBackups: DefaultMaxBackups,
		MaxAge:     DefaultMaxAgeDays, // days
	}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
