// Package logging builds the structured loggers used across a stats run.
//
// Records go to stderr as text and, when a log file is configured, to a
// size-rotated JSON file. Each analysis can additionally tee its records
// into a plain text log inside its own output directory:
//
//	logger, err := logging.New(logging.Config{Level: "info", File: "stats.log"})
//	if err != nil { ... }
//	defer logger.Close()
//
//	analysisLog, err := logger.Tee(filepath.Join(outDir, "phenostats.log"))
//	...
//	analysisLog.Close() // closes the tee file only
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/lumberjack"
)

// Config selects log destinations.
type Config struct {
	// Level is one of debug, info, warn or error. Empty means info.
	Level string

	// File enables a rotating JSON log at this path.
	File string

	// MaxSizeMB and MaxAgeDays control rotation of File.
	MaxSizeMB  int
	MaxAgeDays int

	// Quiet disables the stderr destination.
	Quiet bool

	// Stderr replaces os.Stderr, mainly for tests.
	Stderr io.Writer
}

// Logger wraps a slog.Logger together with the resources behind its
// destinations.
type Logger struct {
	slog  *slog.Logger
	level slog.Level

	mu      sync.Mutex
	closers []io.Closer
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// New creates a logger from cfg.
func New(cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	l := &Logger{level: level}

	var handlers []slog.Handler
	if !cfg.Quiet {
		w := cfg.Stderr
		if w == nil {
			w = os.Stderr
		}
		handlers = append(handlers, slog.NewTextHandler(w, opts))
	}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename: cfg.File,
			MaxSize:  cfg.MaxSizeMB, // megabytes
			MaxAge:   cfg.MaxAgeDays,
		}
		l.closers = append(l.closers, rotating)
		handlers = append(handlers, slog.NewJSONHandler(rotating, opts))
	}
	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(io.Discard, opts))
	}
	l.slog = slog.New(fanOut(handlers))
	return l, nil
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	l, _ := New(Config{Quiet: true})
	return l
}

// Slog returns the underlying logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// With returns a child logger sharing the parent's destinations. Closing the
// child does not close them.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), level: l.level}
}

// Tee returns a child logger that also writes text records to path. Close
// on the child closes only that file.
func (l *Logger) Tee(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening analysis log: %w", err)
	}
	file := slog.NewTextHandler(f, &slog.HandlerOptions{Level: l.level})
	return &Logger{
		slog:    slog.New(fanOut([]slog.Handler{l.slog.Handler(), file})),
		level:   l.level,
		closers: []io.Closer{f},
	}, nil
}

// Close releases the destinations owned by this logger.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.closers = nil
	return first
}

func fanOut(handlers []slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return &multiHandler{handlers: handlers}
}

// multiHandler sends each record to every handler that accepts its level.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
