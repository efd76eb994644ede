package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DefaultLogFile is the shared log every rig on the host appends to.
const DefaultLogFile = "/var/log/rig/rig.log"

var (
	mu     sync.Mutex
	logger *slog.Logger
	tee    *teeHandler
	sinks  []io.Closer
)

// Setup initializes the global logger. JSON records are appended to
// logFile (parent directories are created as needed). While withConsole
// is true, records are mirrored as plain text on stderr; a detached rig
// has no terminal, so deploy passes false after the re-exec.
func Setup(logFile string, debug, withConsole bool) error {
	mu.Lock()
	defer mu.Unlock()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	tee = &teeHandler{}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		sinks = append(sinks, f)
		tee.add(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
	}
	if withConsole {
		tee.add(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	logger = slog.New(tee)
	slog.SetDefault(logger)
	return nil
}

// AddFile attaches an additional JSON sink. Used for the per-rig copy of
// the log that lives in the working directory and rides into the archive.
func AddFile(path string, debug bool) error {
	mu.Lock()
	defer mu.Unlock()
	if tee == nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	sinks = append(sinks, f)
	tee.add(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
	return nil
}

// Close closes all file sinks.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	for _, s := range sinks {
		_ = s.Close()
	}
	sinks = nil
}

// Get returns the configured logger, or a stderr logger if Setup has not
// been called.
func Get() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithRig returns a logger with the rig field set.
func WithRig(name string) *slog.Logger {
	return Get().With(slog.String("rig", name))
}

// teeHandler fans every record out to each attached handler. Handlers may
// be added after construction (the per-rig file sink arrives once the
// working directory exists), so the slice is guarded.
type teeHandler struct {
	hmu      sync.RWMutex
	handlers []slog.Handler
}

func (t *teeHandler) add(h slog.Handler) {
	t.hmu.Lock()
	defer t.hmu.Unlock()
	t.handlers = append(t.handlers, h)
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	t.hmu.RLock()
	defer t.hmu.RUnlock()
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	t.hmu.RLock()
	defer t.hmu.RUnlock()
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	t.hmu.RLock()
	defer t.hmu.RUnlock()
	next := &teeHandler{handlers: make([]slog.Handler, len(t.handlers))}
	for i, h := range t.handlers {
		next.handlers[i] = h.WithAttrs(attrs)
	}
	return next
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	t.hmu.RLock()
	defer t.hmu.RUnlock()
	next := &teeHandler{handlers: make([]slog.Handler, len(t.handlers))}
	for i, h := range t.handlers {
		next.handlers[i] = h.WithGroup(name)
	}
	return next
}
