// Package logging builds the slog handlers used by the CLI.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// MultiHandler fans each record out to every handler that accepts its
// level.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler returns a handler writing to all of hs.
func NewMultiHandler(hs ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: hs}
}

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: hs}
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: hs}
}

// Options selects the CLI log outputs.
type Options struct {
	// Stderr receives human-readable text; os.Stderr when nil.
	Stderr io.Writer
	// File, when set, receives every record at debug level as JSON.
	File    string
	Rotate  Rotation
	Verbose bool
	Quiet   bool
}

// Rotation bounds the log file. Zero values take lumberjack's defaults:
// 100 MB per file, every backup kept forever.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Level maps the verbosity flags to the stderr level. Verbose wins over
// Quiet; the default is info.
func (o Options) Level() slog.Level {
	switch {
	case o.Verbose:
		return slog.LevelDebug
	case o.Quiet:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// New builds the logger described by o. The returned close function
// releases the log file, if any.
func New(o Options) (*slog.Logger, func() error, error) {
	stderr := o.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	var h slog.Handler = slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: o.Level()})
	closeFn := func() error { return nil }

	if o.File != "" {
		// lumberjack opens lazily; surface a bad path now instead of on
		// the first write.
		f, err := os.OpenFile(o.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		f.Close()

		lj := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    o.Rotate.MaxSizeMB,
			MaxBackups: o.Rotate.MaxBackups,
			MaxAge:     o.Rotate.MaxAgeDays,
			Compress:   o.Rotate.Compress,
		}
		jsonHandler := slog.NewJSONHandler(lj, &slog.HandlerOptions{Level: slog.LevelDebug})
		h = NewMultiHandler(h, jsonHandler)
		closeFn = lj.Close
	}
	return slog.New(h), closeFn, nil
}
