package event

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Type identifies the kind of diagnostic.
type Type int

const (
	RuleAmbiguous Type = iota + 1
	AttrUnavailable
	EntryVanished
	ReadFailed
	MoveDetected
	MoveAmbiguous
	MaskMismatch
)

var typeNames = [...]string{
	RuleAmbiguous:   "RuleAmbiguous",
	AttrUnavailable: "AttrUnavailable",
	EntryVanished:   "EntryVanished",
	ReadFailed:      "ReadFailed",
	MoveDetected:    "MoveDetected",
	MoveAmbiguous:   "MoveAmbiguous",
	MaskMismatch:    "MaskMismatch",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Severity mirrors the slog levels a sink should use.
type Severity int

const (
	Debug Severity = iota
	Info
	Warn
	Error
)

func (s Severity) level() slog.Level {
	switch s {
	case Info:
		return slog.LevelInfo
	case Warn:
		return slog.LevelWarn
	case Error:
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// Event is a single diagnostic emitted by the selection tree, the
// reconciler or the scanner.
type Event struct {
	Timestamp time.Time
	Error     error
	Message   string
	Path      string // absolute path, if any
	Rule      string // rule origin, if any
	Type      Type
	Severity  Severity
}

// Sink receives diagnostics. Implementations must be safe for concurrent
// use; the scanner emits from worker goroutines.
type Sink interface {
	Emit(Event)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Event) {}

// LogSink forwards events to a slog.Logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink writing to logger, or slog.Default() if nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(e Event) {
	attrs := []slog.Attr{slog.String("event", e.Type.String())}
	if e.Path != "" {
		attrs = append(attrs, slog.String("path", e.Path))
	}
	if e.Rule != "" {
		attrs = append(attrs, slog.String("rule", e.Rule))
	}
	if e.Error != nil {
		attrs = append(attrs, slog.String("error", e.Error.Error()))
	}
	s.logger.LogAttrs(context.Background(), e.Severity.level(), e.Message, attrs...)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
