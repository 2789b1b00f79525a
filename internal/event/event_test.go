package event

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeString(t *testing.T) {
	tests := []struct {
		want string
		typ  Type
	}{
		{want: "RuleAmbiguous", typ: RuleAmbiguous},
		{want: "AttrUnavailable", typ: AttrUnavailable},
		{want: "EntryVanished", typ: EntryVanished},
		{want: "ReadFailed", typ: ReadFailed},
		{want: "MoveDetected", typ: MoveDetected},
		{want: "MoveAmbiguous", typ: MoveAmbiguous},
		{want: "MaskMismatch", typ: MaskMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.String())
		})
	}
}

func TestTypeStringUnknown(t *testing.T) {
	assert.Equal(t, "Unknown", Type(999).String())
	assert.Equal(t, "Unknown", Type(0).String())
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewLogSink(logger)

	sink.Emit(Event{
		Type:     AttrUnavailable,
		Severity: Warn,
		Message:  "cannot read xattrs",
		Path:     "/etc/shadow",
		Rule:     "aide.conf:3",
		Error:    errors.New("permission denied"),
	})

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, `msg="cannot read xattrs"`)
	assert.Contains(t, out, "event=AttrUnavailable")
	assert.Contains(t, out, "path=/etc/shadow")
	assert.Contains(t, out, "rule=aide.conf:3")
	assert.Contains(t, out, `error="permission denied"`)
}

func TestLogSinkRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	NewLogSink(logger).Emit(Event{Type: MoveDetected, Severity: Info, Message: "moved"})
	assert.Empty(t, buf.String())
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Emit(Event{Type: MoveAmbiguous})
	r.Emit(Event{Type: MoveAmbiguous})
	r.Emit(Event{Type: ReadFailed})

	events := r.Events()
	require.Len(t, events, 3)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, 2, r.Count(MoveAmbiguous))
	assert.Equal(t, 0, r.Count(RuleAmbiguous))
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard.Emit(Event{Type: ReadFailed}) })
}
