package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/bamsammich/vigil/internal/record"
)

// Mode selects which sources feed the old and new sides of the tree.
type Mode uint8

const (
	// Init records the disk as a new baseline.
	Init Mode = iota
	// Check compares the disk against the old baseline.
	Check
	// Compare compares two baselines.
	Compare
	// Update checks the disk and writes a new baseline.
	Update
)

var modeNames = [...]string{
	Init:    "init",
	Check:   "check",
	Compare: "compare",
	Update:  "update",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "unknown"
}

// ParseMode maps a mode name to its Mode.
func ParseMode(s string) (Mode, error) {
	for i, n := range modeNames {
		if n == s {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// WritesDatabase reports whether the mode produces an output baseline.
func (m Mode) WritesDatabase() bool { return m == Init || m == Update }

// Source yields records one at a time and returns io.EOF when exhausted.
type Source interface {
	Next(ctx context.Context) (*record.Record, error)
}

// Sources holds the record producers for one run. Old is nil in Init mode.
type Sources struct {
	Old Source
	New Source
}

var errSources = errors.New("sources do not fit mode")

func (m Mode) validate(s Sources) error {
	if s.New == nil {
		return fmt.Errorf("%s: %w: missing new source", m, errSources)
	}
	if m == Init && s.Old != nil {
		return fmt.Errorf("%s: %w: unexpected old source", m, errSources)
	}
	if m != Init && s.Old == nil {
		return fmt.Errorf("%s: %w: missing old source", m, errSources)
	}
	return nil
}
