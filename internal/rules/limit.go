package rules

import (
	"fmt"
	"strings"
)

// LimitResult is the outcome of testing a path against a limit pattern.
type LimitResult uint8

const (
	// LimitNone means the path is outside the limit.
	LimitNone LimitResult = iota
	// LimitPartial means paths below this one may be inside the limit.
	LimitPartial
	// LimitFull means the path is inside the limit.
	LimitFull
)

func (r LimitResult) String() string {
	switch r {
	case LimitPartial:
		return "partial"
	case LimitFull:
		return "full"
	default:
		return "none"
	}
}

// Limit restricts a run to the part of the tree matched by a pattern.
type Limit struct {
	m       matcher
	pattern string
}

// NewLimit compiles a limit pattern. Like selection patterns it is
// anchored at the start of the path and matches by prefix.
func NewLimit(pattern string) (*Limit, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("limit %q: %w", pattern, ErrNotAbsolute)
	}
	m, err := compileMatcher("^(?:" + pattern + ")")
	if err != nil {
		return nil, fmt.Errorf("limit %q: %w", pattern, err)
	}
	return &Limit{m: m, pattern: pattern}, nil
}

func (l *Limit) Pattern() string { return l.pattern }

// Check classifies p. A nil Limit admits everything.
func (l *Limit) Check(p string) LimitResult {
	if l == nil {
		return LimitFull
	}
	if _, ok := l.m.end(p); ok {
		return LimitFull
	}
	if l.m.live(childPrefix(p)) {
		return LimitPartial
	}
	return LimitNone
}
