package seltree

import (
	"fmt"
	"path"

	"github.com/bamsammich/vigil/internal/attr"
	"github.com/bamsammich/vigil/internal/event"
	"github.com/bamsammich/vigil/internal/rules"
)

// Result is the outcome of classifying a path.
type Result uint8

const (
	NoMatch Result = iota
	Partial
	Selective
	Equal
	NegativeRecursive
	NegativeNonRecursive
)

var resultNames = [...]string{
	NoMatch:              "NoMatch",
	Partial:              "Partial",
	Selective:            "Selective",
	Equal:                "Equal",
	NegativeRecursive:    "NegativeRecursive",
	NegativeNonRecursive: "NegativeNonRecursive",
}

func (r Result) String() string {
	if int(r) < len(resultNames) {
		return resultNames[r]
	}
	return "Unknown"
}

// Tracked reports whether a record classified with r is kept.
func (r Result) Tracked() bool { return r == Selective || r == Equal }

// Match is the classification of one path.
type Match struct {
	// Rule is the deciding rule. It is set for positive matches, for
	// negative matches and for paths suppressed by a non-recursive
	// negative rule on an ancestor.
	Rule   *rules.Rule
	Attrs  attr.Set
	Result Result
	// Descend is true when a directory should be entered.
	Descend bool
}

// Suppressed reports whether the path was excluded because a
// non-recursive negative rule matched one of its ancestors.
func (m Match) Suppressed() bool { return m.Result == NoMatch && m.Rule != nil }

// Classify decides whether p, of type ft, is tracked and with which
// attributes. Directories that may contain matches get placeholder nodes.
//
// Equal rules are evaluated only at the nearest node carrying any, then
// selective rules from the parent up to the root, and negative rules last
// over the whole chain, overriding any positive result.
func (t *Tree) Classify(p string, ft attr.FileType) Match {
	p = cleanPath(p)
	start := Root
	if p != "/" {
		start = t.FindOrCreate(path.Dir(p))
	}
	ev := evaluation{path: p, ft: ft, isDir: ft == attr.Directory}

	for id := start; id != NoNode; id = t.nodes[id].parent {
		if n := t.nodes[id]; len(n.equal) > 0 {
			ev.scan(n.equal)
			break
		}
	}
	for id := start; id != NoNode && (ev.winner == nil || ev.isDir); id = t.nodes[id].parent {
		ev.scan(t.nodes[id].selective)
	}
	if own, ok := t.Find(p); ok && t.nodes[own].ruleScope {
		ev.live = true
	}

	if ev.winner == nil && !ev.live {
		return Match{}
	}
	if m, ok := t.negative(start, &ev); ok {
		return m
	}

	if ev.winner != nil {
		res := Selective
		if ev.winner.Kind() == rules.Equal {
			res = Equal
		}
		return Match{
			Rule:    ev.winner,
			Attrs:   ev.winner.Attrs(),
			Result:  res,
			Descend: ev.isDir && (res == Selective || ev.live),
		}
	}
	if ev.isDir {
		t.FindOrCreate(p)
	}
	return Match{Result: Partial, Descend: ev.isDir}
}

type evaluation struct {
	winner *rules.Rule
	path   string
	ft     attr.FileType
	isDir  bool
	live   bool
}

// scan evaluates one rule list. The first admitted full match wins if no
// winner exists yet; liveness is collected while it can still matter.
func (e *evaluation) scan(list []*rules.Rule) {
	for _, r := range list {
		if e.winner == nil && r.Admits(e.ft) {
			if _, ok := r.Match(e.path); ok {
				e.winner = r
			}
		}
		if !e.live && (e.winner == nil || e.isDir) && r.Live(e.path) {
			e.live = true
		}
		if e.winner != nil && (e.live || !e.isDir) {
			return
		}
	}
}

func (t *Tree) negative(start NodeID, ev *evaluation) (Match, bool) {
	var rec, nonrec *rules.Rule
	nonrecEnd := 0
	for id := start; id != NoNode; id = t.nodes[id].parent {
		for _, r := range t.nodes[id].negative {
			if !r.Admits(ev.ft) {
				continue
			}
			end, ok := r.Match(ev.path)
			if !ok {
				continue
			}
			switch {
			case r.Kind() == rules.NegativeRecursive && rec == nil:
				rec = r
			case r.Kind() == rules.NegativeNonRecursive && nonrec == nil:
				nonrec, nonrecEnd = r, end
			}
		}
	}

	switch {
	case rec != nil:
		if nonrec != nil && ev.winner != nil && ev.winner.Kind() == rules.Equal {
			t.warnAmbiguous(ev.path, ev.winner, rec, nonrec)
		}
		return Match{Rule: rec, Result: NegativeRecursive}, true
	case nonrec != nil && nonrecEnd == len(ev.path):
		return Match{Rule: nonrec, Result: NegativeNonRecursive, Descend: ev.isDir}, true
	case nonrec != nil:
		return Match{Rule: nonrec, Result: NoMatch}, true
	default:
		return Match{}, false
	}
}

func (t *Tree) warnAmbiguous(p string, eq, rec, nonrec *rules.Rule) {
	key := [2]*rules.Rule{rec, nonrec}
	if _, ok := t.warned[key]; ok {
		return
	}
	t.warned[key] = struct{}{}
	t.sink.Emit(event.Event{
		Type:     event.RuleAmbiguous,
		Severity: event.Warn,
		Path:     p,
		Rule:     eq.Origin().String(),
		Message: fmt.Sprintf("equal rule %q is overridden by both %q (%s) and %q (%s); the recursive rule wins",
			eq.Pattern(), rec.String(), rec.Origin(), nonrec.String(), nonrec.Origin()),
	})
}
