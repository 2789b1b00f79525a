package reconcile

import (
	"fmt"

	"github.com/bamsammich/vigil/internal/seltree"
)

// Summary counts the outcome of a run.
type Summary struct {
	Total          int
	Added          int
	Removed        int
	Changed        int
	Moved          int
	Unchanged      int
	AllowedNew     int
	AllowedRemoved int
	// MaskMismatch counts entries whose sides requested different
	// attributes.
	MaskMismatch int
}

// Differs reports whether anything was added, removed or changed.
func (s Summary) Differs() bool {
	return s.Added+s.Removed+s.Changed > 0
}

func (s Summary) String() string {
	return fmt.Sprintf("total=%d added=%d removed=%d changed=%d moved=%d unchanged=%d",
		s.Total, s.Added, s.Removed, s.Changed, s.Moved, s.Unchanged)
}

// Status is the reported outcome for one node.
type Status uint8

const (
	// Untracked nodes hold no record on either side.
	Untracked Status = iota
	Added
	Removed
	Changed
	Unchanged
	MovedIn
	MovedOut
	AllowedNew
	AllowedRemoved
)

var statusNames = [...]string{
	Untracked:      "untracked",
	Added:          "added",
	Removed:        "removed",
	Changed:        "changed",
	Unchanged:      "unchanged",
	MovedIn:        "moved-in",
	MovedOut:       "moved-out",
	AllowedNew:     "allowed-new",
	AllowedRemoved: "allowed-removed",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// StatusOf classifies n after Populate. Moves win over added and removed,
// grants turn added and removed into their allowed forms.
func StatusOf(n *seltree.Node) Status {
	seenOld := n.State.Has(seltree.SeenOld)
	seenNew := n.State.Has(seltree.SeenNew)
	switch {
	case !seenOld && !seenNew:
		return Untracked
	case n.State.Has(seltree.MovedIn):
		return MovedIn
	case n.State.Has(seltree.MovedOut):
		return MovedOut
	case seenOld && seenNew:
		if n.Changed.Empty() {
			return Unchanged
		}
		return Changed
	case seenNew && n.State.Has(seltree.AllowNew):
		return AllowedNew
	case seenNew:
		return Added
	case n.State.Has(seltree.AllowRemove):
		return AllowedRemoved
	default:
		return Removed
	}
}

// Summarize walks the tree and counts every tracked entry. In Init mode
// only Total is counted.
func (r *Reconciler) Summarize() Summary {
	var s Summary
	r.tree.Walk(func(n *seltree.Node) bool {
		st := StatusOf(n)
		if st == Untracked {
			return true
		}
		s.Total++
		if r.mode == Init {
			return true
		}
		switch st {
		case MovedIn:
			s.Moved++
		case Changed:
			s.Changed++
		case Unchanged:
			s.Unchanged++
		case AllowedNew:
			s.AllowedNew++
		case Added:
			s.Added++
		case AllowedRemoved:
			s.AllowedRemoved++
		case Removed:
			s.Removed++
		}
		if (st == Changed || st == Unchanged) && !n.MaskDiff.Empty() {
			s.MaskMismatch++
		}
		return true
	})
	return s
}
