package reconcile

import (
	"fmt"
	"strings"

	"github.com/bamsammich/vigil/internal/attr"
	"github.com/bamsammich/vigil/internal/diff"
	"github.com/bamsammich/vigil/internal/event"
	"github.com/bamsammich/vigil/internal/record"
	"github.com/bamsammich/vigil/internal/seltree"
)

// moveAllowed lists the attributes a move may change besides ctime.
var moveAllowed = attr.Of(attr.Atime)

// MoveDetector pairs removed and added entries that share an inode.
type MoveDetector struct {
	tree *seltree.Tree
	sink event.Sink
	// unpaired nodes by inode, per side, in walk order
	index [2]map[uint64][]seltree.NodeID
}

// NewMoveDetector indexes every unpaired node of tree.
func NewMoveDetector(tree *seltree.Tree, sink event.Sink) *MoveDetector {
	d := &MoveDetector{
		tree:  tree,
		sink:  sink,
		index: [2]map[uint64][]seltree.NodeID{{}, {}},
	}
	tree.Walk(func(n *seltree.Node) bool {
		for _, side := range []seltree.Side{seltree.SideOld, seltree.SideNew} {
			if rec := unpaired(n, side); rec != nil && rec.Mask.Has(attr.Inode) {
				d.index[side][rec.Inode] = append(d.index[side][rec.Inode], n.ID())
			}
		}
		return true
	})
	return d
}

// unpaired returns the record on side s when the other side never saw the
// path and no grant silences the entry.
func unpaired(n *seltree.Node, s seltree.Side) *record.Record {
	if n.State.Has(seltree.MovedIn | seltree.MovedOut) {
		return nil
	}
	switch s {
	case seltree.SideOld:
		if n.Old == nil || n.State.Has(seltree.SeenNew) || n.State.Has(seltree.AllowRemove) {
			return nil
		}
		return n.Old
	default:
		if n.New == nil || n.State.Has(seltree.SeenOld) || n.State.Has(seltree.AllowNew) {
			return nil
		}
		return n.New
	}
}

// FindMove looks for a node on side whose record is rec after a rename.
// The search is limited to the subtree of the rule that selected from.
func (d *MoveDetector) FindMove(from *seltree.Node, rec *record.Record, side seltree.Side) (seltree.NodeID, bool) {
	if !rec.Mask.Has(attr.Inode) {
		return seltree.NoNode, false
	}
	scope := "/"
	if from.Rule != nil {
		scope = from.Rule.Scope()
	}

	var accepted []seltree.NodeID
	for _, id := range d.index[side][rec.Inode] {
		cand := d.tree.Node(id)
		other := unpaired(cand, side)
		if other == nil || id == from.ID() || !within(cand.Path(), scope) {
			continue
		}
		old, cur := other, rec
		if side == seltree.SideNew {
			old, cur = rec, other
		}
		if moveCompatible(old, cur) {
			accepted = append(accepted, id)
		}
	}
	if len(accepted) == 0 {
		return seltree.NoNode, false
	}
	if len(accepted) > 1 {
		paths := make([]string, len(accepted))
		for i, id := range accepted {
			paths[i] = d.tree.Node(id).Path()
		}
		d.sink.Emit(event.Event{
			Type:     event.MoveAmbiguous,
			Severity: event.Warn,
			Path:     from.Path(),
			Message:  fmt.Sprintf("inode %d matches %d candidates (%s); using the first", rec.Inode, len(accepted), strings.Join(paths, ", ")),
		})
	}
	return accepted[0], true
}

func within(p, scope string) bool {
	return scope == "/" || p == scope || strings.HasPrefix(p, scope+"/")
}

func moveCompatible(old, cur *record.Record) bool {
	if !diff.MaskMismatch(old, cur).Minus(moveAllowed).Empty() {
		return false
	}
	return diff.Changed(old, cur).Minus(moveAllowed).Without(attr.Ctime).Empty()
}

// detectMoves pairs every added entry with a removed one where possible.
func (r *Reconciler) detectMoves() {
	d := NewMoveDetector(r.tree, r.sink)
	r.tree.Walk(func(n *seltree.Node) bool {
		rec := unpaired(n, seltree.SideNew)
		if rec == nil {
			return true
		}
		id, ok := d.FindMove(n, rec, seltree.SideOld)
		if !ok {
			return true
		}
		from := r.tree.Node(id)
		from.State |= seltree.MovedOut
		from.Partner = n.ID()
		n.State |= seltree.MovedIn
		n.Partner = id

		msg := "moved"
		if from.Old.Mask.Has(attr.Ctime) && rec.Mask.Has(attr.Ctime) && !from.Old.Ctime.Equal(rec.Ctime) {
			msg = "moved, ctime differs"
		}
		r.sink.Emit(event.Event{
			Type:     event.MoveDetected,
			Severity: event.Info,
			Path:     n.Path(),
			Rule:     ruleOrigin(n),
			Message:  fmt.Sprintf("%s from %s", msg, from.Path()),
		})
		return true
	})
}

func ruleOrigin(n *seltree.Node) string {
	if n.Rule == nil {
		return ""
	}
	return n.Rule.Origin().String()
}
