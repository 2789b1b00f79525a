package seltree

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/btree"

	"github.com/bamsammich/vigil/internal/attr"
	"github.com/bamsammich/vigil/internal/event"
	"github.com/bamsammich/vigil/internal/record"
	"github.com/bamsammich/vigil/internal/rules"
)

// NodeID addresses a node in the tree's arena.
type NodeID int32

const (
	// Root is the node for "/".
	Root NodeID = 0
	// NoNode is returned by lookups that found nothing.
	NoNode NodeID = -1
)

var (
	// ErrSlotOccupied is returned when a second record arrives for the
	// same side of a node.
	ErrSlotOccupied = errors.New("record slot already occupied")
	// ErrConflictingRule is returned when the same selection line is
	// registered twice with different attributes.
	ErrConflictingRule = errors.New("conflicting rule")
)

// State holds per-node reconciliation flags.
type State uint16

const (
	SeenOld State = 1 << iota
	SeenNew
	Checked
	TraversePending
	MovedIn
	MovedOut
	AllowNew
	AllowRemove
	RetainAfterCompare
)

func (s State) Has(f State) bool { return s&f != 0 }

var stateNames = []struct {
	f    State
	name string
}{
	{SeenOld, "seen-old"},
	{SeenNew, "seen-new"},
	{Checked, "checked"},
	{TraversePending, "traverse-pending"},
	{MovedIn, "moved-in"},
	{MovedOut, "moved-out"},
	{AllowNew, "allow-new"},
	{AllowRemove, "allow-remove"},
	{RetainAfterCompare, "retain"},
}

func (s State) String() string {
	var names []string
	for _, sn := range stateNames {
		if s.Has(sn.f) {
			names = append(names, sn.name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

// Side selects which record slot of a node is meant.
type Side uint8

const (
	SideOld Side = iota
	SideNew
)

func (s Side) String() string {
	if s == SideOld {
		return "old"
	}
	return "new"
}

// Opposite returns the other side.
func (s Side) Opposite() Side { return 1 - s }

// Node is one path in the selection tree.
type Node struct {
	Old *record.Record
	New *record.Record
	// Rule is the rule that selected the attached records.
	Rule *rules.Rule
	// Partner is the other half of a detected move.
	Partner NodeID

	children *btree.BTreeG[child]
	path     string
	name     string

	selective []*rules.Rule
	equal     []*rules.Rule
	negative  []*rules.Rule

	id     NodeID
	parent NodeID

	// Changed is valid once both records have been compared.
	Changed attr.Set
	// MaskDiff holds attributes requested by only one side.
	MaskDiff attr.Set
	State    State

	// positive rules registered here or below
	ruleScope bool
}

type child struct {
	name string
	id   NodeID
}

func lessChild(a, b child) bool { return a.name < b.name }

func (n *Node) ID() NodeID        { return n.id }
func (n *Node) Path() string      { return n.path }
func (n *Node) Name() string      { return n.name }
func (n *Node) Parent() NodeID    { return n.parent }
func (n *Node) HasRules() bool    { return len(n.selective)+len(n.equal)+len(n.negative) > 0 }
func (n *Node) InRuleScope() bool { return n.ruleScope }

// Record returns the record attached on side s.
func (n *Node) Record(s Side) *record.Record {
	if s == SideOld {
		return n.Old
	}
	return n.New
}

// Tree is the selection tree. It is not safe for concurrent mutation.
type Tree struct {
	sink   event.Sink
	warned map[[2]*rules.Rule]struct{}
	nodes  []*Node
	rules  int
}

// New returns a tree holding only the root node. Diagnostics go to sink;
// nil discards them.
func New(sink event.Sink) *Tree {
	if sink == nil {
		sink = event.Discard
	}
	root := &Node{path: "/", name: "/", id: Root, parent: NoNode, Partner: NoNode}
	return &Tree{
		sink:   sink,
		warned: make(map[[2]*rules.Rule]struct{}),
		nodes:  []*Node{root},
	}
}

// Node returns the node with the given id.
func (t *Tree) Node(id NodeID) *Node { return t.nodes[id] }

// Len returns the number of nodes, placeholders included.
func (t *Tree) Len() int { return len(t.nodes) }

// RuleCount returns the number of registered rules.
func (t *Tree) RuleCount() int { return t.rules }

func cleanPath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func segments(p string) []string {
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}

// Find looks up the node for p without creating anything.
func (t *Tree) Find(p string) (NodeID, bool) {
	id := Root
	for _, seg := range segments(cleanPath(p)) {
		if id = t.child(id, seg, false); id == NoNode {
			return NoNode, false
		}
	}
	return id, true
}

// FindOrCreate returns the node for p, creating placeholder nodes for p
// and every missing ancestor.
func (t *Tree) FindOrCreate(p string) NodeID {
	id := Root
	for _, seg := range segments(cleanPath(p)) {
		id = t.child(id, seg, true)
	}
	return id
}

func (t *Tree) child(id NodeID, name string, create bool) NodeID {
	n := t.nodes[id]
	if n.children != nil {
		if c, ok := n.children.Get(child{name: name}); ok {
			return c.id
		}
	}
	if !create {
		return NoNode
	}
	if n.children == nil {
		n.children = btree.NewG(8, lessChild)
	}
	p := "/" + name
	if id != Root {
		p = n.path + p
	}
	c := &Node{path: p, name: name, id: NodeID(len(t.nodes)), parent: id, Partner: NoNode}
	t.nodes = append(t.nodes, c)
	n.children.ReplaceOrInsert(child{name: name, id: c.id})
	return c.id
}

// Children returns the children of id in name order.
func (t *Tree) Children(id NodeID) []NodeID {
	n := t.nodes[id]
	if n.children == nil {
		return nil
	}
	out := make([]NodeID, 0, n.children.Len())
	n.children.Ascend(func(c child) bool {
		out = append(out, c.id)
		return true
	})
	return out
}

// Walk visits every node in pre-order, children in name order. Returning
// false from fn skips the node's subtree.
func (t *Tree) Walk(fn func(n *Node) bool) { t.WalkFrom(Root, fn) }

// WalkFrom is Walk restricted to the subtree rooted at id.
func (t *Tree) WalkFrom(id NodeID, fn func(n *Node) bool) {
	stack := []NodeID{id}
	for len(stack) > 0 {
		cur := t.nodes[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]
		if !fn(cur) || cur.children == nil {
			continue
		}
		// push in reverse so the smallest name is visited first
		var kids []NodeID
		cur.children.Ascend(func(c child) bool {
			kids = append(kids, c.id)
			return true
		})
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
}

// Register attaches a compiled rule to the node for its scope.
func (t *Tree) Register(r *rules.Rule) error {
	if r == nil {
		return errors.New("register: nil rule")
	}
	id := t.FindOrCreate(r.Scope())
	n := t.nodes[id]

	var list *[]*rules.Rule
	switch r.Kind() {
	case rules.Equal:
		list = &n.equal
	case rules.Selective:
		list = &n.selective
	default:
		list = &n.negative
	}
	for _, existing := range *list {
		if existing.Kind() != r.Kind() || existing.Pattern() != r.Pattern() || existing.Restriction() != r.Restriction() {
			continue
		}
		if existing.Attrs() != r.Attrs() {
			return fmt.Errorf("%s: %w: %q already registered at %s", r.Origin(), ErrConflictingRule, r.Pattern(), existing.Origin())
		}
		return nil
	}
	*list = append(*list, r)
	t.rules++

	if !r.Kind().Negative() {
		for cur := id; cur != NoNode && !t.nodes[cur].ruleScope; cur = t.nodes[cur].parent {
			t.nodes[cur].ruleScope = true
		}
	}
	return nil
}

// Attach stores rec on side s of node id and marks the node seen.
func (t *Tree) Attach(id NodeID, s Side, rec *record.Record) error {
	n := t.nodes[id]
	seen := SeenOld
	if s == SideNew {
		seen = SeenNew
	}
	if n.State.Has(seen) {
		return fmt.Errorf("%s (%s): %w", n.path, s, ErrSlotOccupied)
	}
	if s == SideOld {
		n.Old = rec
	} else {
		n.New = rec
	}
	n.State |= seen
	return nil
}
