package seltree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/vigil/internal/attr"
	"github.com/bamsammich/vigil/internal/record"
	"github.com/bamsammich/vigil/internal/rules"
)

func TestFindOrCreate(t *testing.T) {
	tree := New(nil)
	id := tree.FindOrCreate("/a/b/c")
	n := tree.Node(id)
	assert.Equal(t, "/a/b/c", n.Path())
	assert.Equal(t, "c", n.Name())

	parent, ok := tree.Find("/a/b")
	require.True(t, ok)
	assert.Equal(t, parent, n.Parent())
	assert.Equal(t, "/a/b", tree.Node(parent).Path())

	before := tree.Len()
	assert.Equal(t, id, tree.FindOrCreate("/a/b/c"))
	assert.Equal(t, id, tree.FindOrCreate("/a//b/c/"))
	assert.Equal(t, before, tree.Len())

	_, ok = tree.Find("/a/x")
	assert.False(t, ok)

	rootID, ok := tree.Find("/")
	require.True(t, ok)
	assert.Equal(t, Root, rootID)
	assert.Equal(t, NoNode, tree.Node(Root).Parent())
}

func TestChildrenOrdered(t *testing.T) {
	tree := New(nil)
	for _, p := range []string{"/z", "/a", "/m", "/a/y", "/a/b"} {
		tree.FindOrCreate(p)
	}

	var names []string
	for _, id := range tree.Children(Root) {
		names = append(names, tree.Node(id).Name())
	}
	assert.Equal(t, []string{"a", "m", "z"}, names)
	assert.Nil(t, tree.Children(tree.FindOrCreate("/z")))
}

func TestWalkPreOrder(t *testing.T) {
	tree := New(nil)
	for _, p := range []string{"/z", "/a/b/c", "/m", "/a/a"} {
		tree.FindOrCreate(p)
	}

	var paths []string
	tree.Walk(func(n *Node) bool {
		paths = append(paths, n.Path())
		return true
	})
	assert.Equal(t, []string{"/", "/a", "/a/a", "/a/b", "/a/b/c", "/m", "/z"}, paths)

	paths = nil
	tree.Walk(func(n *Node) bool {
		paths = append(paths, n.Path())
		return n.Path() != "/a"
	})
	assert.Equal(t, []string{"/", "/a", "/m", "/z"}, paths)

	paths = nil
	a, _ := tree.Find("/a")
	tree.WalkFrom(a, func(n *Node) bool {
		paths = append(paths, n.Path())
		return true
	})
	assert.Equal(t, []string{"/a", "/a/a", "/a/b", "/a/b/c"}, paths)
}

func TestRegister(t *testing.T) {
	tree := New(nil)
	require.NoError(t, tree.Register(rules.MustCompile("/etc/ssh/sshd_config", rules.Selective, attr.AnyType, attr.Of(attr.Perm))))

	id, ok := tree.Find("/etc/ssh")
	require.True(t, ok)
	assert.True(t, tree.Node(id).HasRules())
	assert.True(t, tree.Node(id).InRuleScope())
	assert.True(t, tree.Node(Root).InRuleScope())
	assert.Equal(t, 1, tree.RuleCount())
}

func TestRegisterNegativeDoesNotMarkScope(t *testing.T) {
	tree := New(nil)
	require.NoError(t, tree.Register(rules.MustCompile("/proc/x", rules.NegativeRecursive, attr.AnyType, 0)))
	id, _ := tree.Find("/proc")
	assert.False(t, tree.Node(id).InRuleScope())
}

func TestRegisterConflict(t *testing.T) {
	tree := New(nil)
	require.NoError(t, tree.Register(rules.MustCompile("/etc", rules.Selective, attr.AnyType, attr.Of(attr.Perm))))
	require.NoError(t, tree.Register(rules.MustCompile("/etc", rules.Selective, attr.AnyType, attr.Of(attr.Perm))))
	assert.Equal(t, 1, tree.RuleCount())

	err := tree.Register(rules.MustCompile("/etc", rules.Selective, attr.AnyType, attr.Of(attr.UID)))
	require.ErrorIs(t, err, ErrConflictingRule)

	// same pattern with another restriction is a different rule
	require.NoError(t, tree.Register(rules.MustCompile("/etc", rules.Selective, attr.Regular, attr.Of(attr.UID))))
	assert.Equal(t, 2, tree.RuleCount())

	assert.Error(t, tree.Register(nil))
}

func TestAttach(t *testing.T) {
	tree := New(nil)
	id := tree.FindOrCreate("/etc/hosts")

	require.NoError(t, tree.Attach(id, SideOld, &record.Record{Path: "/etc/hosts"}))
	err := tree.Attach(id, SideOld, &record.Record{Path: "/etc/hosts"})
	require.ErrorIs(t, err, ErrSlotOccupied)
	assert.Contains(t, err.Error(), "/etc/hosts (old)")

	require.NoError(t, tree.Attach(id, SideNew, &record.Record{Path: "/etc/hosts"}))
	n := tree.Node(id)
	assert.True(t, n.State.Has(SeenOld))
	assert.True(t, n.State.Has(SeenNew))
	assert.NotNil(t, n.Record(SideOld))
	assert.NotNil(t, n.Record(SideNew))

	// freeing a record does not reopen the slot
	n.New = nil
	require.ErrorIs(t, tree.Attach(id, SideNew, &record.Record{Path: "/etc/hosts"}), ErrSlotOccupied)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "-", State(0).String())
	assert.Equal(t, "seen-old,moved-out", (SeenOld | MovedOut).String())
	assert.Equal(t, SideNew, SideOld.Opposite())
	assert.Equal(t, "new", SideNew.String())
}
