package reconcile

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/vigil/internal/attr"
	"github.com/bamsammich/vigil/internal/event"
	"github.com/bamsammich/vigil/internal/record"
	"github.com/bamsammich/vigil/internal/rules"
	"github.com/bamsammich/vigil/internal/seltree"
)

var ruleAttrs = attr.Of(attr.Perm, attr.Type, attr.Inode, attr.UID, attr.GID, attr.Size, attr.Mtime, attr.Ctime, attr.SHA256)

type sliceSource struct {
	recs []*record.Record
	i    int
}

func source(recs ...*record.Record) *sliceSource { return &sliceSource{recs: recs} }

func (s *sliceSource) Next(context.Context) (*record.Record, error) {
	if s.i >= len(s.recs) {
		return nil, io.EOF
	}
	r := s.recs[s.i]
	s.i++
	return r, nil
}

type failingSource struct{ err error }

func (s failingSource) Next(context.Context) (*record.Record, error) { return nil, s.err }

func file(p string, ino uint64) *record.Record {
	r := &record.Record{
		Path:  p,
		Type:  attr.Regular,
		Mode:  0o100644,
		Inode: ino,
		Size:  10,
		Atime: time.Unix(50, 0),
		Mtime: time.Unix(100, 0),
		Ctime: time.Unix(200, 0),
		Mask:  attr.Of(attr.Perm, attr.Type, attr.Inode, attr.UID, attr.GID, attr.Size, attr.Mtime, attr.Ctime, attr.Atime, attr.Blocks),
	}
	r.SetDigest(attr.SHA256, []byte{1, 2, 3})
	return r
}

func dir(p string) *record.Record {
	return &record.Record{Path: p, Type: attr.Directory, Mode: 0o40755, Mask: attr.Of(attr.Perm, attr.Type)}
}

func newTree(t *testing.T, rs ...*rules.Rule) *seltree.Tree {
	t.Helper()
	if len(rs) == 0 {
		rs = []*rules.Rule{rules.MustCompile("/", rules.Selective, attr.AnyType, ruleAttrs)}
	}
	tree := seltree.New(nil)
	for _, r := range rs {
		require.NoError(t, tree.Register(r))
	}
	return tree
}

func node(t *testing.T, tree *seltree.Tree, p string) *seltree.Node {
	t.Helper()
	id, ok := tree.Find(p)
	require.True(t, ok, p)
	return tree.Node(id)
}

func TestCompareDetectsMove(t *testing.T) {
	var rec event.Recorder
	tree := newTree(t)
	r := New(tree, Config{Mode: Compare, Sink: &rec})

	oldRec := file("/a/old.txt", 42)
	newRec := file("/a/new.txt", 42)
	newRec.Ctime = time.Unix(300, 0)

	sum, err := r.Populate(context.Background(), Sources{Old: source(oldRec), New: source(newRec)})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Moved)
	assert.Zero(t, sum.Added)
	assert.Zero(t, sum.Removed)
	assert.Equal(t, 2, sum.Total)

	from := node(t, tree, "/a/old.txt")
	to := node(t, tree, "/a/new.txt")
	assert.True(t, from.State.Has(seltree.MovedOut))
	assert.True(t, to.State.Has(seltree.MovedIn))
	assert.Equal(t, to.ID(), from.Partner)
	assert.Equal(t, from.ID(), to.Partner)

	require.Equal(t, 1, rec.Count(event.MoveDetected))
	assert.Contains(t, rec.Events()[0].Message, "ctime differs")
}

func TestMoveRejectedWhenContentDiffers(t *testing.T) {
	tree := newTree(t)
	r := New(tree, Config{Mode: Compare})

	oldRec := file("/a/old.txt", 42)
	newRec := file("/a/new.txt", 42)
	newRec.Mode = 0o100600

	sum, err := r.Populate(context.Background(), Sources{Old: source(oldRec), New: source(newRec)})
	require.NoError(t, err)
	assert.Zero(t, sum.Moved)
	assert.Equal(t, 1, sum.Added)
	assert.Equal(t, 1, sum.Removed)
}

func TestMoveAllowsAtime(t *testing.T) {
	tree := newTree(t, rules.MustCompile("/", rules.Selective, attr.AnyType, ruleAttrs.With(attr.Atime)))
	r := New(tree, Config{Mode: Compare})

	oldRec := file("/a/old.txt", 42)
	newRec := file("/a/new.txt", 42)
	newRec.Atime = time.Unix(60, 0)

	sum, err := r.Populate(context.Background(), Sources{Old: source(oldRec), New: source(newRec)})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Moved)
}

func TestMoveLimitedToRuleScope(t *testing.T) {
	tree := newTree(t,
		rules.MustCompile("/a/", rules.Selective, attr.AnyType, ruleAttrs),
		rules.MustCompile("/b/", rules.Selective, attr.AnyType, ruleAttrs),
	)
	r := New(tree, Config{Mode: Compare})

	sum, err := r.Populate(context.Background(), Sources{
		Old: source(file("/a/f", 7)),
		New: source(file("/b/f", 7)),
	})
	require.NoError(t, err)
	assert.Zero(t, sum.Moved)
	assert.Equal(t, 1, sum.Added)
	assert.Equal(t, 1, sum.Removed)
}

func TestMoveAmbiguityPicksFirst(t *testing.T) {
	var rec event.Recorder
	tree := newTree(t)
	r := New(tree, Config{Mode: Compare, Sink: &rec})

	sum, err := r.Populate(context.Background(), Sources{
		Old: source(file("/a/one", 9), file("/a/two", 9)),
		New: source(file("/a/three", 9)),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Moved)
	assert.Equal(t, 1, sum.Removed)
	assert.Zero(t, sum.Added)
	assert.Equal(t, 1, rec.Count(event.MoveAmbiguous))

	assert.True(t, node(t, tree, "/a/one").State.Has(seltree.MovedOut))
	assert.False(t, node(t, tree, "/a/two").State.Has(seltree.MovedOut))
}

func TestMoveSkippedForGrants(t *testing.T) {
	tree := newTree(t, rules.MustCompile("/", rules.Selective, attr.AnyType, ruleAttrs.With(attr.AllowNew)))
	r := New(tree, Config{Mode: Compare})

	sum, err := r.Populate(context.Background(), Sources{
		Old: source(file("/a/old.txt", 42)),
		New: source(file("/a/new.txt", 42)),
	})
	require.NoError(t, err)
	assert.Zero(t, sum.Moved)
	assert.Equal(t, 1, sum.AllowedNew)
	assert.Equal(t, 1, sum.Removed)
}

func TestCheckFreesUnchangedAndKeepsChanged(t *testing.T) {
	tree := newTree(t)
	r := New(tree, Config{Mode: Check})

	same := file("/etc/hosts", 1)
	changedOld := file("/etc/passwd", 2)
	changedNew := file("/etc/passwd", 2)
	changedNew.Size = 20
	changedNew.SetDigest(attr.SHA256, []byte{9})

	sum, err := r.Populate(context.Background(), Sources{
		Old: source(same, changedOld, file("/etc/gone", 3)),
		New: source(file("/etc/hosts", 1), changedNew, file("/etc/fresh", 4)),
	})
	require.NoError(t, err)

	assert.Equal(t, Summary{Total: 4, Added: 1, Removed: 1, Changed: 1, Unchanged: 1}, sum)
	assert.True(t, sum.Differs())

	hosts := node(t, tree, "/etc/hosts")
	assert.Nil(t, hosts.Old)
	assert.Nil(t, hosts.New)
	assert.True(t, hosts.State.Has(seltree.Checked))

	passwd := node(t, tree, "/etc/passwd")
	require.NotNil(t, passwd.Old)
	require.NotNil(t, passwd.New)
	assert.Equal(t, attr.Of(attr.Size, attr.SHA256), passwd.Changed)
}

func TestIngestStripsToRuleAttributes(t *testing.T) {
	tree := newTree(t, rules.MustCompile("/", rules.Selective, attr.AnyType, attr.Of(attr.Perm, attr.Size)))
	r := New(tree, Config{Mode: Check})

	rec := file("/etc/hosts", 1)
	require.NoError(t, r.Ingest(rec, seltree.SideOld))

	n := node(t, tree, "/etc/hosts")
	require.NotNil(t, n.Old)
	assert.Equal(t, attr.Of(attr.Perm, attr.Size), n.Old.Mask)
	assert.Zero(t, n.Old.Inode)
	assert.Nil(t, n.Old.Digests)
	assert.Equal(t, "/", n.Rule.Pattern())
}

func TestIngestDropsUnselected(t *testing.T) {
	tree := newTree(t,
		rules.MustCompile("/", rules.Selective, attr.AnyType, ruleAttrs),
		rules.MustCompile("/proc", rules.NegativeRecursive, attr.AnyType, 0),
	)
	r := New(tree, Config{Mode: Check})
	require.NoError(t, r.Ingest(file("/proc/1/status", 5), seltree.SideNew))

	_, ok := tree.Find("/proc/1/status")
	assert.False(t, ok)
}

func TestDuplicateRecordIsFatal(t *testing.T) {
	tree := newTree(t)
	r := New(tree, Config{Mode: Check})

	_, err := r.Populate(context.Background(), Sources{
		Old: source(file("/etc/hosts", 1), file("/etc/hosts", 1)),
		New: source(),
	})
	require.ErrorIs(t, err, seltree.ErrSlotOccupied)
}

func TestSourceErrorAborts(t *testing.T) {
	tree := newTree(t)
	r := New(tree, Config{Mode: Check})
	boom := errors.New("disk on fire")

	_, err := r.Populate(context.Background(), Sources{Old: source(), New: failingSource{err: boom}})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "read new records")
}

func TestPopulateHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(newTree(t), Config{Mode: Init})
	_, err := r.Populate(ctx, Sources{New: source(file("/x", 1))})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSourcesMustFitMode(t *testing.T) {
	r := New(newTree(t), Config{Mode: Init})
	_, err := r.Populate(context.Background(), Sources{Old: source(), New: source()})
	require.Error(t, err)

	r = New(newTree(t), Config{Mode: Check})
	_, err = r.Populate(context.Background(), Sources{New: source()})
	require.Error(t, err)

	_, err = r.Populate(context.Background(), Sources{Old: source()})
	require.Error(t, err)
}

func TestLimit(t *testing.T) {
	limit, err := rules.NewLimit("/etc/ssh")
	require.NoError(t, err)
	tree := newTree(t)
	r := New(tree, Config{Mode: Check, Limit: limit})

	sum, err := r.Populate(context.Background(), Sources{
		Old: source(),
		New: source(dir("/"), dir("/etc"), file("/etc/hosts", 1), dir("/etc/ssh"), file("/etc/ssh/sshd_config", 2), file("/var/x", 3)),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Added)

	_, ok := tree.Find("/etc/hosts")
	assert.False(t, ok)
	_, ok = tree.Find("/var/x")
	assert.False(t, ok)
	assert.NotNil(t, node(t, tree, "/etc/ssh/sshd_config").New)
	assert.Nil(t, node(t, tree, "/etc").New)
}

func TestUpdateCarriesOverRecordsOutsideLimit(t *testing.T) {
	limit, err := rules.NewLimit("/etc")
	require.NoError(t, err)
	tree := newTree(t)
	r := New(tree, Config{Mode: Update, Limit: limit})

	_, err = r.Populate(context.Background(), Sources{
		Old: source(file("/etc/hosts", 1), file("/var/keep", 2), file("/etc/old", 3)),
		New: source(file("/etc/hosts", 1), file("/etc/new", 4)),
	})
	require.NoError(t, err)

	var written []string
	require.NoError(t, r.Output(func(rec *record.Record) error {
		written = append(written, rec.Path)
		return nil
	}))
	assert.Equal(t, []string{"/etc/hosts", "/etc/new", "/var/keep"}, written)

	hosts := node(t, tree, "/etc/hosts")
	assert.Nil(t, hosts.Old)
	assert.NotNil(t, hosts.New)
	assert.True(t, hosts.State.Has(seltree.RetainAfterCompare))
}

func TestInitOutputsEverything(t *testing.T) {
	tree := newTree(t)
	r := New(tree, Config{Mode: Init})

	sum, err := r.Populate(context.Background(), Sources{New: source(dir("/"), dir("/etc"), file("/etc/hosts", 1))})
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 3}, sum)

	var n int
	require.NoError(t, r.Output(func(*record.Record) error { n++; return nil }))
	assert.Equal(t, 3, n)

	boom := errors.New("full")
	assert.ErrorIs(t, r.Output(func(*record.Record) error { return boom }), boom)
}

func TestMaskMismatchCounted(t *testing.T) {
	var rec event.Recorder
	tree := newTree(t)
	r := New(tree, Config{Mode: Check, Sink: &rec})

	oldRec := file("/etc/hosts", 1)
	oldRec.Drop(attr.SHA256)

	sum, err := r.Populate(context.Background(), Sources{Old: source(oldRec), New: source(file("/etc/hosts", 1))})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Unchanged)
	assert.Equal(t, 1, sum.MaskMismatch)
	n := node(t, tree, "/etc/hosts")
	assert.Equal(t, attr.Of(attr.SHA256), n.MaskDiff)
	assert.NotNil(t, n.Old)
	assert.NotNil(t, n.New)
	assert.Equal(t, 1, rec.Count(event.MaskMismatch))
}

func TestSelect(t *testing.T) {
	tree := newTree(t,
		rules.MustCompile("/etc", rules.Selective, attr.AnyType, ruleAttrs),
		rules.MustCompile("/etc/ssl", rules.NegativeRecursive, attr.AnyType, 0),
	)
	r := New(tree, Config{Mode: Init})

	root := r.Select("/", attr.Directory)
	assert.False(t, root.Track)
	assert.True(t, root.Descend)

	etc := r.Select("/etc", attr.Directory)
	assert.True(t, etc.Track)
	assert.True(t, etc.Descend)
	assert.Equal(t, ruleAttrs, etc.Attrs)
	assert.True(t, node(t, tree, "/etc").State.Has(seltree.TraversePending))

	r.DirDone("/etc", nil)
	assert.False(t, node(t, tree, "/etc").State.Has(seltree.TraversePending))

	ssl := r.Select("/etc/ssl", attr.Directory)
	assert.False(t, ssl.Track)
	assert.False(t, ssl.Descend)

	assert.False(t, r.Select("/var", attr.Directory).Descend)
}

func TestSelectWithLimit(t *testing.T) {
	limit, err := rules.NewLimit("/etc/ssh")
	require.NoError(t, err)
	r := New(newTree(t), Config{Mode: Init, Limit: limit})

	etc := r.Select("/etc", attr.Directory)
	assert.False(t, etc.Track)
	assert.True(t, etc.Descend)

	assert.False(t, r.Select("/var", attr.Directory).Descend)
	assert.True(t, r.Select("/etc/ssh/sshd_config", attr.Regular).Track)
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{Init, Check, Compare, Update} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMode("bogus")
	assert.Error(t, err)
	assert.True(t, Update.WritesDatabase())
	assert.False(t, Compare.WritesDatabase())
}

func TestStatusOf(t *testing.T) {
	tree := newTree(t, rules.MustCompile("/g", rules.Selective, attr.AnyType, ruleAttrs.With(attr.AllowNew).With(attr.AllowRemove)), rules.MustCompile("/x", rules.Selective, attr.AnyType, ruleAttrs))
	r := New(tree, Config{Mode: Check})

	changed := file("/x/changed", 3)
	changed.Size = 99
	_, err := r.Populate(context.Background(), Sources{
		Old: source(file("/x/same", 1), file("/x/changed", 3), file("/x/gone", 4), file("/g/gone", 5)),
		New: source(file("/x/same", 1), changed, file("/x/fresh", 6), file("/g/fresh", 7)),
	})
	require.NoError(t, err)

	want := map[string]Status{
		"/x":         Untracked,
		"/x/same":    Unchanged,
		"/x/changed": Changed,
		"/x/gone":    Removed,
		"/x/fresh":   Added,
		"/g/gone":    AllowedRemoved,
		"/g/fresh":   AllowedNew,
	}
	for p, st := range want {
		assert.Equal(t, st, StatusOf(node(t, tree, p)), p)
	}
	assert.Equal(t, "allowed-new", AllowedNew.String())
}
