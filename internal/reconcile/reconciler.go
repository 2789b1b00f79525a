package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bamsammich/vigil/internal/attr"
	"github.com/bamsammich/vigil/internal/diff"
	"github.com/bamsammich/vigil/internal/event"
	"github.com/bamsammich/vigil/internal/record"
	"github.com/bamsammich/vigil/internal/rules"
	"github.com/bamsammich/vigil/internal/scan"
	"github.com/bamsammich/vigil/internal/seltree"
	"github.com/bamsammich/vigil/internal/stats"
)

// Config configures a Reconciler.
type Config struct {
	Sink   event.Sink
	Stats  *stats.Collector
	Logger *slog.Logger
	// Limit restricts the run to matching paths. Nil means no limit.
	Limit *rules.Limit
	Mode  Mode
}

// Reconciler merges records from up to two sources into a selection tree.
// All methods must be called from a single goroutine.
type Reconciler struct {
	tree    *seltree.Tree
	sink    event.Sink
	stats   *stats.Collector
	logger  *slog.Logger
	limit   *rules.Limit
	carried []*record.Record
	mode    Mode
	retain  bool
}

// New returns a Reconciler working on tree. The tree must already hold
// every rule.
func New(tree *seltree.Tree, cfg Config) *Reconciler {
	r := &Reconciler{
		tree:   tree,
		sink:   cfg.Sink,
		stats:  cfg.Stats,
		logger: cfg.Logger,
		limit:  cfg.Limit,
		mode:   cfg.Mode,
		retain: cfg.Mode.WritesDatabase(),
	}
	if r.sink == nil {
		r.sink = event.Discard
	}
	if r.stats == nil {
		r.stats = stats.NewCollector()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Tree returns the tree being populated.
func (r *Reconciler) Tree() *seltree.Tree { return r.tree }

// Mode returns the configured mode.
func (r *Reconciler) Mode() Mode { return r.mode }

// Populate drains the old source, then the new one, runs move detection
// and summarises the result.
func (r *Reconciler) Populate(ctx context.Context, src Sources) (Summary, error) {
	if err := r.mode.validate(src); err != nil {
		return Summary{}, err
	}
	if src.Old != nil {
		if err := r.drain(ctx, src.Old, seltree.SideOld); err != nil {
			return Summary{}, err
		}
	}
	if err := r.drain(ctx, src.New, seltree.SideNew); err != nil {
		return Summary{}, err
	}
	if r.mode != Init {
		r.detectMoves()
	}
	return r.Summarize(), nil
}

func (r *Reconciler) drain(ctx context.Context, s Source, side seltree.Side) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s records: %w", side, err)
		}
		if err := r.Ingest(rec, side); err != nil {
			return err
		}
	}
}

// Ingest classifies one record and attaches it to side of its node.
// Only a second record for the same side of a path is an error.
func (r *Reconciler) Ingest(rec *record.Record, side seltree.Side) error {
	r.stats.AddRecordsRead(1)

	switch r.limit.Check(rec.Path) {
	case rules.LimitNone:
		r.carry(rec, side)
		return nil
	case rules.LimitPartial:
		if rec.Type == attr.Directory {
			r.tree.FindOrCreate(rec.Path)
		}
		r.carry(rec, side)
		return nil
	}

	m := r.tree.Classify(rec.Path, rec.Type)
	if !m.Result.Tracked() {
		r.stats.AddRecordsSkipped(1)
		return nil
	}

	id := r.tree.FindOrCreate(rec.Path)
	rec.Strip(m.Attrs)
	if err := r.tree.Attach(id, side, rec); err != nil {
		return err
	}
	r.stats.AddRecordsKept(1)

	n := r.tree.Node(id)
	n.Rule = m.Rule
	if m.Attrs.Has(attr.AllowNew) {
		n.State |= seltree.AllowNew
	}
	if m.Attrs.Has(attr.AllowRemove) {
		n.State |= seltree.AllowRemove
	}
	if r.retain {
		n.State |= seltree.RetainAfterCompare
	}
	if n.Old != nil && n.New != nil {
		r.compare(n)
	}
	return nil
}

// carry keeps old records outside the limit so Update can write them out
// unchanged.
func (r *Reconciler) carry(rec *record.Record, side seltree.Side) {
	if r.mode == Update && side == seltree.SideOld {
		r.carried = append(r.carried, rec)
		return
	}
	r.stats.AddRecordsSkipped(1)
}

func (r *Reconciler) compare(n *seltree.Node) {
	n.Changed = diff.Changed(n.Old, n.New)
	n.MaskDiff = diff.MaskMismatch(n.Old, n.New)
	n.State |= seltree.Checked

	if !n.MaskDiff.Empty() {
		r.sink.Emit(event.Event{
			Type:     event.MaskMismatch,
			Severity: event.Info,
			Path:     n.Path(),
			Message:  "requested attributes differ: " + n.MaskDiff.String(),
		})
	}
	// the report still needs both sides of these
	if !n.Changed.Empty() || !n.MaskDiff.Empty() {
		return
	}
	n.Old = nil
	if !n.State.Has(seltree.RetainAfterCompare) {
		n.New = nil
	}
	r.stats.AddRecordsFreed(1)
}

// Select implements scan.Selector so the disk scanner descends and
// collects attributes the way the tree will later classify the records.
func (r *Reconciler) Select(p string, ft attr.FileType) scan.Decision {
	switch r.limit.Check(p) {
	case rules.LimitNone:
		return scan.Decision{}
	case rules.LimitPartial:
		return scan.Decision{Descend: ft == attr.Directory}
	}

	m := r.tree.Classify(p, ft)
	d := scan.Decision{Attrs: m.Attrs, Track: m.Result.Tracked(), Descend: m.Descend}
	if d.Descend {
		n := r.tree.Node(r.tree.FindOrCreate(p))
		n.State |= seltree.TraversePending
	}
	return d
}

// DirDone implements scan.DirObserver.
func (r *Reconciler) DirDone(p string, err error) {
	id, ok := r.tree.Find(p)
	if !ok {
		return
	}
	if err != nil {
		r.logger.Debug("directory left incomplete", "path", p, "error", err)
		return
	}
	n := r.tree.Node(id)
	n.State &^= seltree.TraversePending
}

// Output calls fn for every record that belongs in the output baseline:
// the new side of the tree in walk order, then old records outside the
// limit.
func (r *Reconciler) Output(fn func(*record.Record) error) error {
	var err error
	r.tree.Walk(func(n *seltree.Node) bool {
		if err != nil {
			return false
		}
		if n.New != nil {
			err = fn(n.New)
		}
		return true
	})
	if err != nil {
		return err
	}
	for _, rec := range r.carried {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}
