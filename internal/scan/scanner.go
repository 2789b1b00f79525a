package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/bamsammich/vigil/internal/attr"
	"github.com/bamsammich/vigil/internal/digest"
	"github.com/bamsammich/vigil/internal/event"
	"github.com/bamsammich/vigil/internal/record"
	"github.com/bamsammich/vigil/internal/stats"
)

// statAttrs are the attributes filled from a single lstat call.
var statAttrs = attr.All.Minus(attr.Digests).Minus(attr.Extended).Minus(attr.Grants)

// Config controls a Scanner.
type Config struct {
	Digests *digest.Provider
	Sink    event.Sink
	Stats   *stats.Collector
	Logger  *slog.Logger
	// Root is the first path visited, "/" when empty.
	Root string
	// RootPrefix is prepended to every path before touching the
	// filesystem. Records keep the unprefixed path.
	RootPrefix string
	// Workers bounds concurrent digest and extended attribute reads.
	Workers int
}

// Scanner walks a filesystem depth first, entries of a directory in name
// order, and yields one record per tracked entry.
type Scanner struct {
	cfg     Config
	sel     Selector
	dirs    DirObserver
	group   errgroup.Group
	stack   []string
	pending []*future
	window  int
	started bool
}

type future struct {
	rec    *record.Record
	failed []failure
	done   chan struct{}
}

type failure struct {
	err   error
	attrs attr.Set
}

var ready = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// New returns a Scanner asking sel about every entry. When sel also
// implements DirObserver it is told about every listed directory.
func New(cfg Config, sel Selector) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = min(runtime.NumCPU(), 8)
	}
	if cfg.Root == "" {
		cfg.Root = "/"
	}
	if cfg.Digests == nil {
		cfg.Digests = digest.NewProvider(0)
	}
	if cfg.Sink == nil {
		cfg.Sink = event.Discard
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Scanner{
		cfg:    cfg,
		sel:    sel,
		stack:  []string{path.Clean(cfg.Root)},
		window: cfg.Workers * 4,
	}
	s.dirs, _ = sel.(DirObserver)
	s.group.SetLimit(cfg.Workers)
	return s
}

// Next returns the next tracked record in walk order, or io.EOF.
func (s *Scanner) Next(ctx context.Context) (*record.Record, error) {
	for len(s.pending) < s.window && len(s.stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := s.stack[len(s.stack)-1]
		s.stack = s.stack[:len(s.stack)-1]
		if err := s.visit(ctx, p); err != nil {
			return nil, err
		}
	}
	if len(s.pending) == 0 {
		return nil, io.EOF
	}

	f := s.pending[0]
	s.pending = s.pending[1:]
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for _, fl := range f.failed {
		s.attrFailed(f.rec.Path, fl.attrs, fl.err)
	}
	return f.rec, nil
}

// Close waits for outstanding attribute reads.
func (s *Scanner) Close() error {
	return s.group.Wait()
}

func (s *Scanner) fsPath(p string) string {
	if s.cfg.RootPrefix == "" {
		return p
	}
	return filepath.Join(s.cfg.RootPrefix, filepath.FromSlash(p))
}

func (s *Scanner) visit(ctx context.Context, p string) error {
	root := !s.started
	s.started = true

	info, err := os.Lstat(s.fsPath(p))
	if err != nil {
		if root {
			return fmt.Errorf("scan root %s: %w", p, err)
		}
		s.readFailed(p, err)
		return nil
	}
	s.cfg.Stats.AddEntriesScanned(1)

	ft := attr.TypeFromMode(info.Mode())
	d := s.sel.Select(p, ft)
	if d.Track {
		s.pending = append(s.pending, s.collect(ctx, p, info, ft, d.Attrs))
	}
	if d.Descend && ft == attr.Directory {
		s.list(p)
	}
	return nil
}

// list pushes the children of p so they pop in name order.
func (s *Scanner) list(p string) {
	entries, err := os.ReadDir(s.fsPath(p))
	if s.dirs != nil {
		s.dirs.DirDone(p, err)
	}
	if err != nil {
		s.readFailed(p, err)
		return
	}
	for i := len(entries) - 1; i >= 0; i-- {
		s.stack = append(s.stack, path.Join(p, entries[i].Name()))
	}
}

func (s *Scanner) collect(ctx context.Context, p string, info fs.FileInfo, ft attr.FileType, want attr.Set) *future {
	rec := &record.Record{Path: p, Type: ft, Mask: statAttrs}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		fillStat(rec, st)
	} else {
		rec.Mode = uint32(info.Mode().Perm())
		rec.Size = info.Size()
		rec.Mtime = info.ModTime()
	}
	rec.Strip(want)

	if ft == attr.Symlink && want.Has(attr.LinkName) {
		target, err := os.Readlink(s.fsPath(p))
		if err != nil {
			rec.Drop(attr.LinkName)
			s.attrFailed(p, attr.Of(attr.LinkName), err)
		} else {
			rec.LinkTarget = target
		}
	}

	digests := want.Intersect(attr.Digests)
	if ft != attr.Regular {
		digests = 0
	}
	extended := want.Intersect(attr.Extended)
	if digests.Empty() && extended.Empty() {
		return &future{rec: rec, done: ready}
	}

	f := &future{rec: rec, done: make(chan struct{})}
	full := s.fsPath(p)
	s.group.Go(func() error {
		defer close(f.done)
		if !digests.Empty() {
			sums, err := s.cfg.Digests.Compute(ctx, full, digests)
			if err != nil {
				f.failed = append(f.failed, failure{attrs: digests, err: err})
			} else {
				for a, sum := range sums {
					rec.SetDigest(a, sum)
				}
				s.cfg.Stats.AddBytesHashed(rec.Size)
			}
		}
		if !extended.Empty() {
			f.failed = append(f.failed, readExtended(full, ft, extended, rec)...)
		}
		return nil
	})
	return f
}

func (s *Scanner) attrFailed(p string, attrs attr.Set, err error) {
	if errors.Is(err, errors.ErrUnsupported) {
		s.cfg.Logger.Debug("attributes unsupported on this platform", "path", p, "attrs", attrs.String())
		return
	}
	s.cfg.Stats.AddAttrErrors(1)
	s.cfg.Sink.Emit(event.Event{
		Type:     event.AttrUnavailable,
		Severity: event.Warn,
		Path:     p,
		Error:    err,
		Message:  "could not read " + attrs.String(),
	})
}

func (s *Scanner) readFailed(p string, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		s.cfg.Sink.Emit(event.Event{
			Type:     event.EntryVanished,
			Severity: event.Warn,
			Path:     p,
			Error:    err,
			Message:  "entry vanished during scan",
		})
		return
	}
	s.cfg.Stats.AddReadErrors(1)
	s.cfg.Sink.Emit(event.Event{
		Type:     event.ReadFailed,
		Severity: event.Warn,
		Path:     p,
		Error:    err,
		Message:  "could not read entry",
	})
}
