// Package report renders the outcome of a reconciliation run as plain
// text or JSON.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bamsammich/vigil/internal/attr"
	"github.com/bamsammich/vigil/internal/reconcile"
	"github.com/bamsammich/vigil/internal/record"
	"github.com/bamsammich/vigil/internal/seltree"
	"github.com/bamsammich/vigil/internal/stats"
)

// Format selects the report encoding.
type Format string

const (
	Plain Format = "plain"
	JSON  Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case Plain, JSON:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// Options controls what Write prints.
type Options struct {
	Format Format
	Mode   reconcile.Mode
	// Verbose adds grant-silenced entries and run statistics to plain
	// reports.
	Verbose bool
	// Color styles plain headings with the current theme.
	Color bool
	// Output names the database written in Init and Update mode.
	Output string
	Stats  *stats.Snapshot
}

const rule = "---------------------------------------------------"

// columns of the change string after the leading type code
var columns = []struct {
	c     byte
	attrs attr.Set
}{
	{'l', attr.Of(attr.LinkName)},
	{'t', attr.Of(attr.Type)},
	{'p', attr.Of(attr.Perm)},
	{'u', attr.Of(attr.UID)},
	{'g', attr.Of(attr.GID)},
	{'s', attr.Of(attr.Size, attr.SizeGrow)},
	{'b', attr.Of(attr.Blocks)},
	{'a', attr.Of(attr.Atime)},
	{'m', attr.Of(attr.Mtime)},
	{'c', attr.Of(attr.Ctime)},
	{'i', attr.Of(attr.Inode)},
	{'n', attr.Of(attr.LinkCount)},
	{'H', attr.Digests},
	{'A', attr.Of(attr.ACL)},
	{'X', attr.Of(attr.Xattrs)},
	{'S', attr.Of(attr.SELinux)},
	{'E', attr.Of(attr.FSFlags)},
	{'C', attr.Of(attr.Caps)},
}

type entries struct {
	added          []*seltree.Node
	removed        []*seltree.Node
	allowedNew     []*seltree.Node
	allowedRemoved []*seltree.Node
	moved          []*seltree.Node
	changed        []*seltree.Node
	// changed entries and entries whose sides requested different
	// attributes
	details []*seltree.Node
}

func collect(tree *seltree.Tree) entries {
	var e entries
	tree.Walk(func(n *seltree.Node) bool {
		switch reconcile.StatusOf(n) {
		case reconcile.Added:
			e.added = append(e.added, n)
		case reconcile.Removed:
			e.removed = append(e.removed, n)
		case reconcile.AllowedNew:
			e.allowedNew = append(e.allowedNew, n)
		case reconcile.AllowedRemoved:
			e.allowedRemoved = append(e.allowedRemoved, n)
		case reconcile.MovedIn:
			e.moved = append(e.moved, n)
		case reconcile.Changed:
			e.changed = append(e.changed, n)
			e.details = append(e.details, n)
		case reconcile.Unchanged:
			if !n.MaskDiff.Empty() {
				e.details = append(e.details, n)
			}
		}
		return true
	})
	return e
}

// Write renders tree and sum to w. The tree must have been populated.
func Write(w io.Writer, tree *seltree.Tree, sum reconcile.Summary, opts Options) error {
	switch opts.Format {
	case JSON:
		return writeJSON(w, tree, sum, opts)
	case Plain, "":
		bw := bufio.NewWriter(w)
		p := &plain{w: bw, opts: opts}
		p.write(tree, sum)
		return bw.Flush()
	default:
		return fmt.Errorf("unknown report format %q", opts.Format)
	}
}

type plain struct {
	w    *bufio.Writer
	opts Options
}

func (p *plain) paint(s lipgloss.Style, text string) string {
	if !p.opts.Color {
		return text
	}
	return s.Render(text)
}

func (p *plain) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *plain) write(tree *seltree.Tree, sum reconcile.Summary) {
	if p.opts.Mode == reconcile.Init {
		p.printf("%s\n\n", p.paint(styleHeading, "vigil initialized a new database."))
		p.printf("  %-26s %s\n", "Number of entries:", FormatCount(int64(sum.Total)))
		p.footer()
		return
	}

	e := collect(tree)
	against := "database and filesystem"
	if p.opts.Mode == reconcile.Compare {
		against = "the two databases"
	}
	if sum.Differs() {
		p.printf("%s\n\n", p.paint(styleHeading, "vigil found differences between "+against+"!!"))
	} else {
		p.printf("%s\n\n", p.paint(styleHeading, "vigil found NO differences between "+against+". Looks okay!!"))
	}

	p.printf("Summary:\n")
	p.count("Total number of entries:", sum.Total)
	p.count("Added entries:", sum.Added)
	p.count("Removed entries:", sum.Removed)
	p.count("Changed entries:", sum.Changed)
	if sum.Moved > 0 {
		p.count("Moved entries:", sum.Moved)
	}
	if p.opts.Verbose {
		p.count("Allowed new entries:", sum.AllowedNew)
		p.count("Allowed removed entries:", sum.AllowedRemoved)
	}

	p.list("Added entries", styleAdded, e.added, func(n *seltree.Node) string { return fill(n.New, '+') })
	p.list("Removed entries", styleRemoved, e.removed, func(n *seltree.Node) string { return fill(n.Old, '-') })
	if p.opts.Verbose {
		p.list("Allowed new entries", styleMuted, e.allowedNew, func(n *seltree.Node) string { return fill(n.New, '+') })
		p.list("Allowed removed entries", styleMuted, e.allowedRemoved, func(n *seltree.Node) string { return fill(n.Old, '-') })
	}
	if len(e.moved) > 0 {
		p.section("Moved entries")
		for _, n := range e.moved {
			from := tree.Node(n.Partner)
			p.printf("%s: %s -> %s\n", p.paint(styleChanged, fill(n.New, '>')), from.Path(), n.Path())
		}
	}
	p.list("Changed entries", styleChanged, e.changed, ChangeString)

	if len(e.details) > 0 {
		p.section("Detailed information about changes")
		for _, n := range e.details {
			p.detail(n)
		}
	}
	p.footer()
}

func (p *plain) count(label string, n int) {
	p.printf("  %-26s %s\n", label, FormatCount(int64(n)))
}

func (p *plain) section(title string) {
	p.printf("\n%s\n%s\n%s\n\n", rule, p.paint(styleHeading, title+":"), rule)
}

func (p *plain) list(title string, style lipgloss.Style, nodes []*seltree.Node, code func(*seltree.Node) string) {
	if len(nodes) == 0 {
		return
	}
	p.section(title)
	for _, n := range nodes {
		p.printf("%s: %s\n", p.paint(style, code(n)), n.Path())
	}
}

func (p *plain) detail(n *seltree.Node) {
	p.printf("%s: %s\n", typeLabel(n), n.Path())
	if n.Old != nil && n.New != nil {
		for _, a := range detailAttrs(n.Changed) {
			p.printf("  %-10s: %-32s | %s\n", Label(a), FormatValue(a, n.Old), FormatValue(a, n.New))
		}
	}
	if !n.MaskDiff.Empty() {
		p.printf("  %s\n", p.paint(styleMuted, "requested attributes differ: "+n.MaskDiff.String()))
	}
	p.printf("\n")
}

func (p *plain) footer() {
	if p.opts.Output != "" {
		p.printf("\nNew database written to %s\n", p.opts.Output)
	}
	if p.opts.Verbose && p.opts.Stats != nil {
		s := p.opts.Stats
		p.printf("\nRun statistics:\n")
		p.printf("  %-26s %s\n", "Entries scanned:", FormatCount(s.EntriesScanned))
		p.printf("  %-26s %s\n", "Bytes hashed:", stats.FormatBytes(s.BytesHashed))
		p.printf("  %-26s %s\n", "Records read:", FormatCount(s.RecordsRead))
		p.printf("  %-26s %s\n", "Attribute errors:", FormatCount(s.AttrErrors))
		p.printf("  %-26s %s\n", "Read errors:", FormatCount(s.ReadErrors))
		p.printf("  %-26s %s\n", "Elapsed:", FormatDuration(s.Elapsed))
	}
}

// detailAttrs orders changed attributes for the detailed section. SizeGrow
// is folded into Size when both are set.
func detailAttrs(changed attr.Set) []attr.Attr {
	if changed.Has(attr.Size) {
		changed = changed.Without(attr.SizeGrow)
	}
	return changed.Attrs()
}

func typeLabel(n *seltree.Node) string {
	rec := n.New
	if rec == nil {
		rec = n.Old
	}
	if rec == nil {
		return "Entry"
	}
	return TypeName(rec.Type)
}

func typeCode(rec *record.Record) string {
	if rec == nil {
		return "?"
	}
	return rec.Type.String()
}

func fill(rec *record.Record, c byte) string {
	return typeCode(rec) + strings.Repeat(string(c), len(columns))
}

// ChangeString summarises a changed entry in one code: the type of the
// new record, then per column the letter if that attribute changed, "."
// if it was compared and equal, or a blank if it was not compared. A grown
// size shows as ">".
func ChangeString(n *seltree.Node) string {
	if n.Old == nil || n.New == nil {
		return typeCode(n.New) + strings.Repeat("?", len(columns))
	}
	compared := n.Old.Mask.Intersect(n.New.Mask)
	var b strings.Builder
	b.WriteString(typeCode(n.New))
	for _, col := range columns {
		switch {
		case col.c == 's' && n.Changed.Has(attr.Size) && n.New.Size > n.Old.Size:
			b.WriteByte('>')
		case !n.Changed.Intersect(col.attrs).Empty():
			b.WriteByte(col.c)
		case !compared.Intersect(col.attrs).Empty():
			b.WriteByte('.')
		default:
			b.WriteByte(' ')
		}
	}
	return b.String()
}

type jsonReport struct {
	Mode           string         `json:"mode"`
	Differs        bool           `json:"differs"`
	Summary        jsonSummary    `json:"summary"`
	Added          []jsonEntry    `json:"added"`
	Removed        []jsonEntry    `json:"removed"`
	Moved          []jsonMove     `json:"moved"`
	Changed        []jsonChange   `json:"changed"`
	AllowedNew     []jsonEntry    `json:"allowed_new"`
	AllowedRemoved []jsonEntry    `json:"allowed_removed"`
	MaskMismatch   []jsonMismatch `json:"requested_attributes_differ"`
	Output         string         `json:"output,omitempty"`
	Stats          *jsonStats     `json:"stats,omitempty"`
}

type jsonSummary struct {
	Total          int `json:"total"`
	Added          int `json:"added"`
	Removed        int `json:"removed"`
	Changed        int `json:"changed"`
	Moved          int `json:"moved"`
	Unchanged      int `json:"unchanged"`
	AllowedNew     int `json:"allowed_new"`
	AllowedRemoved int `json:"allowed_removed"`
	MaskMismatch   int `json:"requested_attributes_differ"`
}

type jsonEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

type jsonMove struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

type jsonValues struct {
	Old string `json:"old"`
	New string `json:"new"`
}

type jsonChange struct {
	Path       string                `json:"path"`
	Type       string                `json:"type"`
	Code       string                `json:"code"`
	Attributes map[string]jsonValues `json:"attributes"`
}

type jsonMismatch struct {
	Path       string `json:"path"`
	Attributes string `json:"attributes"`
}

type jsonStats struct {
	EntriesScanned int64   `json:"entries_scanned"`
	BytesHashed    int64   `json:"bytes_hashed"`
	RecordsRead    int64   `json:"records_read"`
	AttrErrors     int64   `json:"attr_errors"`
	ReadErrors     int64   `json:"read_errors"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

func writeJSON(w io.Writer, tree *seltree.Tree, sum reconcile.Summary, opts Options) error {
	out := jsonReport{
		Mode:           opts.Mode.String(),
		Differs:        sum.Differs(),
		Summary:        jsonSummary(sum),
		Added:          []jsonEntry{},
		Removed:        []jsonEntry{},
		Moved:          []jsonMove{},
		Changed:        []jsonChange{},
		AllowedNew:     []jsonEntry{},
		AllowedRemoved: []jsonEntry{},
		MaskMismatch:   []jsonMismatch{},
		Output:         opts.Output,
	}
	if opts.Stats != nil {
		s := opts.Stats
		out.Stats = &jsonStats{
			EntriesScanned: s.EntriesScanned,
			BytesHashed:    s.BytesHashed,
			RecordsRead:    s.RecordsRead,
			AttrErrors:     s.AttrErrors,
			ReadErrors:     s.ReadErrors,
			ElapsedSeconds: s.Elapsed.Seconds(),
		}
	}

	if opts.Mode != reconcile.Init {
		e := collect(tree)
		out.Added = appendEntries(out.Added, e.added, seltree.SideNew)
		out.Removed = appendEntries(out.Removed, e.removed, seltree.SideOld)
		out.AllowedNew = appendEntries(out.AllowedNew, e.allowedNew, seltree.SideNew)
		out.AllowedRemoved = appendEntries(out.AllowedRemoved, e.allowedRemoved, seltree.SideOld)
		for _, n := range e.moved {
			out.Moved = append(out.Moved, jsonMove{
				From: tree.Node(n.Partner).Path(),
				To:   n.Path(),
				Type: TypeName(n.New.Type),
			})
		}
		for _, n := range e.changed {
			c := jsonChange{
				Path:       n.Path(),
				Type:       typeLabel(n),
				Code:       ChangeString(n),
				Attributes: make(map[string]jsonValues),
			}
			for _, a := range n.Changed.Attrs() {
				c.Attributes[a.String()] = jsonValues{Old: FormatValue(a, n.Old), New: FormatValue(a, n.New)}
			}
			out.Changed = append(out.Changed, c)
		}
		for _, n := range e.details {
			if !n.MaskDiff.Empty() {
				out.MaskMismatch = append(out.MaskMismatch, jsonMismatch{Path: n.Path(), Attributes: n.MaskDiff.String()})
			}
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func appendEntries(dst []jsonEntry, nodes []*seltree.Node, side seltree.Side) []jsonEntry {
	for _, n := range nodes {
		dst = append(dst, jsonEntry{Path: n.Path(), Type: TypeName(n.Record(side).Type)})
	}
	return dst
}
