package rules

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"regexp/syntax"
	"strings"

	"github.com/bamsammich/vigil/internal/attr"
)

// Kind is the selection-line type of a rule.
type Kind uint8

const (
	Selective Kind = iota
	Equal
	NegativeRecursive
	NegativeNonRecursive
)

var kindNames = [...]string{
	Selective:            "selective",
	Equal:                "equal",
	NegativeRecursive:    "negative",
	NegativeNonRecursive: "negative-nonrecursive",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Negative reports whether rules of this kind exclude paths.
func (k Kind) Negative() bool {
	return k == NegativeRecursive || k == NegativeNonRecursive
}

func (k Kind) prefix() string {
	switch k {
	case Equal:
		return "="
	case NegativeRecursive:
		return "!"
	case NegativeNonRecursive:
		return "-"
	default:
		return ""
	}
}

// Origin locates the line a rule came from.
type Origin struct {
	File string
	Text string
	Line int
}

func (o Origin) String() string {
	switch {
	case o.File != "":
		return fmt.Sprintf("%s:%d", o.File, o.Line)
	case o.Line > 0:
		return fmt.Sprintf("line %d", o.Line)
	default:
		return o.Text
	}
}

// ErrNotAbsolute is returned for patterns that do not start with "/".
var ErrNotAbsolute = errors.New("pattern must start with /")

// Rule is a compiled selection line. A Rule is immutable once compiled.
type Rule struct {
	m           matcher
	origin      Origin
	pattern     string
	scope       string
	attrs       attr.Set
	restriction attr.FileType
	kind        Kind
}

// Compile builds a rule. Patterns are regular expressions anchored at the
// start of the path. Selective and negative rules match any path the
// pattern is a prefix of; equal rules must match the whole path, and an
// equal pattern ending in "/" matches the entries directly inside that
// directory.
func Compile(pattern string, kind Kind, restriction attr.FileType, attrs attr.Set, origin Origin) (*Rule, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("%q: %w", pattern, ErrNotAbsolute)
	}
	if kind > NegativeNonRecursive {
		return nil, fmt.Errorf("%q: unknown rule kind %d", pattern, kind)
	}

	expr := "^(?:" + pattern + ")"
	if kind == Equal {
		switch {
		case pattern == "/":
			expr = "^/[^/]*$"
		case strings.HasSuffix(pattern, "/"):
			expr += "[^/]+$"
		default:
			expr += "$"
		}
	}
	m, err := compileMatcher(expr)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	if kind.Negative() {
		attrs = 0
	}
	return &Rule{
		m:           m,
		origin:      origin,
		pattern:     pattern,
		scope:       scopeOf(pattern),
		attrs:       attrs,
		restriction: restriction,
		kind:        kind,
	}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(pattern string, kind Kind, restriction attr.FileType, attrs attr.Set) *Rule {
	r, err := Compile(pattern, kind, restriction, attrs, Origin{Text: kind.prefix() + pattern})
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Rule) Pattern() string            { return r.pattern }
func (r *Rule) Kind() Kind                 { return r.kind }
func (r *Rule) Restriction() attr.FileType { return r.restriction }
func (r *Rule) Attrs() attr.Set            { return r.attrs }
func (r *Rule) Origin() Origin             { return r.origin }

// Scope is the deepest directory every path matched by the rule lives
// under. The selection tree registers the rule on that node.
func (r *Rule) Scope() string { return r.scope }

// Admits reports whether the rule's restriction allows file type t.
func (r *Rule) Admits(t attr.FileType) bool { return r.restriction.Allows(t) }

// Match reports whether the rule matches p and where the longest match
// ends. For prefix rules the end may be short of len(p).
func (r *Rule) Match(p string) (end int, ok bool) { return r.m.end(p) }

// Live reports whether the rule could match some path strictly below p.
func (r *Rule) Live(p string) bool { return r.m.live(childPrefix(p)) }

func (r *Rule) String() string {
	var b strings.Builder
	b.WriteString(r.kind.prefix())
	b.WriteString(r.pattern)
	if r.restriction != attr.AnyType {
		b.WriteByte(' ')
		b.WriteString(r.restriction.String())
	}
	if !r.kind.Negative() {
		b.WriteByte(' ')
		b.WriteString(r.attrs.String())
	}
	return b.String()
}

func childPrefix(p string) string {
	if p == "/" {
		return "/"
	}
	return p + "/"
}

const metaChars = `.*+?[](){}|^$\`

// scopeOf returns the longest literal directory prefix of pattern.
func scopeOf(pattern string) string {
	if hasTopLevelAlternation(pattern) {
		return "/"
	}
	lit := pattern
	if i := strings.IndexAny(pattern, metaChars); i >= 0 {
		lit = pattern[:i]
		// a quantifier makes the preceding character optional
		if strings.ContainsRune("*?{", rune(pattern[i])) && len(lit) > 0 {
			lit = lit[:len(lit)-1]
		}
	}
	j := strings.LastIndexByte(lit, '/')
	if j <= 0 {
		return "/"
	}
	return path.Clean(lit[:j])
}

func hasTopLevelAlternation(pattern string) bool {
	depth := 0
	inClass := false
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; {
		case c == '\\':
			i++
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == '|' && depth == 0:
			return true
		}
	}
	return false
}

// matcher pairs a compiled expression with the program used for
// prefix-liveness checks.
type matcher struct {
	re   *regexp.Regexp
	prog *syntax.Prog
}

func compileMatcher(expr string) (matcher, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return matcher{}, err
	}
	re.Longest()
	parsed, err := syntax.Parse(expr, syntax.Perl)
	if err != nil {
		return matcher{}, err
	}
	prog, err := syntax.Compile(parsed.Simplify())
	if err != nil {
		return matcher{}, err
	}
	return matcher{re: re, prog: prog}, nil
}

func (m matcher) end(p string) (int, bool) {
	loc := m.re.FindStringIndex(p)
	if loc == nil {
		return 0, false
	}
	return loc[1], true
}
