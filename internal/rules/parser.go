package rules

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bamsammich/vigil/internal/attr"
)

// Parser turns rule lines into compiled rules. Group definitions update
// the parser's attribute table for the lines that follow.
type Parser struct {
	table attr.Table
	rules []*Rule
}

// NewParser returns a parser starting from table.
func NewParser(table attr.Table) *Parser {
	return &Parser{table: table}
}

// Rules returns the compiled rules in registration order.
func (p *Parser) Rules() []*Rule { return p.rules }

// Table returns the attribute table including every group defined so far.
func (p *Parser) Table() attr.Table { return p.table }

// ParseLine handles a single line. Formats:
//
//	# comment
//	NAME = expr             define an attribute group
//	/pattern [types] expr   selective
//	=/pattern [types] expr  equal
//	!/pattern [types]       recursive negative
//	-/pattern [types]       non-recursive negative
//
// types is a comma-separated list of file type codes such as "f,d".
func (p *Parser) ParseLine(line string, origin Origin) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	if origin.Text == "" {
		origin.Text = line
	}

	fields := strings.Fields(line)
	if !strings.ContainsAny(fields[0][:1], "/=!-") {
		if name, expr, ok := strings.Cut(line, "="); ok {
			return p.define(strings.TrimSpace(name), strings.Join(strings.Fields(expr), ""))
		}
	}

	kind := Selective
	pattern := fields[0]
	switch pattern[0] {
	case '=':
		kind = Equal
		pattern = pattern[1:]
	case '!':
		kind = NegativeRecursive
		pattern = pattern[1:]
	case '-':
		kind = NegativeNonRecursive
		pattern = pattern[1:]
	}

	rest := fields[1:]
	var restriction attr.FileType
	var attrs attr.Set
	var err error
	if kind.Negative() {
		switch len(rest) {
		case 0:
		case 1:
			if restriction, err = attr.ParseRestriction(rest[0]); err != nil {
				return err
			}
		default:
			return fmt.Errorf("negative rule takes at most a type restriction, got %q", strings.Join(rest, " "))
		}
	} else {
		switch len(rest) {
		case 1:
		case 2:
			if restriction, err = attr.ParseRestriction(rest[0]); err != nil {
				return err
			}
		default:
			return fmt.Errorf("rule %q needs an attribute expression", line)
		}
		if attrs, err = p.table.Parse(rest[len(rest)-1]); err != nil {
			return err
		}
	}

	r, err := Compile(pattern, kind, restriction, attrs, origin)
	if err != nil {
		return err
	}
	p.rules = append(p.rules, r)
	return nil
}

func (p *Parser) define(name, expr string) error {
	var s attr.Set
	if expr != "" {
		var err error
		if s, err = p.table.Parse(expr); err != nil {
			return fmt.Errorf("group %s: %w", name, err)
		}
	}
	t, err := p.table.Define(name, s)
	if err != nil {
		return err
	}
	p.table = t
	return nil
}

// Parse reads rule lines from r. name is used in error messages and rule
// origins.
func (p *Parser) Parse(r io.Reader, name string) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		text := scanner.Text()
		origin := Origin{File: name, Line: lineNum, Text: strings.TrimSpace(text)}
		if err := p.ParseLine(text, origin); err != nil {
			return fmt.Errorf("rule file %s line %d: %w", name, lineNum, err)
		}
	}
	return scanner.Err()
}

// LoadFile reads rules from a file.
func (p *Parser) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open rule file: %w", err)
	}
	defer f.Close()
	return p.Parse(f, path)
}
