package attr

import (
	"fmt"
	"strings"
)

// Table maps group names to attribute sets. A Table is never modified in
// place; Define returns a new table.
type Table struct {
	groups map[string]Set
}

// DefaultTable returns the built-in groups.
func DefaultTable() Table {
	x := Of(ACL, SELinux, Xattrs, FSFlags, Caps)
	return Table{groups: map[string]Set{
		"R": Of(Perm, Type, Inode, LinkName, LinkCount, UID, GID, Size, Mtime, Ctime, SHA256) | x,
		"L": Of(Perm, Type, Inode, LinkName, LinkCount, UID, GID) | x,
		">": Of(Perm, Type, LinkName, UID, GID, Inode, LinkCount, SizeGrow) | x,
		"X": x,
		"H": Digests,
		"E": 0,
	}}
}

// Group returns the set registered under name.
func (t Table) Group(name string) (Set, bool) {
	s, ok := t.groups[name]
	return s, ok
}

// Define returns a copy of t with name bound to s. Attribute names cannot be
// redefined as groups.
func (t Table) Define(name string, s Set) (Table, error) {
	if name == "" {
		return t, fmt.Errorf("empty group name")
	}
	if _, ok := Lookup(name); ok {
		return t, fmt.Errorf("group name %q collides with an attribute name", name)
	}
	groups := make(map[string]Set, len(t.groups)+1)
	for k, v := range t.groups {
		groups[k] = v
	}
	groups[name] = s
	return Table{groups: groups}, nil
}

// Parse evaluates an attribute expression such as "R-m+sha512". Terms are
// applied left to right; a leading term without an operator is added.
func (t Table) Parse(expr string) (Set, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, fmt.Errorf("empty attribute expression")
	}

	var s Set
	op := byte('+')
	start := 0
	for i := 0; i <= len(expr); i++ {
		if i < len(expr) && expr[i] != '+' && expr[i] != '-' {
			continue
		}
		term := expr[start:i]
		if term == "" {
			if i == len(expr) || i > 0 {
				return 0, fmt.Errorf("invalid attribute expression %q", expr)
			}
		} else {
			v, err := t.term(term)
			if err != nil {
				return 0, err
			}
			if op == '+' {
				s |= v
			} else {
				s &^= v
			}
		}
		if i < len(expr) {
			op = expr[i]
		}
		start = i + 1
	}
	return s, nil
}

func (t Table) term(name string) (Set, error) {
	if g, ok := t.groups[name]; ok {
		return g, nil
	}
	if a, ok := Lookup(name); ok {
		return Of(a), nil
	}
	return 0, fmt.Errorf("unknown attribute or group %q", name)
}
