package record

import (
	"fmt"
	"strings"
)

// ACLTag identifies the kind of a POSIX ACL entry.
type ACLTag uint16

// Tag values follow the Linux xattr encoding.
const (
	ACLUserObj  ACLTag = 0x01
	ACLUser     ACLTag = 0x02
	ACLGroupObj ACLTag = 0x04
	ACLGroup    ACLTag = 0x08
	ACLMask     ACLTag = 0x10
	ACLOther    ACLTag = 0x20
)

// ACLEntry is one entry of an access or default ACL.
type ACLEntry struct {
	Tag  ACLTag
	Perm uint16
	ID   uint32 // only meaningful for ACLUser and ACLGroup
}

// ACL holds the access and default ACLs of an entry.
type ACL struct {
	Access  []ACLEntry
	Default []ACLEntry
}

// Clone returns a deep copy.
func (a *ACL) Clone() *ACL {
	return &ACL{
		Access:  append([]ACLEntry(nil), a.Access...),
		Default: append([]ACLEntry(nil), a.Default...),
	}
}

// Equal compares two ACLs entry by entry. Two nil ACLs are equal.
func (a *ACL) Equal(b *ACL) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return entriesEqual(a.Access, b.Access) && entriesEqual(a.Default, b.Default)
}

func entriesEqual(x, y []ACLEntry) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// String renders the ACL in a getfacl-like short form, e.g.
// "A: user::rw-,group::r--,other::r-- D: <none>".
func (a *ACL) String() string {
	if a == nil {
		return "<none>"
	}
	return "A: " + formatEntries(a.Access) + " D: " + formatEntries(a.Default)
}

func formatEntries(entries []ACLEntry) string {
	if len(entries) == 0 {
		return "<none>"
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, ",")
}

func (e ACLEntry) String() string {
	perm := []byte("---")
	if e.Perm&4 != 0 {
		perm[0] = 'r'
	}
	if e.Perm&2 != 0 {
		perm[1] = 'w'
	}
	if e.Perm&1 != 0 {
		perm[2] = 'x'
	}
	switch e.Tag {
	case ACLUserObj:
		return "user::" + string(perm)
	case ACLUser:
		return fmt.Sprintf("user:%d:%s", e.ID, perm)
	case ACLGroupObj:
		return "group::" + string(perm)
	case ACLGroup:
		return fmt.Sprintf("group:%d:%s", e.ID, perm)
	case ACLMask:
		return "mask::" + string(perm)
	case ACLOther:
		return "other::" + string(perm)
	default:
		return fmt.Sprintf("tag%#x:%d:%s", uint16(e.Tag), e.ID, perm)
	}
}
