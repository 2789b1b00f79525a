package attr

import (
	"fmt"
	"math/bits"
	"strings"
)

// Attr identifies a single recordable attribute of a filesystem entry.
// The numeric values are persisted by the database backends and must not
// be reordered.
type Attr uint8

const (
	LinkName Attr = iota
	Perm
	Type
	Inode
	LinkCount
	UID
	GID
	Size
	SizeGrow
	Blocks
	Atime
	Mtime
	Ctime
	MD5
	SHA1
	SHA256
	SHA512
	BLAKE3
	XXH64
	ACL
	Xattrs
	SELinux
	FSFlags
	Caps
	AllowNew
	AllowRemove

	numAttrs
)

var attrNames = [...]string{
	LinkName:    "l",
	Perm:        "p",
	Type:        "ftype",
	Inode:       "i",
	LinkCount:   "n",
	UID:         "u",
	GID:         "g",
	Size:        "s",
	SizeGrow:    "S",
	Blocks:      "b",
	Atime:       "a",
	Mtime:       "m",
	Ctime:       "c",
	MD5:         "md5",
	SHA1:        "sha1",
	SHA256:      "sha256",
	SHA512:      "sha512",
	BLAKE3:      "blake3",
	XXH64:       "xxh64",
	ACL:         "acl",
	Xattrs:      "xattrs",
	SELinux:     "selinux",
	FSFlags:     "e2fsattrs",
	Caps:        "caps",
	AllowNew:    "ANF",
	AllowRemove: "ARF",
}

func (a Attr) String() string {
	if a < numAttrs {
		return attrNames[a]
	}
	return fmt.Sprintf("attr(%d)", uint8(a))
}

// Lookup returns the attribute with the given config name.
func Lookup(name string) (Attr, bool) {
	for i, n := range attrNames {
		if n == name {
			return Attr(i), true
		}
	}
	return 0, false
}

// Set is a bitset of attributes.
type Set uint64

// All holds every defined attribute.
const All Set = 1<<numAttrs - 1

// Commonly used subsets.
const (
	Digests Set = 1<<MD5 | 1<<SHA1 | 1<<SHA256 | 1<<SHA512 | 1<<BLAKE3 | 1<<XXH64
	Grants  Set = 1<<AllowNew | 1<<AllowRemove
	Times   Set = 1<<Atime | 1<<Mtime | 1<<Ctime

	// Extended holds the attributes that need more than an lstat call.
	Extended Set = 1<<ACL | 1<<Xattrs | 1<<SELinux | 1<<FSFlags | 1<<Caps
)

// Of builds a set from individual attributes.
func Of(attrs ...Attr) Set {
	var s Set
	for _, a := range attrs {
		s |= 1 << a
	}
	return s
}

// FromBits validates a stored bitmask. Bits that do not name an attribute
// are rejected.
func FromBits(b uint64) (Set, error) {
	if b&^uint64(All) != 0 {
		return 0, fmt.Errorf("attribute mask %#x has undefined bits %#x", b, b&^uint64(All))
	}
	return Set(b), nil
}

// Bits returns the raw bitmask for persistence.
func (s Set) Bits() uint64 { return uint64(s) }

func (s Set) Has(a Attr) bool { return s&(1<<a) != 0 }

func (s Set) With(a Attr) Set { return s | 1<<a }

func (s Set) Without(a Attr) Set { return s &^ (1 << a) }

func (s Set) Union(o Set) Set { return s | o }

func (s Set) Intersect(o Set) Set { return s & o }

// Minus returns the attributes of s not present in o.
func (s Set) Minus(o Set) Set { return s &^ o }

func (s Set) Empty() bool { return s == 0 }

// Len returns the number of attributes in the set.
func (s Set) Len() int { return bits.OnesCount64(uint64(s)) }

// Attrs lists the attributes in ascending order.
func (s Set) Attrs() []Attr {
	out := make([]Attr, 0, s.Len())
	for a := Attr(0); a < numAttrs; a++ {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

// String renders the set in config syntax, e.g. "p+u+g+sha256".
func (s Set) String() string {
	if s == 0 {
		return "E"
	}
	names := make([]string, 0, s.Len())
	for _, a := range s.Attrs() {
		names = append(names, a.String())
	}
	return strings.Join(names, "+")
}
