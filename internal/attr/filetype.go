package attr

import (
	"fmt"
	"io/fs"
	"strings"
)

// FileType is a bitmask of filesystem entry kinds. A single entry has
// exactly one bit set; a rule restriction may have several.
type FileType uint16

const (
	Regular FileType = 1 << iota
	Directory
	Symlink
	BlockDev
	CharDev
	FIFO
	Socket
	Door
	Port
)

// AnyType is the zero restriction.
const AnyType FileType = 0

var typeCodes = []struct {
	t    FileType
	code byte
}{
	{Regular, 'f'},
	{Directory, 'd'},
	{Symlink, 'l'},
	{BlockDev, 'b'},
	{CharDev, 'c'},
	{FIFO, 'p'},
	{Socket, 's'},
	{Door, 'D'},
	{Port, 'P'},
}

// TypeFromMode maps an fs.FileMode to its FileType.
func TypeFromMode(m fs.FileMode) FileType {
	switch {
	case m.IsRegular():
		return Regular
	case m.IsDir():
		return Directory
	case m&fs.ModeSymlink != 0:
		return Symlink
	case m&fs.ModeDevice != 0 && m&fs.ModeCharDevice != 0:
		return CharDev
	case m&fs.ModeDevice != 0:
		return BlockDev
	case m&fs.ModeNamedPipe != 0:
		return FIFO
	case m&fs.ModeSocket != 0:
		return Socket
	default:
		return 0
	}
}

// TypeFromCode maps a single restriction character to its FileType.
func TypeFromCode(c byte) (FileType, bool) {
	for _, tc := range typeCodes {
		if tc.code == c {
			return tc.t, true
		}
	}
	return 0, false
}

// ParseRestriction parses a comma-separated list of type codes, e.g. "f,d".
func ParseRestriction(s string) (FileType, error) {
	var r FileType
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if len(part) != 1 {
			return 0, fmt.Errorf("invalid restriction %q", part)
		}
		t, ok := TypeFromCode(part[0])
		if !ok {
			return 0, fmt.Errorf("unknown restriction type %q", part)
		}
		r |= t
	}
	return r, nil
}

// Allows reports whether restriction r admits t. The zero restriction
// admits every type.
func (r FileType) Allows(t FileType) bool {
	return r == AnyType || r&t != 0
}

// String renders the type codes, e.g. "f,d".
func (r FileType) String() string {
	if r == AnyType {
		return "*"
	}
	var codes []string
	for _, tc := range typeCodes {
		if r&tc.t != 0 {
			codes = append(codes, string(tc.code))
		}
	}
	return strings.Join(codes, ",")
}
