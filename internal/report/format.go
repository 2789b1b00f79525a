package report

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bamsammich/vigil/internal/attr"
	"github.com/bamsammich/vigil/internal/record"
)

const timeLayout = "2006-01-02 15:04:05 -0700"

var labels = map[attr.Attr]string{
	attr.LinkName:  "Link",
	attr.Perm:      "Perm",
	attr.Type:      "File type",
	attr.Inode:     "Inode",
	attr.LinkCount: "Linkcount",
	attr.UID:       "UID",
	attr.GID:       "GID",
	attr.Size:      "Size",
	attr.SizeGrow:  "Size (>)",
	attr.Blocks:    "Blocks",
	attr.Atime:     "Atime",
	attr.Mtime:     "Mtime",
	attr.Ctime:     "Ctime",
	attr.MD5:       "MD5",
	attr.SHA1:      "SHA1",
	attr.SHA256:    "SHA256",
	attr.SHA512:    "SHA512",
	attr.BLAKE3:    "BLAKE3",
	attr.XXH64:     "XXH64",
	attr.ACL:       "ACL",
	attr.Xattrs:    "XAttrs",
	attr.SELinux:   "SELinux",
	attr.FSFlags:   "E2FSAttrs",
	attr.Caps:      "Caps",
}

// Label returns the heading used for a in detailed output.
func Label(a attr.Attr) string {
	if l, ok := labels[a]; ok {
		return l
	}
	return a.String()
}

// FormatValue renders the value of a held by rec.
//
//nolint:gocyclo // one case per attribute family
func FormatValue(a attr.Attr, rec *record.Record) string {
	switch a {
	case attr.LinkName:
		return rec.LinkTarget
	case attr.Perm:
		return FormatPerm(rec.Mode, rec.Type)
	case attr.Type:
		return TypeName(rec.Type)
	case attr.Inode:
		return strconv.FormatUint(rec.Inode, 10)
	case attr.LinkCount:
		return strconv.FormatUint(rec.LinkCount, 10)
	case attr.UID:
		return strconv.FormatUint(uint64(rec.UID), 10)
	case attr.GID:
		return strconv.FormatUint(uint64(rec.GID), 10)
	case attr.Size, attr.SizeGrow:
		return strconv.FormatInt(rec.Size, 10)
	case attr.Blocks:
		return strconv.FormatInt(rec.Blocks, 10)
	case attr.Atime:
		return formatTime(rec.Atime)
	case attr.Mtime:
		return formatTime(rec.Mtime)
	case attr.Ctime:
		return formatTime(rec.Ctime)
	case attr.MD5, attr.SHA1, attr.SHA256, attr.SHA512, attr.BLAKE3, attr.XXH64:
		sum, ok := rec.Digests[a]
		if !ok {
			return "<absent>"
		}
		return base64.StdEncoding.EncodeToString(sum)
	case attr.ACL:
		return rec.ACL.String()
	case attr.Xattrs:
		return FormatXattrs(rec.Xattrs)
	case attr.SELinux:
		return optString(rec.SELinux)
	case attr.FSFlags:
		return FormatFSFlags(rec.FSFlags)
	case attr.Caps:
		return optString(rec.Caps)
	default:
		return ""
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "<none>"
	}
	return t.UTC().Format(timeLayout)
}

func optString(s *string) string {
	if s == nil {
		return "<none>"
	}
	return *s
}

var typeNames = map[attr.FileType]string{
	attr.Regular:   "File",
	attr.Directory: "Directory",
	attr.Symlink:   "Link",
	attr.BlockDev:  "Block device",
	attr.CharDev:   "Character device",
	attr.FIFO:      "FIFO",
	attr.Socket:    "Socket",
	attr.Door:      "Door",
	attr.Port:      "Port",
}

// TypeName returns a readable name for a single file type.
func TypeName(t attr.FileType) string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "Unknown"
}

// typeChar is the ls-style leading character for t.
func typeChar(t attr.FileType) byte {
	switch t {
	case attr.Regular:
		return '-'
	case attr.Directory:
		return 'd'
	case attr.Symlink:
		return 'l'
	case attr.BlockDev:
		return 'b'
	case attr.CharDev:
		return 'c'
	case attr.FIFO:
		return 'p'
	case attr.Socket:
		return 's'
	case attr.Door:
		return 'D'
	case attr.Port:
		return 'P'
	default:
		return '?'
	}
}

// FormatPerm renders mode like ls -l, e.g. "-rwsr-xr-x".
func FormatPerm(mode uint32, t attr.FileType) string {
	b := []byte("----------")
	b[0] = typeChar(t)
	const rwx = "rwxrwxrwx"
	for i := range 9 {
		if mode&(1<<(8-i)) != 0 {
			b[i+1] = rwx[i]
		}
	}
	special := func(bit uint32, pos int, set, unset byte) {
		if mode&bit == 0 {
			return
		}
		if b[pos] == '-' {
			b[pos] = unset
		} else {
			b[pos] = set
		}
	}
	special(0o4000, 3, 's', 'S')
	special(0o2000, 6, 's', 'S')
	special(0o1000, 9, 't', 'T')
	return string(b)
}

// FormatXattrs lists extended attributes by name. Printable values are
// shown as is, others base64 encoded.
func FormatXattrs(xs []record.Xattr) string {
	if len(xs) == 0 {
		return "num=0"
	}
	sorted := append([]record.Xattr(nil), xs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	parts := make([]string, 0, len(sorted)+1)
	parts = append(parts, fmt.Sprintf("num=%d", len(sorted)))
	for _, x := range sorted {
		parts = append(parts, x.Name+"="+xattrValue(x.Value))
	}
	return strings.Join(parts, " ")
}

func xattrValue(v []byte) string {
	if utf8.Valid(v) && !strings.ContainsFunc(string(v), func(r rune) bool { return !strconv.IsPrint(r) }) {
		return string(v)
	}
	return "base64:" + base64.StdEncoding.EncodeToString(v)
}

// lsattr letters in display order.
var fsFlagLetters = []struct {
	bit    uint32
	letter byte
}{
	{0x00000001, 's'},
	{0x00000002, 'u'},
	{0x00000008, 'S'},
	{0x00010000, 'D'},
	{0x00000010, 'i'},
	{0x00000020, 'a'},
	{0x00000040, 'd'},
	{0x00000080, 'A'},
	{0x00000004, 'c'},
	{0x00000800, 'E'},
	{0x00004000, 'j'},
	{0x00001000, 'I'},
	{0x00008000, 't'},
	{0x00020000, 'T'},
	{0x00080000, 'e'},
	{0x00800000, 'C'},
	{0x02000000, 'x'},
	{0x10000000, 'N'},
	{0x20000000, 'P'},
	{0x40000000, 'F'},
	{0x00100000, 'V'},
}

// FormatFSFlags renders inode flags in lsattr style, e.g. "----i---------e------".
// Bits without a letter are appended in hex.
func FormatFSFlags(fl uint32) string {
	b := make([]byte, len(fsFlagLetters))
	known := uint32(0)
	for i, f := range fsFlagLetters {
		known |= f.bit
		b[i] = '-'
		if fl&f.bit != 0 {
			b[i] = f.letter
		}
	}
	if rest := fl &^ known; rest != 0 {
		return fmt.Sprintf("%s (%#x)", b, rest)
	}
	return string(b)
}

// FormatCount formats an integer with comma separators.
func FormatCount(n int64) string {
	if n < 0 {
		return "-" + FormatCount(-n)
	}
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		b.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatDuration formats elapsed time concisely.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
