package record

import (
	"time"

	"github.com/bamsammich/vigil/internal/attr"
)

// Record is one filesystem entry as observed on disk or stored in a
// database. Mask says which fields are populated; fields outside Mask are
// zero and must not be compared or reported.
type Record struct {
	Atime      time.Time
	Mtime      time.Time
	Ctime      time.Time
	Path       string
	LinkTarget string
	Digests    map[attr.Attr][]byte
	ACL        *ACL
	Xattrs     []Xattr
	SELinux    *string
	Caps       *string
	Inode      uint64
	LinkCount  uint64
	Size       int64
	Blocks     int64
	Mode       uint32
	UID        uint32
	GID        uint32
	FSFlags    uint32
	Type       attr.FileType
	Mask       attr.Set
}

// Xattr is a single extended attribute.
type Xattr struct {
	Name  string
	Value []byte
}

// Perm returns the permission bits of Mode (including setuid, setgid and
// sticky).
func (r *Record) Perm() uint32 { return r.Mode & 0o7777 }

// Strip clears every field not in keep and narrows Mask accordingly.
// Type and Path are identity and always survive.
func (r *Record) Strip(keep attr.Set) {
	drop := r.Mask.Minus(keep)
	r.Mask = r.Mask.Intersect(keep)
	if drop.Empty() {
		return
	}
	for _, a := range drop.Attrs() {
		switch a {
		case attr.LinkName:
			r.LinkTarget = ""
		case attr.Perm:
			r.Mode &^= 0o7777
		case attr.Inode:
			r.Inode = 0
		case attr.LinkCount:
			r.LinkCount = 0
		case attr.UID:
			r.UID = 0
		case attr.GID:
			r.GID = 0
		case attr.Size, attr.SizeGrow:
			if !r.Mask.Has(attr.Size) && !r.Mask.Has(attr.SizeGrow) {
				r.Size = 0
			}
		case attr.Blocks:
			r.Blocks = 0
		case attr.Atime:
			r.Atime = time.Time{}
		case attr.Mtime:
			r.Mtime = time.Time{}
		case attr.Ctime:
			r.Ctime = time.Time{}
		case attr.ACL:
			r.ACL = nil
		case attr.Xattrs:
			r.Xattrs = nil
		case attr.SELinux:
			r.SELinux = nil
		case attr.FSFlags:
			r.FSFlags = 0
		case attr.Caps:
			r.Caps = nil
		case attr.MD5, attr.SHA1, attr.SHA256, attr.SHA512, attr.BLAKE3, attr.XXH64:
			delete(r.Digests, a)
		}
	}
	if len(r.Digests) == 0 {
		r.Digests = nil
	}
}

// Drop removes a single attribute, used when it could not be collected.
func (r *Record) Drop(a attr.Attr) {
	r.Strip(r.Mask.Without(a))
}

// SetDigest stores a digest value and marks it in Mask.
func (r *Record) SetDigest(a attr.Attr, sum []byte) {
	if r.Digests == nil {
		r.Digests = make(map[attr.Attr][]byte)
	}
	r.Digests[a] = sum
	r.Mask = r.Mask.With(a)
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	if r.Digests != nil {
		c.Digests = make(map[attr.Attr][]byte, len(r.Digests))
		for k, v := range r.Digests {
			c.Digests[k] = append([]byte(nil), v...)
		}
	}
	if r.ACL != nil {
		c.ACL = r.ACL.Clone()
	}
	if r.Xattrs != nil {
		c.Xattrs = make([]Xattr, len(r.Xattrs))
		for i, x := range r.Xattrs {
			c.Xattrs[i] = Xattr{Name: x.Name, Value: append([]byte(nil), x.Value...)}
		}
	}
	if r.SELinux != nil {
		s := *r.SELinux
		c.SELinux = &s
	}
	if r.Caps != nil {
		s := *r.Caps
		c.Caps = &s
	}
	return &c
}
