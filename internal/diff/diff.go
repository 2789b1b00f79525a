package diff

import (
	"bytes"
	"sort"

	"github.com/bamsammich/vigil/internal/attr"
	"github.com/bamsammich/vigil/internal/record"
)

// Changed returns the attributes whose values differ between old and new.
// Only attributes present in both masks are compared; grants are never
// reported as changed.
func Changed(old, new *record.Record) attr.Set {
	var changed attr.Set
	for _, a := range old.Mask.Intersect(new.Mask).Minus(attr.Grants).Attrs() {
		if differs(a, old, new) {
			changed = changed.With(a)
		}
	}
	return changed
}

// MaskMismatch returns the attributes requested by only one side.
func MaskMismatch(old, new *record.Record) attr.Set {
	return (old.Mask ^ new.Mask).Minus(attr.Grants)
}

//nolint:gocyclo // one case per attribute family
func differs(a attr.Attr, old, new *record.Record) bool {
	switch a {
	case attr.LinkName:
		return old.LinkTarget != new.LinkTarget
	case attr.Perm:
		return old.Perm() != new.Perm()
	case attr.Type:
		return old.Type != new.Type
	case attr.Inode:
		return old.Inode != new.Inode
	case attr.LinkCount:
		return old.LinkCount != new.LinkCount
	case attr.UID:
		return old.UID != new.UID
	case attr.GID:
		return old.GID != new.GID
	case attr.Size:
		return old.Size != new.Size
	case attr.SizeGrow:
		return new.Size > old.Size
	case attr.Blocks:
		return old.Blocks != new.Blocks
	case attr.Atime:
		return !old.Atime.Equal(new.Atime)
	case attr.Mtime:
		return !old.Mtime.Equal(new.Mtime)
	case attr.Ctime:
		return !old.Ctime.Equal(new.Ctime)
	case attr.MD5, attr.SHA1, attr.SHA256, attr.SHA512, attr.BLAKE3, attr.XXH64:
		return digestDiffers(old.Digests[a], new.Digests[a])
	case attr.ACL:
		return !old.ACL.Equal(new.ACL)
	case attr.Xattrs:
		return !xattrsEqual(old.Xattrs, new.Xattrs)
	case attr.SELinux:
		return !optStringEqual(old.SELinux, new.SELinux)
	case attr.FSFlags:
		return old.FSFlags^new.FSFlags != 0
	case attr.Caps:
		return !optStringEqual(old.Caps, new.Caps)
	default:
		return false
	}
}

func digestDiffers(x, y []byte) bool {
	if x == nil || y == nil {
		return (x == nil) != (y == nil)
	}
	return !bytes.Equal(x, y)
}

func optStringEqual(x, y *string) bool {
	if x == nil || y == nil {
		return x == nil && y == nil
	}
	return *x == *y
}

func xattrsEqual(x, y []record.Xattr) bool {
	if len(x) != len(y) {
		return false
	}
	xs, ys := sortedXattrs(x), sortedXattrs(y)
	for i := range xs {
		if xs[i].Name != ys[i].Name || !bytes.Equal(xs[i].Value, ys[i].Value) {
			return false
		}
	}
	return true
}

func sortedXattrs(in []record.Xattr) []record.Xattr {
	out := append([]record.Xattr(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
