//go:build linux

package scan

import (
	"errors"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bamsammich/vigil/internal/attr"
	"github.com/bamsammich/vigil/internal/record"
)

const (
	xattrACLAccess  = "system.posix_acl_access"
	xattrACLDefault = "system.posix_acl_default"
	xattrSELinux    = "security.selinux"
	xattrCaps       = "security.capability"
)

// readExtended fills the extended attributes in want and reports the ones
// that could not be read. Attributes the filesystem does not carry are
// recorded as absent, not as failures.
func readExtended(p string, ft attr.FileType, want attr.Set, rec *record.Record) []failure {
	var failed []failure
	done := func(a attr.Attr, err error) {
		if err != nil {
			failed = append(failed, failure{attrs: attr.Of(a), err: err})
			return
		}
		rec.Mask = rec.Mask.With(a)
	}

	if want.Has(attr.Xattrs) {
		xs, err := listXattrs(p)
		rec.Xattrs = xs
		done(attr.Xattrs, err)
	}
	if want.Has(attr.ACL) {
		acl, err := readACL(p, ft)
		rec.ACL = acl
		done(attr.ACL, err)
	}
	if want.Has(attr.SELinux) {
		v, err := lgetxattr(p, xattrSELinux)
		if err == nil && v != nil {
			s := strings.TrimRight(string(v), "\x00")
			rec.SELinux = &s
		}
		done(attr.SELinux, err)
	}
	if want.Has(attr.Caps) {
		v, err := lgetxattr(p, xattrCaps)
		if err == nil && v != nil {
			var s string
			if s, err = decodeCaps(v); err == nil {
				rec.Caps = &s
			}
		}
		done(attr.Caps, err)
	}
	if want.Has(attr.FSFlags) {
		flags, err := fsFlags(p, ft)
		rec.FSFlags = flags
		done(attr.FSFlags, err)
	}
	return failed
}

func absent(err error) bool {
	return errors.Is(err, unix.ENODATA) || errors.Is(err, unix.ENOTSUP)
}

// lgetxattr returns nil, nil when the attribute is not set.
func lgetxattr(p, name string) ([]byte, error) {
	for {
		sz, err := unix.Lgetxattr(p, name, nil)
		if absent(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		buf := make([]byte, sz)
		n, err := unix.Lgetxattr(p, name, buf)
		if errors.Is(err, unix.ERANGE) {
			continue
		}
		if absent(err) {
			return nil, nil
		}
		return buf[:n], err
	}
}

// listXattrs returns the name-sorted xattrs of p except those recorded as
// dedicated attributes.
func listXattrs(p string) ([]record.Xattr, error) {
	var buf []byte
	for {
		sz, err := unix.Llistxattr(p, nil)
		if errors.Is(err, unix.ENOTSUP) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if sz == 0 {
			return nil, nil
		}
		buf = make([]byte, sz)
		n, err := unix.Llistxattr(p, buf)
		if errors.Is(err, unix.ERANGE) {
			continue
		}
		if err != nil {
			return nil, err
		}
		buf = buf[:n]
		break
	}

	var out []record.Xattr
	for _, name := range parseXattrNames(buf) {
		switch name {
		case xattrACLAccess, xattrACLDefault, xattrSELinux, xattrCaps:
			continue
		}
		v, err := lgetxattr(p, name)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		out = append(out, record.Xattr{Name: name, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func readACL(p string, ft attr.FileType) (*record.ACL, error) {
	raw, err := lgetxattr(p, xattrACLAccess)
	if err != nil {
		return nil, err
	}
	var acl record.ACL
	if acl.Access, err = decodeACL(raw); err != nil {
		return nil, err
	}
	if ft == attr.Directory {
		if raw, err = lgetxattr(p, xattrACLDefault); err != nil {
			return nil, err
		}
		if acl.Default, err = decodeACL(raw); err != nil {
			return nil, err
		}
	}
	if acl.Access == nil && acl.Default == nil {
		return nil, nil
	}
	return &acl, nil
}

// fsFlags reads the inode flags of regular files and directories. Other
// types report zero.
func fsFlags(p string, ft attr.FileType) (uint32, error) {
	if ft != attr.Regular && ft != attr.Directory {
		return 0, nil
	}
	fd, err := unix.Open(p, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}
	defer unix.Close(fd)

	flags, err := unix.IoctlGetUint32(fd, unix.FS_IOC_GETFLAGS)
	if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.ENOTSUP) {
		return 0, nil
	}
	return flags, err
}
