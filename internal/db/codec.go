package db

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tinylib/msgp/msgp"

	"github.com/bamsammich/vigil/internal/attr"
	"github.com/bamsammich/vigil/internal/record"
)

// Record keys. Short because they repeat once per entry.
const (
	keyPath    = "path"
	keyLink    = "lnk"
	keyType    = "ft"
	keyMode    = "mode"
	keyUID     = "uid"
	keyGID     = "gid"
	keyAtime   = "at"
	keyMtime   = "mt"
	keyCtime   = "ct"
	keyInode   = "ino"
	keyNLink   = "nl"
	keySize    = "sz"
	keyBlocks  = "bl"
	keyDigests = "dg"
	keyACL     = "acl"
	keyXattrs  = "xa"
	keySELinux = "se"
	keyFlags   = "ff"
	keyCaps    = "cap"
	keyMask    = "mask"
)

// AppendRecord appends the MessagePack encoding of rec to b. Only fields
// in rec.Mask are written, plus path, type, mode and mask.
func AppendRecord(b []byte, rec *record.Record) []byte {
	m := rec.Mask
	n := uint32(4)
	count := func(cond bool) {
		if cond {
			n++
		}
	}
	count(m.Has(attr.LinkName))
	count(m.Has(attr.UID))
	count(m.Has(attr.GID))
	count(m.Has(attr.Atime))
	count(m.Has(attr.Mtime))
	count(m.Has(attr.Ctime))
	count(m.Has(attr.Inode))
	count(m.Has(attr.LinkCount))
	count(m.Has(attr.Size) || m.Has(attr.SizeGrow))
	count(m.Has(attr.Blocks))
	count(!m.Intersect(attr.Digests).Empty())
	count(m.Has(attr.ACL))
	count(m.Has(attr.Xattrs))
	count(m.Has(attr.SELinux))
	count(m.Has(attr.FSFlags))
	count(m.Has(attr.Caps))

	b = msgp.AppendMapHeader(b, n)
	b = msgp.AppendString(b, keyPath)
	b = msgp.AppendString(b, rec.Path)
	b = msgp.AppendString(b, keyType)
	b = msgp.AppendUint16(b, uint16(rec.Type))
	b = msgp.AppendString(b, keyMode)
	b = msgp.AppendUint32(b, rec.Mode)
	b = msgp.AppendString(b, keyMask)
	b = msgp.AppendUint64(b, m.Bits())

	if m.Has(attr.LinkName) {
		b = msgp.AppendString(b, keyLink)
		b = msgp.AppendString(b, rec.LinkTarget)
	}
	if m.Has(attr.UID) {
		b = msgp.AppendString(b, keyUID)
		b = msgp.AppendUint32(b, rec.UID)
	}
	if m.Has(attr.GID) {
		b = msgp.AppendString(b, keyGID)
		b = msgp.AppendUint32(b, rec.GID)
	}
	if m.Has(attr.Atime) {
		b = appendTime(b, keyAtime, rec.Atime)
	}
	if m.Has(attr.Mtime) {
		b = appendTime(b, keyMtime, rec.Mtime)
	}
	if m.Has(attr.Ctime) {
		b = appendTime(b, keyCtime, rec.Ctime)
	}
	if m.Has(attr.Inode) {
		b = msgp.AppendString(b, keyInode)
		b = msgp.AppendUint64(b, rec.Inode)
	}
	if m.Has(attr.LinkCount) {
		b = msgp.AppendString(b, keyNLink)
		b = msgp.AppendUint64(b, rec.LinkCount)
	}
	if m.Has(attr.Size) || m.Has(attr.SizeGrow) {
		b = msgp.AppendString(b, keySize)
		b = msgp.AppendInt64(b, rec.Size)
	}
	if m.Has(attr.Blocks) {
		b = msgp.AppendString(b, keyBlocks)
		b = msgp.AppendInt64(b, rec.Blocks)
	}
	if digests := m.Intersect(attr.Digests); !digests.Empty() {
		b = msgp.AppendString(b, keyDigests)
		b = appendDigests(b, digests, rec.Digests)
	}
	if m.Has(attr.ACL) {
		b = msgp.AppendString(b, keyACL)
		b = appendACL(b, rec.ACL)
	}
	if m.Has(attr.Xattrs) {
		b = msgp.AppendString(b, keyXattrs)
		b = appendXattrs(b, rec.Xattrs)
	}
	if m.Has(attr.SELinux) {
		b = appendOptString(b, keySELinux, rec.SELinux)
	}
	if m.Has(attr.FSFlags) {
		b = msgp.AppendString(b, keyFlags)
		b = msgp.AppendUint32(b, rec.FSFlags)
	}
	if m.Has(attr.Caps) {
		b = appendOptString(b, keyCaps, rec.Caps)
	}
	return b
}

func appendTime(b []byte, key string, t time.Time) []byte {
	b = msgp.AppendString(b, key)
	return msgp.AppendInt64(b, t.UnixNano())
}

func appendOptString(b []byte, key string, s *string) []byte {
	b = msgp.AppendString(b, key)
	if s == nil {
		return msgp.AppendNil(b)
	}
	return msgp.AppendString(b, *s)
}

// appendDigests writes only the digests actually present; a requested but
// missing digest is recovered from the mask on decode.
func appendDigests(b []byte, want attr.Set, digests map[attr.Attr][]byte) []byte {
	var present []attr.Attr
	for _, a := range want.Attrs() {
		if _, ok := digests[a]; ok {
			present = append(present, a)
		}
	}
	b = msgp.AppendMapHeader(b, uint32(len(present)))
	for _, a := range present {
		b = msgp.AppendString(b, a.String())
		b = msgp.AppendBytes(b, digests[a])
	}
	return b
}

func appendACL(b []byte, acl *record.ACL) []byte {
	if acl == nil {
		return msgp.AppendNil(b)
	}
	b = msgp.AppendArrayHeader(b, 2)
	b = appendACLEntries(b, acl.Access)
	return appendACLEntries(b, acl.Default)
}

func appendACLEntries(b []byte, entries []record.ACLEntry) []byte {
	b = msgp.AppendArrayHeader(b, uint32(len(entries)))
	for _, e := range entries {
		b = msgp.AppendArrayHeader(b, 3)
		b = msgp.AppendUint16(b, uint16(e.Tag))
		b = msgp.AppendUint16(b, e.Perm)
		b = msgp.AppendUint32(b, e.ID)
	}
	return b
}

func appendXattrs(b []byte, xs []record.Xattr) []byte {
	sorted := append([]record.Xattr(nil), xs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	b = msgp.AppendMapHeader(b, uint32(len(sorted)))
	for _, x := range sorted {
		b = msgp.AppendString(b, x.Name)
		b = msgp.AppendBytes(b, x.Value)
	}
	return b
}

// DecodeRecord decodes one record from the front of b and returns the
// remaining bytes. Unknown keys are skipped.
//
//nolint:gocyclo // one case per key
func DecodeRecord(b []byte) (*record.Record, []byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, b, fmt.Errorf("record header: %w", err)
	}
	rec := &record.Record{}
	var mask uint64
	for range n {
		var key []byte
		key, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return nil, b, fmt.Errorf("record key: %w", err)
		}
		switch string(key) {
		case keyPath:
			rec.Path, b, err = msgp.ReadStringBytes(b)
		case keyLink:
			rec.LinkTarget, b, err = msgp.ReadStringBytes(b)
		case keyType:
			var ft uint16
			ft, b, err = msgp.ReadUint16Bytes(b)
			rec.Type = attr.FileType(ft)
		case keyMode:
			rec.Mode, b, err = msgp.ReadUint32Bytes(b)
		case keyMask:
			mask, b, err = msgp.ReadUint64Bytes(b)
		case keyUID:
			rec.UID, b, err = msgp.ReadUint32Bytes(b)
		case keyGID:
			rec.GID, b, err = msgp.ReadUint32Bytes(b)
		case keyAtime:
			rec.Atime, b, err = readTime(b)
		case keyMtime:
			rec.Mtime, b, err = readTime(b)
		case keyCtime:
			rec.Ctime, b, err = readTime(b)
		case keyInode:
			rec.Inode, b, err = msgp.ReadUint64Bytes(b)
		case keyNLink:
			rec.LinkCount, b, err = msgp.ReadUint64Bytes(b)
		case keySize:
			rec.Size, b, err = msgp.ReadInt64Bytes(b)
		case keyBlocks:
			rec.Blocks, b, err = msgp.ReadInt64Bytes(b)
		case keyDigests:
			rec.Digests, b, err = readDigests(b)
		case keyACL:
			rec.ACL, b, err = readACL(b)
		case keyXattrs:
			rec.Xattrs, b, err = readXattrs(b)
		case keySELinux:
			rec.SELinux, b, err = readOptString(b)
		case keyFlags:
			rec.FSFlags, b, err = msgp.ReadUint32Bytes(b)
		case keyCaps:
			rec.Caps, b, err = readOptString(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return nil, b, fmt.Errorf("record field %q: %w", key, err)
		}
	}
	if rec.Path == "" {
		return nil, b, errors.New("record without path")
	}
	if rec.Mask, err = attr.FromBits(mask); err != nil {
		return nil, b, fmt.Errorf("record %s: %w", rec.Path, err)
	}
	return rec, b, nil
}

func readTime(b []byte) (time.Time, []byte, error) {
	ns, b, err := msgp.ReadInt64Bytes(b)
	if err != nil {
		return time.Time{}, b, err
	}
	return time.Unix(0, ns), b, nil
}

func readOptString(b []byte) (*string, []byte, error) {
	if msgp.IsNil(b) {
		b, err := msgp.ReadNilBytes(b)
		return nil, b, err
	}
	s, b, err := msgp.ReadStringBytes(b)
	if err != nil {
		return nil, b, err
	}
	return &s, b, nil
}

func readDigests(b []byte) (map[attr.Attr][]byte, []byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil || n == 0 {
		return nil, b, err
	}
	out := make(map[attr.Attr][]byte, n)
	for range n {
		var name string
		var sum []byte
		if name, b, err = msgp.ReadStringBytes(b); err != nil {
			return nil, b, err
		}
		if sum, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
			return nil, b, err
		}
		a, ok := attr.Lookup(name)
		if !ok || !attr.Digests.Has(a) {
			return nil, b, fmt.Errorf("unknown digest %q", name)
		}
		out[a] = sum
	}
	return out, b, nil
}

func readACL(b []byte) (*record.ACL, []byte, error) {
	if msgp.IsNil(b) {
		b, err := msgp.ReadNilBytes(b)
		return nil, b, err
	}
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, b, err
	}
	if n != 2 {
		return nil, b, fmt.Errorf("acl: want 2 lists, got %d", n)
	}
	acl := &record.ACL{}
	if acl.Access, b, err = readACLEntries(b); err != nil {
		return nil, b, err
	}
	if acl.Default, b, err = readACLEntries(b); err != nil {
		return nil, b, err
	}
	return acl, b, nil
}

func readACLEntries(b []byte) ([]record.ACLEntry, []byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil || n == 0 {
		return nil, b, err
	}
	out := make([]record.ACLEntry, n)
	for i := range out {
		var fields uint32
		if fields, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
			return nil, b, err
		}
		if fields != 3 {
			return nil, b, fmt.Errorf("acl entry: want 3 fields, got %d", fields)
		}
		var tag uint16
		if tag, b, err = msgp.ReadUint16Bytes(b); err != nil {
			return nil, b, err
		}
		out[i].Tag = record.ACLTag(tag)
		if out[i].Perm, b, err = msgp.ReadUint16Bytes(b); err != nil {
			return nil, b, err
		}
		if out[i].ID, b, err = msgp.ReadUint32Bytes(b); err != nil {
			return nil, b, err
		}
	}
	return out, b, nil
}

func readXattrs(b []byte) ([]record.Xattr, []byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil || n == 0 {
		return nil, b, err
	}
	out := make([]record.Xattr, n)
	for i := range out {
		if out[i].Name, b, err = msgp.ReadStringBytes(b); err != nil {
			return nil, b, err
		}
		if out[i].Value, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
			return nil, b, err
		}
	}
	return out, b, nil
}
