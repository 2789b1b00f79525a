package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bamsammich/vigil/internal/attr"
	"github.com/bamsammich/vigil/internal/record"
)

func TestFormatPerm(t *testing.T) {
	tests := []struct {
		mode uint32
		ft   attr.FileType
		want string
	}{
		{0o100644, attr.Regular, "-rw-r--r--"},
		{0o104755, attr.Regular, "-rwsr-xr-x"},
		{0o102640, attr.Regular, "-rw-r-S---"},
		{0o41777, attr.Directory, "drwxrwxrwt"},
		{0o41776, attr.Directory, "drwxrwxrwT"},
		{0o120777, attr.Symlink, "lrwxrwxrwx"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatPerm(tt.mode, tt.ft))
		})
	}
}

func TestFormatValue(t *testing.T) {
	sel := "system_u:object_r:etc_t:s0"
	r := &record.Record{
		Path:       "/etc/hosts",
		LinkTarget: "/target",
		Type:       attr.Regular,
		Mode:       0o100600,
		UID:        1000,
		Size:       42,
		Mtime:      time.Unix(100, 0),
		SELinux:    &sel,
		ACL:        &record.ACL{Access: []record.ACLEntry{{Tag: record.ACLUserObj, Perm: 6}}},
	}
	r.SetDigest(attr.SHA256, []byte{1, 2, 3})

	tests := []struct {
		a    attr.Attr
		want string
	}{
		{attr.LinkName, "/target"},
		{attr.Perm, "-rw-------"},
		{attr.Type, "File"},
		{attr.UID, "1000"},
		{attr.Size, "42"},
		{attr.SizeGrow, "42"},
		{attr.Mtime, "1970-01-01 00:01:40 +0000"},
		{attr.Atime, "<none>"},
		{attr.SHA256, "AQID"},
		{attr.MD5, "<absent>"},
		{attr.ACL, "A: user::rw- D: <none>"},
		{attr.SELinux, sel},
		{attr.Caps, "<none>"},
		{attr.Xattrs, "num=0"},
	}
	for _, tt := range tests {
		t.Run(tt.a.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.a, r))
		})
	}
}

func TestFormatXattrs(t *testing.T) {
	xs := []record.Xattr{
		{Name: "user.b", Value: []byte("2")},
		{Name: "user.a", Value: []byte{0, 1}},
	}
	assert.Equal(t, "num=2 user.a=base64:AAE= user.b=2", FormatXattrs(xs))
}

func TestFormatFSFlags(t *testing.T) {
	assert.Equal(t, "---------------------", FormatFSFlags(0))
	assert.Equal(t, "----i---------e------", FormatFSFlags(0x10|0x80000))
	assert.Equal(t, "--------------------- (0x4000000)", FormatFSFlags(0x04000000))
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-1234, "-1,234"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatCount(tt.input))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "45s", FormatDuration(45*time.Second))
	assert.Equal(t, "2m 05s", FormatDuration(125*time.Second))
	assert.Equal(t, "1h 01m 01s", FormatDuration(3661*time.Second))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "E2FSAttrs", Label(attr.FSFlags))
	assert.Equal(t, "ANF", Label(attr.AllowNew))
}
