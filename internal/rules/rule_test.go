package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/vigil/internal/attr"
)

func TestCompileRejectsRelativePattern(t *testing.T) {
	_, err := Compile("etc", Selective, attr.AnyType, attr.Of(attr.Perm), Origin{})
	require.ErrorIs(t, err, ErrNotAbsolute)
}

func TestCompileRejectsInvalidRegex(t *testing.T) {
	_, err := Compile("/etc/(", Selective, attr.AnyType, attr.Of(attr.Perm), Origin{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"/etc/("`)
}

func TestScope(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"/", "/"},
		{"/dev", "/"},
		{"/dev/", "/dev"},
		{"/etc/ssh/sshd_config", "/etc/ssh"},
		{`/etc/.*\.conf`, "/etc"},
		{"/etc/*", "/"},
		{"/etc/(a|b)", "/etc"},
		{"/var/log/[a-z]+", "/var/log"},
		{"/a/b|/c/d", "/"},
		{"/a/[|]x", "/a"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			r := MustCompile(tt.pattern, Selective, attr.AnyType, attr.Of(attr.Perm))
			assert.Equal(t, tt.want, r.Scope())
		})
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		kind    Kind
		wantEnd int
		wantOK  bool
	}{
		{"prefix exact", "/dev", "/dev", Selective, 4, true},
		{"prefix below", "/dev", "/dev/sda", Selective, 4, true},
		{"prefix miss", "/dev", "/etc", Selective, 0, false},
		{"longest alternative", "/dev|/dev/sda", "/dev/sda", Selective, 8, true},
		{"equal exact", "/dev", "/dev", Equal, 4, true},
		{"equal below", "/dev", "/dev/sda", Equal, 0, false},
		{"equal children dir", "/dev/", "/dev", Equal, 0, false},
		{"equal children child", "/dev/", "/dev/sda", Equal, 8, true},
		{"equal children grandchild", "/dev/", "/dev/pts/0", Equal, 0, false},
		{"equal root", "/", "/", Equal, 1, true},
		{"equal root child", "/", "/etc", Equal, 4, true},
		{"equal root grandchild", "/", "/etc/x", Equal, 0, false},
		{"negative prefix", "/dev", "/dev/pts/0", NegativeRecursive, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := MustCompile(tt.pattern, tt.kind, attr.AnyType, attr.Of(attr.Perm))
			end, ok := r.Match(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestLive(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		kind    Kind
		want    bool
	}{
		{"equal from root", "/dev", "/", Equal, true},
		{"equal at target", "/dev", "/dev", Equal, false},
		{"equal elsewhere", "/dev", "/etc", Equal, false},
		{"children from root", "/dev/", "/", Equal, true},
		{"children from dir", "/dev/", "/dev", Equal, true},
		{"children from child", "/dev/", "/dev/sda", Equal, false},
		{"selective ancestor", "/etc/ssh", "/etc", Selective, true},
		{"selective sibling", "/etc/ssh", "/var", Selective, false},
		{"selective matched", "/etc/ssh", "/etc/ssh", Selective, true},
		{"end anchor", "/etc$", "/etc", Selective, false},
		{"end anchor from root", "/etc$", "/", Selective, true},
		{"class", "/home/[a-z]+/.ssh", "/home/bob", Selective, true},
		{"class miss", "/home/[a-z]+/.ssh", "/home/B0B", Selective, false},
		{"dot star", "/var/.*/log", "/var/lib/x", Selective, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := MustCompile(tt.pattern, tt.kind, attr.AnyType, attr.Of(attr.Perm))
			assert.Equal(t, tt.want, r.Live(tt.path))
		})
	}
}

func TestAdmits(t *testing.T) {
	r := MustCompile("/etc", Selective, attr.Regular|attr.Directory, attr.Of(attr.Perm))
	assert.True(t, r.Admits(attr.Regular))
	assert.True(t, r.Admits(attr.Directory))
	assert.False(t, r.Admits(attr.Symlink))

	unrestricted := MustCompile("/etc", Selective, attr.AnyType, attr.Of(attr.Perm))
	assert.True(t, unrestricted.Admits(attr.Socket))
}

func TestNegativeRulesCarryNoAttributes(t *testing.T) {
	r, err := Compile("/proc", NegativeRecursive, attr.AnyType, attr.Of(attr.Perm), Origin{})
	require.NoError(t, err)
	assert.True(t, r.Attrs().Empty())
	assert.True(t, r.Kind().Negative())
	assert.False(t, Equal.Negative())
}

func TestRuleString(t *testing.T) {
	r := MustCompile("/etc", Selective, attr.Regular|attr.Directory, attr.Of(attr.Perm, attr.UID))
	assert.Equal(t, "/etc f,d p+u", r.String())
	assert.Equal(t, "!/proc", MustCompile("/proc", NegativeRecursive, attr.AnyType, 0).String())
	assert.Equal(t, "=/dev/ E", MustCompile("/dev/", Equal, attr.AnyType, 0).String())
}

func TestOriginString(t *testing.T) {
	assert.Equal(t, "vigil.rules:3", Origin{File: "vigil.rules", Line: 3}.String())
	assert.Equal(t, "line 4", Origin{Line: 4}.String())
	assert.Equal(t, "/etc R", Origin{Text: "/etc R"}.String())
}

func TestLimit(t *testing.T) {
	l, err := NewLimit("/etc/ssh")
	require.NoError(t, err)

	assert.Equal(t, LimitFull, l.Check("/etc/ssh"))
	assert.Equal(t, LimitFull, l.Check("/etc/ssh/sshd_config"))
	assert.Equal(t, LimitPartial, l.Check("/etc"))
	assert.Equal(t, LimitPartial, l.Check("/"))
	assert.Equal(t, LimitNone, l.Check("/var"))

	var none *Limit
	assert.Equal(t, LimitFull, none.Check("/anything"))

	_, err = NewLimit("etc")
	require.ErrorIs(t, err, ErrNotAbsolute)
}
