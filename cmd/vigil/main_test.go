package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/vigil/internal/reconcile"
)

const testRules = `# directories by ownership and mode, files by content too
/ d p+ftype+u+g
/ f p+ftype+u+g+s+sha256
!/proc
`

type fixture struct {
	root  string
	state string
	rules string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	f := &fixture{root: t.TempDir(), state: t.TempDir()}
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "etc"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "proc"), 0o755))
	f.write(t, "etc/hosts", "127.0.0.1 localhost\n")
	f.write(t, "etc/motd", "welcome\n")
	f.write(t, "proc/noise", "ignored\n")

	f.rules = filepath.Join(f.state, "vigil.rules")
	require.NoError(t, os.WriteFile(f.rules, []byte(testRules), 0o644))
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.root, rel), []byte(content), 0o644))
}

func (f *fixture) db(name string) string {
	return "file:" + filepath.Join(f.state, name)
}

// vigil runs the CLI and returns the exit code and stdout.
func (f *fixture) vigil(t *testing.T, args ...string) (int, string) {
	t.Helper()
	base := []string{"--rules", f.rules, "--root-prefix", f.root, "-q"}
	var stdout, stderr bytes.Buffer
	code := run(append(args, base...), &stdout, &stderr)
	t.Logf("vigil %v -> %d\n%s", args, code, stderr.String())
	return code, stdout.String()
}

func TestVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run([]string{"--version"}, &stdout, &stderr))
	assert.Equal(t, "vigil dev\n", stdout.String())
}

func TestInitCheckUpdateCycle(t *testing.T) {
	f := newFixture(t)
	first, second := f.db("vigil.db"), f.db("vigil.db.new")

	code, out := f.vigil(t, "init", "--database-out", first)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "vigil initialized a new database.")
	assert.Contains(t, out, "Number of entries:         4")

	code, out = f.vigil(t, "check", "--database", first)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "NO differences")

	f.write(t, "etc/hosts", "127.0.0.1 localhost\n10.0.0.1 gateway\n")
	f.write(t, "etc/issue", "new\n")
	require.NoError(t, os.Remove(filepath.Join(f.root, "etc/motd")))
	f.write(t, "proc/noise", "still ignored\n")

	code, out = f.vigil(t, "check", "--database", first)
	assert.Equal(t, exitAdded|exitRemoved|exitChanged, code)
	assert.Contains(t, out, ": /etc/issue")
	assert.Contains(t, out, ": /etc/motd")
	assert.Contains(t, out, "File: /etc/hosts")
	assert.NotContains(t, out, "/proc")

	code, _ = f.vigil(t, "update", "--database", first, "--database-out", second)
	assert.Equal(t, exitAdded|exitRemoved|exitChanged, code)

	code, out = f.vigil(t, "check", "--database", second)
	assert.Equal(t, 0, code, out)

	code, out = f.vigil(t, "compare", first, second)
	assert.Equal(t, exitAdded|exitRemoved|exitChanged, code)
	assert.Contains(t, out, "between the two databases")
}

func TestCheckJSONReport(t *testing.T) {
	f := newFixture(t)
	code, _ := f.vigil(t, "init", "--database-out", f.db("vigil.db"))
	require.Equal(t, 0, code)

	f.write(t, "etc/new", "x")
	code, out := f.vigil(t, "check", "--database", f.db("vigil.db"), "--report-format", "json")
	require.Equal(t, exitAdded, code)

	var got struct {
		Mode    string `json:"mode"`
		Differs bool   `json:"differs"`
		Added   []struct {
			Path string `json:"path"`
		} `json:"added"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "check", got.Mode)
	assert.True(t, got.Differs)
	require.Len(t, got.Added, 1)
	assert.Equal(t, "/etc/new", got.Added[0].Path)
}

func TestKeyedBackends(t *testing.T) {
	for _, loc := range []string{"sqlite:vigil.sqlite", "badger:vigil.d"} {
		t.Run(loc, func(t *testing.T) {
			f := newFixture(t)
			scheme, name, _ := strings.Cut(loc, ":")
			dbURL := scheme + ":" + filepath.Join(f.state, name)

			code, _ := f.vigil(t, "init", "--database-out", dbURL)
			require.Equal(t, 0, code)
			code, _ = f.vigil(t, "check", "--database", dbURL)
			assert.Equal(t, 0, code)

			f.write(t, "etc/motd", "other\n")
			code, _ = f.vigil(t, "check", "--database", dbURL)
			assert.Equal(t, exitChanged, code)
		})
	}
}

func TestLimitRestrictsCheck(t *testing.T) {
	f := newFixture(t)
	code, _ := f.vigil(t, "init", "--database-out", f.db("vigil.db"))
	require.Equal(t, 0, code)

	f.write(t, "etc/hosts", "changed\n")
	code, _ = f.vigil(t, "check", "--database", f.db("vigil.db"), "--limit", "/etc/motd")
	assert.Equal(t, 0, code)
	code, _ = f.vigil(t, "check", "--database", f.db("vigil.db"), "--limit", "/etc/hosts")
	assert.Equal(t, exitChanged, code)
}

func TestConfigDefaultsApply(t *testing.T) {
	f := newFixture(t)
	cfgPath := filepath.Join(f.state, "config.toml")
	cfg := "[defaults]\nreport_format = \"json\"\ndatabase = \"" + f.db("vigil.db") + "\"\ndatabase_out = \"" + f.db("vigil.db") + "\"\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	code, _ := f.vigil(t, "init", "--config", cfgPath, "--report-format", "plain")
	require.Equal(t, 0, code)
	code, out := f.vigil(t, "check", "--config", cfgPath)
	require.Equal(t, 0, code)
	assert.True(t, json.Valid([]byte(out)), out)
}

func TestConfigCheck(t *testing.T) {
	f := newFixture(t)
	cfgPath := filepath.Join(f.state, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[groups]\nOWNER = \"u+g\"\n"), 0o644))
	require.NoError(t, os.WriteFile(f.rules, []byte("/etc OWNER+p\n"), 0o644))

	code, out := f.vigil(t, "config-check", "--config", cfgPath)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "1 rules, 1 config groups OK")
	assert.NotContains(t, out, "PATTERN")

	code, out = f.vigil(t, "config-check", "--config", cfgPath, "-v")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "PATTERN")
	assert.Contains(t, out, "p+u+g")
}

func TestConfigErrors(t *testing.T) {
	f := newFixture(t)
	badCfg := filepath.Join(f.state, "bad.toml")
	require.NoError(t, os.WriteFile(badCfg, []byte("[defaults]\nworkers = 0\n"), 0o644))
	unknownKey := filepath.Join(f.state, "unknown.toml")
	require.NoError(t, os.WriteFile(unknownKey, []byte("colour = true\n"), 0o644))
	badRules := filepath.Join(f.state, "bad.rules")
	require.NoError(t, os.WriteFile(badRules, []byte("etc p\n"), 0o644))

	tests := []struct {
		name string
		args []string
	}{
		{"validation", []string{"config-check", "--config", badCfg}},
		{"unknown key", []string{"config-check", "--config", unknownKey}},
		{"missing explicit config", []string{"config-check", "--config", filepath.Join(f.state, "absent.toml")}},
		{"relative pattern", []string{"config-check", "--rules", badRules}},
		{"bad format", []string{"check", "--report-format", "xml"}},
		{"bad bwlimit", []string{"check", "--bwlimit", "fast"}},
		{"bad limit", []string{"check", "--limit", "/etc/("}},
		{"compare arity", []string{"compare", f.db("one")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			args := append(tt.args, "--root-prefix", f.root)
			if tt.args[1] != "--rules" {
				args = append(args, "--rules", f.rules)
			}
			assert.Equal(t, exitConfig, run(args, &stdout, &stderr))
			assert.Contains(t, stderr.String(), "Error:")
		})
	}
}

func TestMissingDatabaseIsRuntimeError(t *testing.T) {
	f := newFixture(t)
	code, _ := f.vigil(t, "check", "--database", f.db("absent.db"))
	assert.Equal(t, exitRuntime, code)
}

func TestDifferenceCode(t *testing.T) {
	assert.Equal(t, 0, differenceCode(reconcile.Summary{Total: 3, Moved: 1}))
	assert.Equal(t, 1, differenceCode(reconcile.Summary{Added: 2}))
	assert.Equal(t, 6, differenceCode(reconcile.Summary{Removed: 1, Changed: 1}))
	assert.Equal(t, 7, differenceCode(reconcile.Summary{Added: 1, Removed: 1, Changed: 1}))
}
