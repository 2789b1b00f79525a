package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the optional vigil configuration file.
type Config struct {
	Groups      map[string]string `toml:"groups"`
	Defaults    DefaultsConfig    `toml:"defaults"`
	LogRotation LogRotationConfig `toml:"log_rotation"`
	Theme       ThemeConfig       `toml:"theme"`
}

// DefaultsConfig holds persistent flag defaults. Nil fields leave the
// flag default in place.
type DefaultsConfig struct {
	Rules        *string `toml:"rules"`
	Database     *string `toml:"database"`
	DatabaseOut  *string `toml:"database_out"`
	RootPrefix   *string `toml:"root_prefix"`
	Workers      *int    `toml:"workers" validate:"omitempty,min=1,max=256"`
	BWLimit      *string `toml:"bwlimit"`
	ReportFormat *string `toml:"report_format" validate:"omitempty,oneof=plain json"`
	Log          *string `toml:"log"`
}

// LogRotationConfig bounds the --log file. Sizes are in megabytes, ages
// in days; zero keeps the library default.
type LogRotationConfig struct {
	MaxSize    int  `toml:"max_size" validate:"min=0"`
	MaxBackups int  `toml:"max_backups" validate:"min=0"`
	MaxAge     int  `toml:"max_age" validate:"min=0"`
	Compress   bool `toml:"compress"`
}

// ThemeConfig holds optional colour overrides for plain reports.
type ThemeConfig struct {
	Heading *string `toml:"heading" validate:"omitempty,hexcolor"`
	Added   *string `toml:"added" validate:"omitempty,hexcolor"`
	Removed *string `toml:"removed" validate:"omitempty,hexcolor"`
	Changed *string `toml:"changed" validate:"omitempty,hexcolor"`
}

// Path returns the default location of the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "vigil", "config.toml")
}

// Load reads and validates the config file at path. An empty path means
// the default location, which may be absent; an explicit path must exist.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = Path()
		if path == "" {
			return Config{}, nil
		}
	}

	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// GroupNames returns the configured group names in sorted order.
func (c Config) GroupNames() []string {
	names := make([]string, 0, len(c.Groups))
	for n := range c.Groups {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
