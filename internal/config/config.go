package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/amirbrooks/tro/internal/trello"
)

const (
	BackendTrello = "trello"
	BackendLocal  = "local"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Key      string        `mapstructure:"key" yaml:"key"`
	Token    string        `mapstructure:"token" yaml:"token"`
	Editor   string        `mapstructure:"editor" yaml:"editor,omitempty"`
	Backend  string        `mapstructure:"backend" yaml:"backend"`
	Root     string        `mapstructure:"root" yaml:"root,omitempty"`
	LogLevel string        `mapstructure:"log_level" yaml:"log_level,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`

	// Path is the file the config was read from, empty if none existed.
	Path string `mapstructure:"-" yaml:"-"`
}

func DefaultConfig() *Config {
	return &Config{
		Host:     trello.DefaultHost,
		Backend:  BackendTrello,
		Root:     DefaultRoot(),
		LogLevel: "info",
	}
}

// DefaultPath is <user config dir>/tro/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "tro", "config.yaml")
}

// DefaultRoot is where the local backend keeps its boards.
func DefaultRoot() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		return filepath.Join(".tro", "local")
	}
	return filepath.Join(home, ".tro", "local")
}

// Load reads defaults, then the YAML file at path (DefaultPath when empty),
// then TRO_* environment variables. A missing file is not an error.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	path = ExpandHome(path)

	def := DefaultConfig()
	v := viper.New()
	v.SetDefault("host", def.Host)
	v.SetDefault("key", "")
	v.SetDefault("token", "")
	v.SetDefault("editor", "")
	v.SetDefault("backend", def.Backend)
	v.SetDefault("root", def.Root)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("timeout", "0s")
	v.SetEnvPrefix("TRO")
	v.AutomaticEnv()

	found := false
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		found = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if found {
		cfg.Path = path
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	cfg.Root = ExpandHome(cfg.Root)
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Root) == "" {
			return fmt.Errorf("%w: root is required for the local backend", ErrInvalid)
		}
	case BackendTrello:
		var missing []string
		if strings.TrimSpace(c.Host) == "" {
			missing = append(missing, "host")
		}
		if strings.TrimSpace(c.Key) == "" {
			missing = append(missing, "key")
		}
		if strings.TrimSpace(c.Token) == "" {
			missing = append(missing, "token")
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: missing %s (set them in %s or TRO_* env)", ErrInvalid, strings.Join(missing, ", "), DefaultPath())
		}
	default:
		return fmt.Errorf("%w: unknown backend %q (use trello|local)", ErrInvalid, c.Backend)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalid)
	}
	return nil
}

func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(c.LogLevel))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Masked returns a copy safe to print.
func (c *Config) Masked() Config {
	out := *c
	out.Key = mask(out.Key)
	out.Token = mask(out.Token)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// WriteDefault writes a starter config file. An existing file is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	path = ExpandHome(path)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	cfg := DefaultConfig()
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	header := "# tro configuration\n" +
		"# key and token come from https://trello.com/app-key\n" +
		"# backend: trello | local\n"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append([]byte(header), b...), 0o600)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~"+string(os.PathSeparator)) || path == "~" {
		home, _ := os.UserHomeDir()
		if home != "" {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
