package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/amirbrooks/tro/internal/trello"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"TRO_HOST", "TRO_KEY", "TRO_TOKEN", "TRO_EDITOR", "TRO_BACKEND", "TRO_ROOT", "TRO_LOG_LEVEL", "TRO_TIMEOUT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, trello.DefaultHost, cfg.Host)
	require.Equal(t, BackendTrello, cfg.Backend)
	require.Empty(t, cfg.Path)
	require.Error(t, cfg.Validate(), "trello backend needs credentials")
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "host: https://example.test\nkey: abc\ntoken: secret-token\neditor: nano\ntimeout: 15s\nlog_level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://example.test", cfg.Host)
	require.Equal(t, "abc", cfg.Key)
	require.Equal(t, "nano", cfg.Editor)
	require.Equal(t, 15*time.Second, cfg.Timeout)
	require.Equal(t, logrus.DebugLevel, cfg.Level())
	require.Equal(t, path, cfg.Path)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("key: abc\ntoken: from-file\n"), 0o600))
	t.Setenv("TRO_TOKEN", "from-env")
	t.Setenv("TRO_BACKEND", "LOCAL")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Token)
	require.Equal(t, BackendLocal, cfg.Backend)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "jira"
	err := cfg.Validate()
	require.True(t, errors.Is(err, ErrInvalid))
}

func TestMaskedHidesSecrets(t *testing.T) {
	cfg := &Config{Key: "abcdef123456", Token: "xy"}
	m := cfg.Masked()
	require.Equal(t, "********3456", m.Key)
	require.Equal(t, "****", m.Token)
	require.Equal(t, "abcdef123456", cfg.Key, "original is untouched")
}

func TestWriteDefaultThenLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "tro", "config.yaml")
	require.NoError(t, WriteDefault(path, false))
	require.Error(t, WriteDefault(path, false), "existing file is kept without force")
	require.NoError(t, WriteDefault(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, trello.DefaultHost, cfg.Host)
	require.Equal(t, BackendTrello, cfg.Backend)
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.Equal(t, filepath.Join(home, "boards"), ExpandHome("~/boards"))
	require.Equal(t, home, ExpandHome("~"))
	require.Equal(t, "~other/boards", ExpandHome("~other/boards"))
	require.Equal(t, "/abs/boards", ExpandHome("/abs/boards"))
}
