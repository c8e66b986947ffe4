package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whimmy-ai/whimmy-plugin/internal/conn"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	t.Setenv(EnvHost, "")
	t.Setenv(EnvToken, "")
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "whimmy.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Accounts)
	assert.Equal(t, filepath.Join(dir, "workspace"), cfg.WorkspaceDir)
	assert.Equal(t, filepath.Join(dir, "agents.yaml"), cfg.AgentsFile)
	assert.Equal(t, "127.0.0.1:7788", cfg.Status.Listen)
	assert.True(t, cfg.Status.IsEnabled())
	assert.Equal(t, 4096, cfg.TokenTracker.MaxSessions)
	assert.Equal(t, 120000, cfg.Approvals.DefaultTimeoutMs)
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Setenv(EnvHost, "")
	t.Setenv(EnvToken, "from-env")
	t.Setenv(EnvLogLevel, "debug")

	path := filepath.Join(t.TempDir(), "whimmy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
accounts:
  default:
    host: example.test
    token: file-token
  work:
    host: work.test:8080
    token: "keyring:work"
    use_tls: false
    enabled: false
status:
  listen: 127.0.0.1:9999
models:
  sync_schedule: "@every 5m"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"default", "work"}, cfg.AccountIDs())
	assert.Equal(t, "example.test", cfg.Accounts["default"].Host)
	assert.Equal(t, "from-env", cfg.Accounts["default"].Token)
	assert.True(t, cfg.Accounts["default"].TLS())
	assert.False(t, cfg.Accounts["work"].TLS())
	assert.False(t, cfg.Accounts["work"].IsEnabled())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "@every 5m", cfg.Models.SyncSchedule)
	assert.Equal(t, "127.0.0.1:9999", cfg.Status.Listen)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whimmy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("accounts: [oops"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestAccountResolve(t *testing.T) {
	off := false
	info, err := Account{Host: "h", Token: "t", UseTLS: &off}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, conn.Info{Host: "h", Token: "t"}, info)

	_, err = Account{Token: "t"}.Resolve()
	assert.Error(t, err)
	_, err = Account{Host: "h"}.Resolve()
	assert.Error(t, err)
}

func TestWriteRoundTrip(t *testing.T) {
	t.Setenv(EnvHost, "")
	t.Setenv(EnvToken, "")
	path := filepath.Join(t.TempDir(), "nested", "whimmy.yaml")

	cfg := DefaultConfig(filepath.Dir(path))
	cfg.SetAccount("default", conn.Info{Host: "h.test", UseTLS: false}, "keyring:default")
	require.NoError(t, Write(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, got.Accounts, "default")
	assert.Equal(t, "keyring:default", got.Accounts["default"].Token)
	assert.False(t, got.Accounts["default"].TLS())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestWatchReloads(t *testing.T) {
	t.Setenv(EnvHost, "")
	t.Setenv(EnvToken, "")
	path := filepath.Join(t.TempDir(), "whimmy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("status:\n  listen: a:1\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, path, func(c *Config) { got <- c }))

	require.NoError(t, os.WriteFile(path, []byte("status:\n  listen: b:2\n"), 0o600))

	select {
	case c := <-got:
		assert.Equal(t, "b:2", c.Status.Listen)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload")
	}
}
