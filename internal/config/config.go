// Package config loads and persists the bridge configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/whimmy-ai/whimmy-plugin/internal/agentsync"
	"github.com/whimmy-ai/whimmy-plugin/internal/conn"
	"github.com/whimmy-ai/whimmy-plugin/internal/defaults"
	"github.com/whimmy-ai/whimmy-plugin/internal/keyring"
	"github.com/whimmy-ai/whimmy-plugin/internal/logging"
	"github.com/whimmy-ai/whimmy-plugin/internal/models"
	"github.com/whimmy-ai/whimmy-plugin/internal/wire"
)

// DefaultAccount is the account id used when none is given.
const DefaultAccount = "default"

// DefaultHost is the public whimmy backend.
const DefaultHost = "api.whimmy.ai"

// Environment overrides.
const (
	EnvHost     = "WHIMMY_HOST"
	EnvToken    = "WHIMMY_TOKEN"
	EnvLogLevel = "WHIMMY_LOG_LEVEL"
)

// Account is one backend account. UseTLS and Enabled default to true.
type Account struct {
	Host    string `yaml:"host"`
	Token   string `yaml:"token"`
	UseTLS  *bool  `yaml:"use_tls,omitempty"`
	Enabled *bool  `yaml:"enabled,omitempty"`
}

// TLS reports whether the account uses wss/https.
func (a Account) TLS() bool { return a.UseTLS == nil || *a.UseTLS }

// IsEnabled reports whether the account should connect on run.
func (a Account) IsEnabled() bool { return a.Enabled == nil || *a.Enabled }

// Resolve returns the account's connection triple, loading keychain tokens.
func (a Account) Resolve() (conn.Info, error) {
	if a.Host == "" {
		return conn.Info{}, errors.New("host is empty")
	}
	tok, err := keyring.Resolve(a.Token)
	if err != nil {
		return conn.Info{}, err
	}
	if tok == "" {
		return conn.Info{}, errors.New("token is empty")
	}
	return conn.Info{Host: a.Host, Token: tok, UseTLS: a.TLS()}, nil
}

// Status configures the local status server.
type Status struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Listen  string `yaml:"listen"`
}

// IsEnabled reports whether the status server runs. Default true.
func (s Status) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// Models configures the advertised catalogue.
type Models struct {
	SyncSchedule string       `yaml:"sync_schedule"`
	List         []wire.Model `yaml:"list,omitempty"`
}

// Timeouts holds a default correlation timeout.
type Timeouts struct {
	DefaultTimeoutMs int `yaml:"default_timeout_ms"`
}

// TokenTracker bounds the per-session token accounting.
type TokenTracker struct {
	MaxSessions int `yaml:"max_sessions"`
}

// Config is the bridge configuration file.
type Config struct {
	Accounts     map[string]*Account `yaml:"accounts"`
	WorkspaceDir string              `yaml:"workspace_dir"`
	AgentsFile   string              `yaml:"agents_file"`
	Database     string              `yaml:"database"`
	UploadURL    string              `yaml:"upload_url,omitempty"`
	Log          logging.Options     `yaml:"log"`
	Status       Status              `yaml:"status"`
	Models       Models              `yaml:"models"`
	Approvals    Timeouts            `yaml:"approvals"`
	Questions    Timeouts            `yaml:"questions"`
	TokenTracker TokenTracker        `yaml:"token_tracker"`
}

// DefaultConfig returns a config rooted at dataDir.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		Accounts:     map[string]*Account{},
		WorkspaceDir: filepath.Join(dataDir, defaults.WorkspaceDir),
		AgentsFile:   filepath.Join(dataDir, defaults.AgentsFile),
		Database:     filepath.Join(dataDir, defaults.DatabaseFile),
		Log:          logging.Options{Level: "info", Format: "text"},
		Status:       Status{Listen: "127.0.0.1:7788"},
		Models:       Models{SyncSchedule: models.DefaultSchedule},
		Approvals:    Timeouts{DefaultTimeoutMs: 120000},
		Questions:    Timeouts{DefaultTimeoutMs: 120000},
		TokenTracker: TokenTracker{MaxSessions: 4096},
	}
}

// Load reads path, fills defaults relative to the file's directory and
// applies environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadFile is Load without environment overrides, for editing the file.
func LoadFile(path string) (*Config, error) {
	dataDir := filepath.Dir(path)
	cfg := DefaultConfig(dataDir)

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.fill(dataDir)
	return cfg, nil
}

func (c *Config) fill(dataDir string) {
	d := DefaultConfig(dataDir)
	if c.Accounts == nil {
		c.Accounts = map[string]*Account{}
	}
	for id, a := range c.Accounts {
		if a == nil {
			delete(c.Accounts, id)
		}
	}
	c.WorkspaceDir = expandHome(firstSet(c.WorkspaceDir, d.WorkspaceDir))
	c.AgentsFile = expandHome(firstSet(c.AgentsFile, d.AgentsFile))
	c.Database = expandHome(firstSet(c.Database, d.Database))
	c.Log.Level = firstSet(c.Log.Level, d.Log.Level)
	c.Log.Format = firstSet(c.Log.Format, d.Log.Format)
	c.Status.Listen = firstSet(c.Status.Listen, d.Status.Listen)
	c.Models.SyncSchedule = firstSet(c.Models.SyncSchedule, d.Models.SyncSchedule)
	if c.Approvals.DefaultTimeoutMs <= 0 {
		c.Approvals.DefaultTimeoutMs = d.Approvals.DefaultTimeoutMs
	}
	if c.Questions.DefaultTimeoutMs <= 0 {
		c.Questions.DefaultTimeoutMs = d.Questions.DefaultTimeoutMs
	}
	if c.TokenTracker.MaxSessions <= 0 {
		c.TokenTracker.MaxSessions = d.TokenTracker.MaxSessions
	}
}

// applyEnv overrides the default account and log level from the environment.
func (c *Config) applyEnv() {
	host, token := os.Getenv(EnvHost), os.Getenv(EnvToken)
	if host != "" || token != "" {
		a := c.Accounts[DefaultAccount]
		if a == nil {
			a = &Account{Host: DefaultHost}
			c.Accounts[DefaultAccount] = a
		}
		if host != "" {
			a.Host = host
		}
		if token != "" {
			a.Token = token
		}
	}
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		c.Log.Level = lvl
	}
}

// AccountIDs returns the configured account ids in order.
func (c *Config) AccountIDs() []string {
	ids := make([]string, 0, len(c.Accounts))
	for id := range c.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetAccount adds or replaces an account.
func (c *Config) SetAccount(id string, info conn.Info, token string) {
	tls := info.UseTLS
	if c.Accounts == nil {
		c.Accounts = map[string]*Account{}
	}
	c.Accounts[id] = &Account{Host: info.Host, Token: token, UseTLS: &tls}
}

// Write persists cfg to path atomically.
func Write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return agentsync.WriteFileAtomic(path, data, 0o600)
}

func firstSet(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
