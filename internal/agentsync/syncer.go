package agentsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/whimmy-ai/whimmy-plugin/internal/wire"
)

// Defaults applied by Normalize.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
	DefaultTimeoutMs   = 120_000
)

// Workspace file names.
const (
	SoulFile     = "SOUL.md"
	IdentityFile = "IDENTITY.md"
)

// ErrInvalidAgentID is returned for agent ids that are not a single path
// element inside the workspace.
var ErrInvalidAgentID = errors.New("invalid agent id")

// ValidateAgentID rejects ids that would name a directory outside the
// workspace.
func ValidateAgentID(agentID string) error {
	if agentID == "" || agentID == "." || strings.ContainsAny(agentID, `/\`) || !filepath.IsLocal(agentID) {
		return fmt.Errorf("%w: %q", ErrInvalidAgentID, agentID)
	}
	return nil
}

// Syncer persists agent configuration when it changes.
type Syncer struct {
	store     Store
	workspace string
	logger    *slog.Logger

	mu     sync.Mutex
	hashes map[string]string
	last   map[string]wire.AgentConfig
	now    func() time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// NewSyncer creates a syncer writing through store and into per-agent
// directories under workspace.
func NewSyncer(store Store, workspace string, opts ...Option) *Syncer {
	s := &Syncer{
		store:     store,
		workspace: workspace,
		logger:    slog.Default().With("component", "agentsync"),
		hashes:    make(map[string]string),
		last:      make(map[string]wire.AgentConfig),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync normalizes cfg and, when its hash differs from the last synced one,
// merges it into the agents file and rewrites the agent's workspace files.
// The returned configuration is the one the caller should use; changed
// reports whether anything was written.
func (s *Syncer) Sync(ctx context.Context, agentID string, cfg wire.AgentConfig) (wire.AgentConfig, bool, error) {
	norm := Normalize(cfg)
	if err := ValidateAgentID(agentID); err != nil {
		return norm, false, err
	}
	hash, err := Hash(norm)
	if err != nil {
		return norm, false, err
	}

	// Held across the file round trip so concurrent syncs never interleave
	// their read-modify-write of the agents file.
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hashes[agentID] == hash {
		if last, ok := s.last[agentID]; ok {
			last.SkillEntries = copySkillEntries(last.SkillEntries)
			return last, false, nil
		}
	}

	file, err := s.store.Load(ctx)
	if err != nil {
		return norm, false, fmt.Errorf("load agents: %w", err)
	}
	entry := file.Agents[agentID]

	if entry != nil && entry.ConfigHash == hash {
		// A previous process already synced this exact config.
		norm.SkillEntries = MergeSkillEntries(entry.SkillEntries, norm.SkillEntries)
		s.remember(agentID, hash, norm)
		return norm, false, nil
	}

	if entry == nil {
		entry = &AgentEntry{}
		file.Agents[agentID] = entry
	}
	entry.Name = norm.Name
	entry.Emoji = norm.Emoji
	entry.Model = norm.Model
	entry.Temperature = norm.Temperature
	entry.MaxTokens = norm.MaxTokens
	entry.Skills = norm.Skills
	entry.SkillEntries = MergeSkillEntries(entry.SkillEntries, norm.SkillEntries)
	entry.Approvals = norm.Approvals
	entry.Questions = norm.Questions
	entry.ConfigHash = hash
	entry.UpdatedAt = s.now().UTC()

	if err := s.store.Write(ctx, file); err != nil {
		return norm, false, fmt.Errorf("write agents: %w", err)
	}
	if err := s.writeWorkspace(agentID, norm); err != nil {
		return norm, true, err
	}

	norm.SkillEntries = copySkillEntries(entry.SkillEntries)
	s.remember(agentID, hash, norm)
	s.logger.Info("agent config synced", "agent", agentID, "model", norm.Model, "hash", hash[:12])
	return norm, true, nil
}

// LastHash returns the hash of agentID's last synced config.
func (s *Syncer) LastHash(agentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hashes[agentID]
}

// AgentDir returns the workspace directory of agentID.
func (s *Syncer) AgentDir(agentID string) string {
	return filepath.Join(s.workspace, agentID)
}

func (s *Syncer) remember(agentID, hash string, cfg wire.AgentConfig) {
	s.hashes[agentID] = hash
	s.last[agentID] = cfg
}

func (s *Syncer) writeWorkspace(agentID string, cfg wire.AgentConfig) error {
	if s.workspace == "" {
		return nil
	}
	dir := s.AgentDir(agentID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create agent workspace: %w", err)
	}

	soul := filepath.Join(dir, SoulFile)
	if cfg.SystemPrompt == "" {
		if err := os.Remove(soul); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", SoulFile, err)
		}
	} else if err := WriteFileAtomic(soul, []byte(cfg.SystemPrompt+"\n"), 0644); err != nil {
		return fmt.Errorf("write %s: %w", SoulFile, err)
	}

	if cfg.Name != "" || cfg.Emoji != "" {
		if err := WriteFileAtomic(filepath.Join(dir, IdentityFile), []byte(identityDoc(cfg)), 0644); err != nil {
			return fmt.Errorf("write %s: %w", IdentityFile, err)
		}
	}
	return nil
}

func identityDoc(cfg wire.AgentConfig) string {
	var b strings.Builder
	b.WriteString("# Identity\n\n")
	if cfg.Name != "" {
		fmt.Fprintf(&b, "- Name: %s\n", cfg.Name)
	}
	if cfg.Emoji != "" {
		fmt.Fprintf(&b, "- Emoji: %s\n", cfg.Emoji)
	}
	return b.String()
}

// Normalize fills defaults and trims the system prompt. It never mutates cfg.
func Normalize(cfg wire.AgentConfig) wire.AgentConfig {
	out := cfg
	if out.Temperature == 0 {
		out.Temperature = DefaultTemperature
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = DefaultMaxTokens
	}
	out.SystemPrompt = strings.TrimSpace(out.SystemPrompt)

	if cfg.Approvals != nil {
		a := *cfg.Approvals
		if a.Mode == "" {
			a.Mode = wire.ApprovalModeSession
		}
		if a.TimeoutMs <= 0 {
			a.TimeoutMs = DefaultTimeoutMs
		}
		out.Approvals = &a
	}
	if cfg.Questions != nil {
		q := *cfg.Questions
		if q.TimeoutMs <= 0 {
			q.TimeoutMs = DefaultTimeoutMs
		}
		out.Questions = &q
	}
	out.SkillEntries = copySkillEntries(cfg.SkillEntries)
	return out
}

// Hash is the sha256 of cfg's JSON encoding. encoding/json sorts map keys,
// so equal configs hash equally.
func Hash(cfg wire.AgentConfig) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("hash agent config: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// MergeSkillEntries merges incoming into existing field by field: Enabled is
// taken when set, APIKey when non-empty, and Env and Config key by key.
// Neither argument is modified.
func MergeSkillEntries(existing, incoming map[string]wire.SkillEntry) map[string]wire.SkillEntry {
	out := copySkillEntries(existing)
	if len(incoming) == 0 {
		return out
	}
	if out == nil {
		out = make(map[string]wire.SkillEntry, len(incoming))
	}
	for name, in := range incoming {
		cur := out[name]
		if in.Enabled != nil {
			v := *in.Enabled
			cur.Enabled = &v
		}
		if in.APIKey != "" {
			cur.APIKey = in.APIKey
		}
		for k, v := range in.Env {
			if cur.Env == nil {
				cur.Env = make(map[string]string)
			}
			cur.Env[k] = v
		}
		for k, v := range in.Config {
			if cur.Config == nil {
				cur.Config = make(map[string]any)
			}
			cur.Config[k] = v
		}
		out[name] = cur
	}
	return out
}

func copySkillEntries(in map[string]wire.SkillEntry) map[string]wire.SkillEntry {
	if in == nil {
		return nil
	}
	out := make(map[string]wire.SkillEntry, len(in))
	for name, e := range in {
		c := wire.SkillEntry{APIKey: e.APIKey}
		if e.Enabled != nil {
			v := *e.Enabled
			c.Enabled = &v
		}
		if e.Env != nil {
			c.Env = make(map[string]string, len(e.Env))
			for k, v := range e.Env {
				c.Env[k] = v
			}
		}
		if e.Config != nil {
			c.Config = make(map[string]any, len(e.Config))
			for k, v := range e.Config {
				c.Config[k] = v
			}
		}
		out[name] = c
	}
	return out
}
