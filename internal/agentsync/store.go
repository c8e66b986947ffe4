package agentsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/whimmy-ai/whimmy-plugin/internal/wire"
)

// AgentsFile is the persisted per-agent configuration.
type AgentsFile struct {
	Agents map[string]*AgentEntry `yaml:"agents"`
}

// AgentEntry is one agent's persisted configuration.
type AgentEntry struct {
	Name         string                     `yaml:"name,omitempty"`
	Emoji        string                     `yaml:"emoji,omitempty"`
	Model        string                     `yaml:"model"`
	Temperature  float64                    `yaml:"temperature"`
	MaxTokens    int                        `yaml:"max_tokens"`
	Skills       []string                   `yaml:"skills,omitempty"`
	SkillEntries map[string]wire.SkillEntry `yaml:"skill_entries,omitempty"`
	Approvals    *wire.ApprovalPolicy       `yaml:"approvals,omitempty"`
	Questions    *wire.QuestionPolicy       `yaml:"questions,omitempty"`
	ConfigHash   string                     `yaml:"config_hash"`
	UpdatedAt    time.Time                  `yaml:"updated_at"`
}

// Store loads and writes the agents file.
type Store interface {
	Load(ctx context.Context) (*AgentsFile, error)
	Write(ctx context.Context, f *AgentsFile) error
}

// FileStore keeps the agents file as YAML on disk.
type FileStore struct {
	Path string
}

// NewFileStore creates a store for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the agents file. A missing file is an empty one.
func (s *FileStore) Load(_ context.Context) (*AgentsFile, error) {
	f := &AgentsFile{Agents: make(map[string]*AgentEntry)}

	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse agents file: %w", err)
	}
	if f.Agents == nil {
		f.Agents = make(map[string]*AgentEntry)
	}
	return f, nil
}

// Write replaces the agents file atomically.
func (s *FileStore) Write(_ context.Context, f *AgentsFile) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal agents file: %w", err)
	}
	return WriteFileAtomic(s.Path, data, 0600)
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
