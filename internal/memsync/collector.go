// Package memsync collects changed agent memory files for agent.memory_sync.
package memsync

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/whimmy-ai/whimmy-plugin/internal/agentsync"
	"github.com/whimmy-ai/whimmy-plugin/internal/wire"
)

// Limits on what one collection may return.
const (
	MaxMemoryDirFiles = 10
	MaxTotalBytes     = 100 * 1024
)

// WellKnownFiles are collected from the agent's workspace root.
var WellKnownFiles = []string{"MEMORY.md", "USER.md", "IDENTITY.md", "HEARTBEAT.md", "TOOLS.md"}

// MemoryDir holds free-form memory notes.
const MemoryDir = "memory"

// Collector diffs an agent's memory files against what it last returned.
type Collector struct {
	workspace string

	mu     sync.Mutex
	hashes map[string]map[string]string // agentID → file → hash
}

// NewCollector creates a collector over per-agent directories in workspace.
func NewCollector(workspace string) *Collector {
	return &Collector{
		workspace: workspace,
		hashes:    make(map[string]map[string]string),
	}
}

// Collect returns the files of agentID whose content changed since the last
// call. An empty result means there is nothing to send.
func (c *Collector) Collect(agentID string) (map[string]wire.MemoryFile, error) {
	if c.workspace == "" || agentID == "" {
		return nil, nil
	}
	if err := agentsync.ValidateAgentID(agentID); err != nil {
		return nil, err
	}
	dir := filepath.Join(c.workspace, agentID)

	names, err := candidates(dir)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	seen := c.hashes[agentID]
	if seen == nil {
		seen = make(map[string]string)
		c.hashes[agentID] = seen
	}

	out := make(map[string]wire.MemoryFile)
	total := 0
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if total+len(data) > MaxTotalBytes {
			continue
		}

		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		if seen[name] == hash {
			continue
		}
		total += len(data)
		seen[name] = hash
		out[name] = wire.MemoryFile{Content: string(data), Hash: hash}
	}
	return out, nil
}

// candidates lists the well-known files then up to MaxMemoryDirFiles
// markdown files from the memory directory, sorted by name.
func candidates(dir string) ([]string, error) {
	names := append([]string(nil), WellKnownFiles...)

	entries, err := os.ReadDir(filepath.Join(dir, MemoryDir))
	if errors.Is(err, os.ErrNotExist) {
		return names, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list memory dir: %w", err)
	}

	var notes []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".md") {
			continue
		}
		notes = append(notes, e.Name())
	}
	sort.Strings(notes)
	if len(notes) > MaxMemoryDirFiles {
		notes = notes[:MaxMemoryDirFiles]
	}
	for _, n := range notes {
		names = append(names, MemoryDir+"/"+n)
	}
	return names, nil
}
