// Package agentsync caches per-agent configuration snapshots and persists
// changed configuration to the agents file and workspace.
package agentsync

import (
	"sync"

	"github.com/whimmy-ai/whimmy-plugin/internal/wire"
)

// Cache holds the latest configuration snapshot per agent. Put replaces the
// whole snapshot.
type Cache struct {
	mu     sync.RWMutex
	agents map[string]wire.AgentConfig
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{agents: make(map[string]wire.AgentConfig)}
}

// Put replaces agentID's snapshot.
func (c *Cache) Put(agentID string, cfg wire.AgentConfig) {
	c.mu.Lock()
	c.agents[agentID] = cfg
	c.mu.Unlock()
}

// Get returns agentID's snapshot.
func (c *Cache) Get(agentID string) (wire.AgentConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.agents[agentID]
	return cfg, ok
}

// Len returns the number of cached agents.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.agents)
}
