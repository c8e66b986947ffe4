// Package models describes the models this bridge offers to the backend and
// keeps the backend's copy fresh.
package models

import (
	"sync"

	"github.com/whimmy-ai/whimmy-plugin/internal/session"
	"github.com/whimmy-ai/whimmy-plugin/internal/wire"
)

// Defaults is the built-in catalogue used when config lists no models.
var Defaults = []wire.Model{
	{ID: "claude-opus-4", Name: "Claude Opus 4", Provider: "anthropic"},
	{ID: "claude-sonnet-4", Name: "Claude Sonnet 4", Provider: "anthropic"},
	{ID: "claude-haiku-4", Name: "Claude Haiku 4", Provider: "anthropic"},
	{ID: "gpt-4o", Name: "GPT-4o", Provider: "openai"},
	{ID: "o3", Name: "o3", Provider: "openai"},
	{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Provider: "google"},
}

// Catalogue is the set of models advertised in models.sync.
type Catalogue struct {
	mu     sync.RWMutex
	models []wire.Model
}

// NewCatalogue creates a catalogue. An empty list selects Defaults.
func NewCatalogue(list []wire.Model) *Catalogue {
	c := &Catalogue{}
	c.Set(list)
	return c
}

// Set replaces the catalogue. Entries without a context window get one from
// the session table; entries without an id are dropped.
func (c *Catalogue) Set(list []wire.Model) {
	if len(list) == 0 {
		list = Defaults
	}
	out := make([]wire.Model, 0, len(list))
	for _, m := range list {
		if m.ID == "" {
			continue
		}
		if m.Name == "" {
			m.Name = m.ID
		}
		if m.ContextWindow <= 0 {
			m.ContextWindow = session.ContextWindow(m.ID)
		}
		out = append(out, m)
	}
	c.mu.Lock()
	c.models = out
	c.mu.Unlock()
}

// Models returns a copy of the catalogue.
func (c *Catalogue) Models() []wire.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]wire.Model(nil), c.models...)
}

// Payload is the body of models.sync.
func (c *Catalogue) Payload() wire.ModelsSyncPayload {
	return wire.ModelsSyncPayload{Models: c.Models()}
}
