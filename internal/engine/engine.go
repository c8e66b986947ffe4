// Package engine defines the boundary to the agent runtime that actually
// runs inference for a turn.
package engine

import (
	"context"
	"time"

	"github.com/whimmy-ai/whimmy-plugin/internal/hooks"
	"github.com/whimmy-ai/whimmy-plugin/internal/wire"
)

// ReplyKind defines the type of a streamed reply.
type ReplyKind string

const (
	ReplyPartial  ReplyKind = "partial"  // cumulative text of the current block
	ReplyBlock    ReplyKind = "block"    // final text of a block
	ReplyMedia    ReplyKind = "media"    // file or URL to deliver
	ReplyThinking ReplyKind = "thinking" // the agent is reasoning
	ReplyUsage    ReplyKind = "usage"    // cumulative token accounting
	ReplyError    ReplyKind = "error"    // the run failed
)

// Reply is one event streamed from a dispatched turn.
type Reply struct {
	Kind  ReplyKind
	Text  string
	Media *Media
	Usage *Usage
	Err   error
}

// Media is a file produced by the agent. URL is either a remote URL or an
// absolute local path that still needs uploading.
type Media struct {
	URL          string
	MimeType     string
	FileName     string
	AudioAsVoice bool
}

// Usage is the session's cumulative accounting after the turn.
type Usage struct {
	TotalTokens   int     // cumulative across the session
	ContextTokens int     // tokens currently in the context window
	Cost          float64 // cost of this turn, if known
}

// InboundContext is the normalized inbound message handed to the engine.
// Media fields are parallel arrays; the singular fields repeat index 0.
type InboundContext struct {
	Body           string // agent-facing text, possibly with history and attachment notes
	RawBody        string // the user's message as received
	SessionKey     string
	MainSessionKey string
	BackendKey     string
	AccountID      string
	AgentID        string
	Channel        string
	MessageID      string
	SenderName     string
	Timestamp      time.Time

	MediaPaths []string
	MediaURLs  []string
	MediaTypes []string
	MediaPath  string
	MediaURL   string
	MediaType  string
}

// ToolHooks intercepts the engine's tool calls.
type ToolHooks interface {
	BeforeToolCall(ctx context.Context, call hooks.ToolCall) hooks.Decision
	AfterToolCall(ctx context.Context, call hooks.ToolCall, err error)
}

// Request is one turn to dispatch.
type Request struct {
	Context      InboundContext
	Config       wire.AgentConfig
	SystemPrompt string
	Hooks        ToolHooks
}

// Engine runs turns. The returned channel is closed when the turn ends.
type Engine interface {
	Dispatch(ctx context.Context, req *Request) (<-chan Reply, error)
}

// ReactionSink is implemented by engines that want reactions and read
// receipts.
type ReactionSink interface {
	OnReaction(ctx context.Context, accountID string, r wire.Reaction)
	OnRead(ctx context.Context, accountID string, r wire.ReadReceipt)
}
