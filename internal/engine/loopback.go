package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/whimmy-ai/whimmy-plugin/internal/hooks"
	"github.com/whimmy-ai/whimmy-plugin/internal/wire"
)

// Loopback is an in-memory engine for testing and development. It echoes the
// user's message back word by word and understands a few slash commands that
// exercise the tool hooks:
//
//	/exec <command>   run the exec tool (never actually executed)
//	/ask <question>   ask the user a question
//	/media <path|url> deliver a file
//	/fail [message]   fail the run
type Loopback struct {
	logger *slog.Logger

	mu        sync.Mutex
	totals    map[string]int
	reactions int
	reads     int
}

// NewLoopback creates a loopback engine.
func NewLoopback(logger *slog.Logger) *Loopback {
	if logger == nil {
		logger = slog.Default().With("component", "engine-loopback")
	}
	return &Loopback{logger: logger, totals: make(map[string]int)}
}

// Dispatch streams the reply for one turn.
func (l *Loopback) Dispatch(ctx context.Context, req *Request) (<-chan Reply, error) {
	if req == nil {
		return nil, errors.New("loopback: nil request")
	}
	out := make(chan Reply, 16)
	go func() {
		defer close(out)
		l.run(ctx, req, out)
	}()
	return out, nil
}

func (l *Loopback) run(ctx context.Context, req *Request, out chan<- Reply) {
	send := func(r Reply) bool {
		select {
		case out <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	body := strings.TrimSpace(req.Context.RawBody)
	cmd, arg, _ := strings.Cut(body, " ")
	arg = strings.TrimSpace(arg)

	var text string
	switch cmd {
	case "/fail":
		if arg == "" {
			arg = "loopback failure"
		}
		send(Reply{Kind: ReplyError, Err: errors.New(arg)})
		return

	case "/media":
		if !send(Reply{Kind: ReplyMedia, Media: &Media{URL: arg}}) {
			return
		}
		text = "sent " + arg

	case "/exec":
		send(Reply{Kind: ReplyThinking})
		text = l.callTool(ctx, req, hooks.ToolExec, map[string]any{"command": arg})

	case "/ask":
		send(Reply{Kind: ReplyThinking})
		text = l.callTool(ctx, req, hooks.ToolAskUserQuestion, map[string]any{
			"questions": []any{map[string]any{"question": arg}},
		})

	default:
		text = body
	}

	var b strings.Builder
	for i, w := range strings.Fields(text) {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
		if !send(Reply{Kind: ReplyPartial, Text: b.String()}) {
			return
		}
	}
	if !send(Reply{Kind: ReplyBlock, Text: b.String()}) {
		return
	}

	used := len(strings.Fields(req.Context.Body)) + len(strings.Fields(text))
	l.mu.Lock()
	l.totals[req.Context.SessionKey] += used
	total := l.totals[req.Context.SessionKey]
	l.mu.Unlock()

	send(Reply{Kind: ReplyUsage, Usage: &Usage{TotalTokens: total, ContextTokens: total}})
}

func (l *Loopback) callTool(ctx context.Context, req *Request, name string, params map[string]any) string {
	call := hooks.ToolCall{
		SessionKey: req.Context.SessionKey,
		AgentID:    req.Context.AgentID,
		ToolName:   name,
		ToolCallID: uuid.NewString(),
		Params:     params,
	}
	if req.Hooks != nil {
		d := req.Hooks.BeforeToolCall(ctx, call)
		if d.Block {
			return "blocked: " + d.Reason
		}
		if d.Params != nil {
			call.Params = d.Params
		}
	}

	var result string
	switch name {
	case hooks.ToolExec:
		result = fmt.Sprintf("would run: %v", call.Params["command"])
	case hooks.ToolAskUserQuestion:
		result = "answers: " + formatAnswers(call.Params["answers"])
	default:
		result = name + " done"
	}

	if req.Hooks != nil {
		req.Hooks.AfterToolCall(ctx, call, nil)
	}
	return result
}

func formatAnswers(v any) string {
	answers, ok := v.(map[string]string)
	if !ok || len(answers) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" = "+answers[k])
	}
	return strings.Join(parts, "; ")
}

// OnReaction logs a reaction.
func (l *Loopback) OnReaction(_ context.Context, accountID string, r wire.Reaction) {
	l.mu.Lock()
	l.reactions++
	l.mu.Unlock()
	l.logger.Info("reaction", "account", accountID, "agent", r.AgentID, "message_id", r.MessageID, "emoji", r.Emoji)
}

// OnRead logs a read receipt.
func (l *Loopback) OnRead(_ context.Context, accountID string, r wire.ReadReceipt) {
	l.mu.Lock()
	l.reads++
	l.mu.Unlock()
	l.logger.Debug("read receipt", "account", accountID, "agent", r.AgentID, "message_id", r.MessageID)
}

// Counts returns how many reactions and read receipts were seen.
func (l *Loopback) Counts() (reactions, reads int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reactions, l.reads
}
