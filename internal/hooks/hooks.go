// Package hooks intercepts agent tool calls: questions and gated tools are
// routed through the correlation tables, everything else gets lifecycle
// events.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/whimmy-ai/whimmy-plugin/internal/correlation"
	"github.com/whimmy-ai/whimmy-plugin/internal/session"
	"github.com/whimmy-ai/whimmy-plugin/internal/wire"
)

// Tool names with special handling.
const (
	ToolAskUserQuestion = "ask_user_question"
	ToolExec            = "exec"
	ToolDelegate        = "delegate_to_agent"
)

// Lifecycle statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// MaxActionLen bounds the approval prompt's action summary, in runes.
const MaxActionLen = 200

// aliases maps internal tool names to the names used in approval policies.
var aliases = map[string]string{
	ToolExec: "Bash",
}

// Alias returns the policy-facing name of an internal tool, or "".
func Alias(toolName string) string {
	return aliases[toolName]
}

// Broadcaster sends an event to every connected account.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// ConfigSource supplies the latest agent configuration snapshot.
type ConfigSource interface {
	Get(agentID string) (wire.AgentConfig, bool)
}

// ToolCall is a tool invocation the agent is about to make.
type ToolCall struct {
	SessionKey string
	AgentID    string
	ToolName   string
	ToolCallID string
	Params     map[string]any
}

// Decision is the outcome of BeforeToolCall. A nil Params means the call
// proceeds with its original parameters.
type Decision struct {
	Block  bool
	Reason string
	Params map[string]any
}

// Hooks owns the session approval memory.
type Hooks struct {
	configs ConfigSource
	tables  *correlation.Tables
	out     Broadcaster
	logger  *slog.Logger

	mu      sync.Mutex
	granted map[string]map[string]bool // agentID → approved tool names
}

// Option configures Hooks.
type Option func(*Hooks)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hooks) { h.logger = l }
}

// New creates hooks reading policies from configs.
func New(configs ConfigSource, tables *correlation.Tables, out Broadcaster, opts ...Option) *Hooks {
	h := &Hooks{
		configs: configs,
		tables:  tables,
		out:     out,
		logger:  slog.Default().With("component", "hooks"),
		granted: make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// BeforeToolCall runs before a tool executes. It may block the call, replace
// its parameters, or wait for a human decision.
func (h *Hooks) BeforeToolCall(ctx context.Context, call ToolCall) Decision {
	cfg, _ := h.configs.Get(call.AgentID)

	if call.ToolName == ToolAskUserQuestion {
		if d, handled := h.interceptQuestion(ctx, call, cfg.Questions); handled {
			return d
		}
	}

	if p := cfg.Approvals; p != nil && p.Enabled && Matches(p.Tools, call.ToolName) {
		if d := h.interceptApproval(ctx, call, p); d.Block {
			return d
		}
	}

	if call.ToolName != ToolAskUserQuestion {
		h.out.Broadcast(wire.EventToolStart, wire.ToolLifecyclePayload{
			SessionKey:  session.RecoverBackendSessionKey(call.SessionKey),
			AgentID:     call.AgentID,
			ExecutionID: call.ToolCallID,
			ToolName:    call.ToolName,
			Status:      StatusRunning,
		})
	}
	return Decision{}
}

// AfterToolCall reports a finished tool call. The event carries no
// execution id.
func (h *Hooks) AfterToolCall(_ context.Context, call ToolCall, err error) {
	if call.ToolName == ToolAskUserQuestion {
		return
	}
	p := wire.ToolLifecyclePayload{
		SessionKey: session.RecoverBackendSessionKey(call.SessionKey),
		AgentID:    call.AgentID,
		ToolName:   call.ToolName,
		Status:     StatusCompleted,
	}
	event := wire.EventToolDone
	if err != nil {
		event = wire.EventToolError
		p.Status = StatusError
		p.Error = err.Error()
	}
	h.out.Broadcast(event, p)
}

// Granted reports whether agentID approved toolName earlier in session mode.
func (h *Hooks) Granted(agentID, toolName string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.granted[agentID][toolName]
}

func (h *Hooks) grant(agentID, toolName string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.granted[agentID] == nil {
		h.granted[agentID] = make(map[string]bool)
	}
	h.granted[agentID][toolName] = true
}

func (h *Hooks) interceptQuestion(ctx context.Context, call ToolCall, policy *wire.QuestionPolicy) (Decision, bool) {
	if policy.Disabled() {
		return Decision{}, false
	}
	questions, err := parseQuestions(call.Params["questions"])
	if err != nil {
		h.logger.Warn("malformed questions", "agent", call.AgentID, "error", err)
		return Decision{}, false
	}
	if len(questions) == 0 {
		return Decision{}, false
	}

	var timeout time.Duration
	if policy != nil && policy.TimeoutMs > 0 {
		timeout = time.Duration(policy.TimeoutMs) * time.Millisecond
	}
	id, w := h.tables.Questions.Register(timeout)

	h.out.Broadcast(wire.EventAskUserQuestion, wire.QuestionPayload{
		SessionKey: session.RecoverBackendSessionKey(call.SessionKey),
		AgentID:    call.AgentID,
		QuestionID: id,
		Questions:  questions,
	})

	answers, err := w.Wait(ctx)
	if err != nil {
		h.logger.Info("question not answered", "question_id", id, "error", err)
		return Decision{Block: true, Reason: fmt.Sprintf("User did not respond: %v", err)}, true
	}

	params := make(map[string]any, len(call.Params)+1)
	for k, v := range call.Params {
		params[k] = v
	}
	params["answers"] = answers
	return Decision{Params: params}, true
}

func (h *Hooks) interceptApproval(ctx context.Context, call ToolCall, policy *wire.ApprovalPolicy) Decision {
	mode := policy.Mode
	if mode == "" {
		mode = wire.ApprovalModeSession
	}
	if mode == wire.ApprovalModeSession && h.Granted(call.AgentID, call.ToolName) {
		return Decision{}
	}

	var timeout time.Duration
	if policy.TimeoutMs > 0 {
		timeout = time.Duration(policy.TimeoutMs) * time.Millisecond
	}
	execID, w := h.tables.Approvals.Register(timeout)

	h.out.Broadcast(wire.EventApprovalRequest, wire.ApprovalRequestPayload{
		SessionKey:  session.RecoverBackendSessionKey(call.SessionKey),
		AgentID:     call.AgentID,
		ExecutionID: execID,
		ToolName:    call.ToolName,
		Action:      Summarize(call.ToolName, call.Params),
		Params:      call.Params,
	})

	approved, err := w.Wait(ctx)
	switch {
	case err != nil:
		h.logger.Info("approval not given", "execution_id", execID, "tool", call.ToolName, "error", err)
		return Decision{Block: true, Reason: fmt.Sprintf("Approval for %s was not granted: %v", call.ToolName, err)}
	case !approved:
		return Decision{Block: true, Reason: fmt.Sprintf("User denied %s", call.ToolName)}
	}

	if mode == wire.ApprovalModeSession {
		h.grant(call.AgentID, call.ToolName)
	}
	return Decision{}
}

// Matches reports whether a policy tool list covers toolName: the wildcard
// "*", the exact name, or the tool's alias (case-insensitive).
func Matches(tools []string, toolName string) bool {
	alias := Alias(toolName)
	for _, t := range tools {
		switch {
		case t == "*", t == toolName:
			return true
		case alias != "" && strings.EqualFold(t, alias):
			return true
		}
	}
	return false
}

// Summarize renders a short human-readable action for an approval prompt.
func Summarize(toolName string, params map[string]any) string {
	var s string
	if cmd, ok := params["command"].(string); ok && isExec(toolName) {
		s = cmd
	} else if len(params) > 0 {
		data, err := json.Marshal(params)
		if err != nil {
			s = fmt.Sprint(params)
		} else {
			s = string(data)
		}
	} else {
		s = toolName
	}
	return truncate(s, MaxActionLen)
}

func isExec(toolName string) bool {
	return toolName == ToolExec || strings.EqualFold(toolName, aliases[ToolExec])
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

// parseQuestions accepts the question list as the agent sent it.
func parseQuestions(v any) ([]wire.Question, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var qs []wire.Question
	if err := json.Unmarshal(data, &qs); err != nil {
		return nil, err
	}
	return qs, nil
}
