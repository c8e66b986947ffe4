package wire

import (
	"encoding/json"
	"fmt"
)

// Inbound is a decoded frame received from the backend. The set of
// implementations is closed; Decode returns *Unknown for anything else.
type Inbound interface {
	inboundType() string
}

// AgentMessage is the payload of hook.agent: one user message for an agent.
type AgentMessage struct {
	Message         string          `json:"message"`
	AgentID         string          `json:"agentId"`
	SessionKey      string          `json:"sessionKey"`
	Channel         string          `json:"channel,omitempty"`
	MessageID       string          `json:"messageId,omitempty"`
	SenderName      string          `json:"senderName,omitempty"`
	AgentConfig     AgentConfig     `json:"agentConfig"`
	Attachments     []Attachment    `json:"attachments,omitempty"`
	History         []HistoryEntry  `json:"history,omitempty"`
	AvailableAgents []AgentSummary  `json:"availableAgents,omitempty"`
	IsOrchestrator  bool            `json:"isOrchestrator,omitempty"`
	Extra           json.RawMessage `json:"extra,omitempty"`
}

// Attachment is a file the user sent along with a message.
type Attachment struct {
	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// HistoryEntry is one prior message of the conversation.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// AgentSummary describes an agent an orchestrator may delegate to.
type AgentSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Emoji       string `json:"emoji,omitempty"`
}

// AgentConfig is the per-agent configuration carried on every hook.agent.
type AgentConfig struct {
	Name         string                `json:"name,omitempty"`
	Emoji        string                `json:"emoji,omitempty"`
	Model        string                `json:"model"`
	Temperature  float64               `json:"temperature,omitempty"`
	MaxTokens    int                   `json:"maxTokens,omitempty"`
	SystemPrompt string                `json:"systemPrompt,omitempty"`
	Skills       []string              `json:"skills,omitempty"`
	SkillEntries map[string]SkillEntry `json:"skillEntries,omitempty"`
	Approvals    *ApprovalPolicy       `json:"approvals,omitempty"`
	Questions    *QuestionPolicy       `json:"questions,omitempty"`
}

// SkillEntry is per-skill configuration. Fields left unset keep whatever
// value was synced before.
type SkillEntry struct {
	Enabled *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	APIKey  string            `json:"apiKey,omitempty" yaml:"api_key,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Config  map[string]any    `json:"config,omitempty" yaml:"config,omitempty"`
}

// Approval modes.
const (
	ApprovalModeSession = "session"
	ApprovalModeAlways  = "always"
)

// ApprovalPolicy controls human approval of tool calls.
type ApprovalPolicy struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Mode      string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	Tools     []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	TimeoutMs int      `json:"timeoutMs,omitempty" yaml:"timeout_ms,omitempty"`
}

// QuestionPolicy controls interception of the question tool. A nil Enabled
// means enabled.
type QuestionPolicy struct {
	Enabled   *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	TimeoutMs int   `json:"timeoutMs,omitempty" yaml:"timeout_ms,omitempty"`
}

// Disabled reports whether the policy explicitly turns questions off.
func (p *QuestionPolicy) Disabled() bool {
	return p != nil && p.Enabled != nil && !*p.Enabled
}

// ApprovalDecision is the payload of hook.approval.
type ApprovalDecision struct {
	ExecutionID string `json:"executionId"`
	Approved    bool   `json:"approved"`
	Reason      string `json:"reason,omitempty"`
}

// Reaction is the payload of hook.react.
type Reaction struct {
	SessionKey string `json:"sessionKey"`
	AgentID    string `json:"agentId"`
	MessageID  string `json:"messageId,omitempty"`
	Emoji      string `json:"emoji,omitempty"`
}

// ReadReceipt is the payload of hook.read.
type ReadReceipt struct {
	SessionKey string `json:"sessionKey"`
	AgentID    string `json:"agentId"`
	MessageID  string `json:"messageId,omitempty"`
}

// QuestionAnswer is the payload of hook.ask_user_answer.
type QuestionAnswer struct {
	QuestionID string            `json:"questionId"`
	Answers    map[string]string `json:"answers"`
}

// ToolResult is the payload of tool.result.
type ToolResult struct {
	CallID string          `json:"callId"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Ping, Pong and Health carry no meaningful payload.
type (
	Ping   struct{}
	Pong   struct{}
	Health struct {
		Status string `json:"status,omitempty"`
	}
)

// Unknown is any frame whose type is not part of the protocol.
type Unknown struct {
	Type    string
	Payload json.RawMessage
}

func (*AgentMessage) inboundType() string     { return TypeAgent }
func (*ApprovalDecision) inboundType() string { return TypeApproval }
func (*Reaction) inboundType() string         { return TypeReact }
func (*ReadReceipt) inboundType() string      { return TypeRead }
func (*QuestionAnswer) inboundType() string   { return TypeAskUserAnswer }
func (*ToolResult) inboundType() string       { return TypeToolResult }
func (*Ping) inboundType() string             { return TypePing }
func (*Pong) inboundType() string             { return TypePong }
func (*Health) inboundType() string           { return TypeHealth }
func (u *Unknown) inboundType() string        { return u.Type }

// TypeOf returns the envelope type an inbound value was decoded from.
func TypeOf(in Inbound) string {
	return in.inboundType()
}

// Decode parses one inbound frame. A JSON error is returned for frames that
// are not valid envelopes or whose payload does not match the type; frames
// with an unrecognized type decode to *Unknown without error.
func Decode(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var in Inbound
	switch env.Type {
	case TypeAgent:
		in = &AgentMessage{}
	case TypeApproval:
		in = &ApprovalDecision{}
	case TypeReact:
		in = &Reaction{}
	case TypeRead:
		in = &ReadReceipt{}
	case TypeAskUserAnswer:
		in = &QuestionAnswer{}
	case TypeToolResult:
		in = &ToolResult{}
	case TypePing:
		return &Ping{}, nil
	case TypePong:
		return &Pong{}, nil
	case TypeHealth:
		in = &Health{}
	default:
		return &Unknown{Type: env.Type, Payload: env.Payload}, nil
	}

	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return in, nil
	}
	if err := json.Unmarshal(env.Payload, in); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return in, nil
}
