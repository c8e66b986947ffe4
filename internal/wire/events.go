package wire

// Outbound event names.
const (
	EventPresence        = "chat.presence"
	EventChunk           = "chat.chunk"
	EventDone            = "chat.done"
	EventMedia           = "chat.media"
	EventReact           = "chat.react"
	EventEdit            = "chat.edit"
	EventDelete          = "chat.delete"
	EventToolStart       = "tool.start"
	EventToolDone        = "tool.done"
	EventToolError       = "tool.error"
	EventToolCall        = "tool.call"
	EventApprovalRequest = "exec.approval.requested"
	EventAskUserQuestion = "ask_user_question"
	EventMemorySync      = "agent.memory_sync"
	EventModelsSync      = "models.sync"
)

// Presence statuses.
const (
	StatusTyping   = "typing"
	StatusIdle     = "idle"
	StatusThinking = "thinking"
)

// PresencePayload is the body of chat.presence.
type PresencePayload struct {
	SessionKey string `json:"sessionKey"`
	AgentID    string `json:"agentId"`
	Status     string `json:"status"`
}

// ChunkPayload is the body of chat.chunk. Done is always false.
type ChunkPayload struct {
	SessionKey string `json:"sessionKey"`
	AgentID    string `json:"agentId"`
	Content    string `json:"content"`
	Done       bool   `json:"done"`
}

// ContextUsage summarizes context-window consumption.
type ContextUsage struct {
	Used    int `json:"used"`
	Max     int `json:"max"`
	Percent int `json:"percent"`
}

// DonePayload is the terminal event of every turn.
type DonePayload struct {
	SessionKey string        `json:"sessionKey"`
	AgentID    string        `json:"agentId"`
	Content    string        `json:"content"`
	Done       bool          `json:"done"`
	TokenCount *int          `json:"tokenCount,omitempty"`
	Cost       *float64      `json:"cost,omitempty"`
	Context    *ContextUsage `json:"context,omitempty"`
}

// MediaPayload is the body of chat.media.
type MediaPayload struct {
	SessionKey   string `json:"sessionKey"`
	AgentID      string `json:"agentId"`
	MediaURL     string `json:"mediaUrl"`
	MimeType     string `json:"mimeType"`
	FileName     string `json:"fileName"`
	AudioAsVoice bool   `json:"audioAsVoice"`
}

// ReactPayload is the body of chat.react.
type ReactPayload struct {
	SessionKey string `json:"sessionKey"`
	AgentID    string `json:"agentId"`
	MessageID  string `json:"messageId"`
	Emoji      string `json:"emoji"`
}

// EditPayload is the body of chat.edit.
type EditPayload struct {
	SessionKey string `json:"sessionKey"`
	AgentID    string `json:"agentId"`
	MessageID  string `json:"messageId"`
	Content    string `json:"content"`
}

// DeletePayload is the body of chat.delete.
type DeletePayload struct {
	SessionKey string `json:"sessionKey"`
	AgentID    string `json:"agentId"`
	MessageID  string `json:"messageId"`
}

// ToolLifecyclePayload is the body of tool.start, tool.done and tool.error.
type ToolLifecyclePayload struct {
	SessionKey  string `json:"sessionKey"`
	AgentID     string `json:"agentId"`
	ExecutionID string `json:"executionId,omitempty"`
	ToolName    string `json:"toolName"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// ApprovalRequestPayload is the body of exec.approval.requested.
type ApprovalRequestPayload struct {
	SessionKey  string         `json:"sessionKey"`
	AgentID     string         `json:"agentId"`
	ExecutionID string         `json:"executionId"`
	ToolName    string         `json:"toolName"`
	Action      string         `json:"action"`
	Params      map[string]any `json:"params,omitempty"`
}

// QuestionOption is one selectable answer.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Question is one entry of an ask_user_question group.
type Question struct {
	Question    string           `json:"question"`
	Header      string           `json:"header,omitempty"`
	Options     []QuestionOption `json:"options,omitempty"`
	MultiSelect bool             `json:"multiSelect,omitempty"`
}

// QuestionPayload is the body of ask_user_question.
type QuestionPayload struct {
	SessionKey string     `json:"sessionKey"`
	AgentID    string     `json:"agentId"`
	QuestionID string     `json:"questionId"`
	Questions  []Question `json:"questions"`
}

// MemoryFile is one synced workspace file.
type MemoryFile struct {
	Content string `json:"content"`
	Hash    string `json:"hash"`
}

// MemorySyncPayload is the body of agent.memory_sync.
type MemorySyncPayload struct {
	SessionKey string                `json:"sessionKey"`
	AgentID    string                `json:"agentId"`
	Files      map[string]MemoryFile `json:"files"`
}

// Model describes one model offered to the backend.
type Model struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Provider      string `json:"provider,omitempty"`
	ContextWindow int    `json:"contextWindow,omitempty"`
}

// ModelsSyncPayload is the body of models.sync.
type ModelsSyncPayload struct {
	Models []Model `json:"models"`
}

// ToolCallPayload asks the backend to run a tool on behalf of an agent.
// The answer arrives as a tool.result frame carrying the same CallID.
type ToolCallPayload struct {
	SessionKey string         `json:"sessionKey"`
	AgentID    string         `json:"agentId"`
	CallID     string         `json:"callId"`
	ToolName   string         `json:"toolName"`
	Params     map[string]any `json:"params,omitempty"`
}

// HealthPayload is sent once right after connecting.
type HealthPayload struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
