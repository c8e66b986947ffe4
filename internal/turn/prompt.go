package turn

import (
	"fmt"
	"strings"
	"time"

	"github.com/whimmy-ai/whimmy-plugin/internal/engine"
	"github.com/whimmy-ai/whimmy-plugin/internal/hooks"
	"github.com/whimmy-ai/whimmy-plugin/internal/session"
	"github.com/whimmy-ai/whimmy-plugin/internal/wire"
)

// Markers framing prior conversation in the agent-facing body.
const (
	historyHeader = "[Conversation history]"
	historyMarker = "[Current message]"
)

// BuildBody returns the agent-facing message: optional history, the live
// message, then optional attachment notes.
func BuildBody(msg *wire.AgentMessage) string {
	var b strings.Builder

	if len(msg.History) > 0 {
		b.WriteString(historyHeader)
		b.WriteByte('\n')
		for _, h := range msg.History {
			b.WriteString(formatHistoryLine(h))
			b.WriteByte('\n')
		}
		b.WriteString(historyMarker)
		b.WriteByte('\n')
	}

	b.WriteString(msg.Message)

	for _, a := range msg.Attachments {
		name := a.FileName
		if name == "" {
			name = firstNonEmpty(a.Path, a.URL)
		}
		if a.MimeType != "" {
			fmt.Fprintf(&b, "\n[Attachment: %s (%s)]", name, a.MimeType)
		} else {
			fmt.Fprintf(&b, "\n[Attachment: %s]", name)
		}
	}
	return b.String()
}

func formatHistoryLine(h wire.HistoryEntry) string {
	switch strings.ToLower(h.Role) {
	case "user":
		return "User: " + h.Content
	case "assistant":
		if h.Name != "" {
			return fmt.Sprintf("Assistant (%s): %s", h.Name, h.Content)
		}
		return "Assistant: " + h.Content
	case "":
		return h.Content
	default:
		return strings.ToUpper(h.Role[:1]) + h.Role[1:] + ": " + h.Content
	}
}

// BuildSystemPrompt extends the agent's prompt with delegation instructions
// for orchestrators and question-tool instructions unless questions are
// disabled.
func BuildSystemPrompt(cfg wire.AgentConfig, msg *wire.AgentMessage) string {
	parts := []string{}
	if cfg.SystemPrompt != "" {
		parts = append(parts, cfg.SystemPrompt)
	}

	if msg.IsOrchestrator && len(msg.AvailableAgents) > 0 {
		var b strings.Builder
		b.WriteString("## Delegation\n\n")
		fmt.Fprintf(&b, "You coordinate other agents. Hand work to one of them with the %s tool, passing its id and a self-contained task.\n\n", hooks.ToolDelegate)
		b.WriteString("Available agents:\n")
		for _, a := range msg.AvailableAgents {
			b.WriteString("- ")
			if a.Emoji != "" {
				b.WriteString(a.Emoji + " ")
			}
			fmt.Fprintf(&b, "%s (id: %s)", a.Name, a.ID)
			if a.Description != "" {
				b.WriteString(": " + a.Description)
			}
			b.WriteByte('\n')
		}
		parts = append(parts, strings.TrimRight(b.String(), "\n"))
	}

	if !cfg.Questions.Disabled() {
		parts = append(parts, fmt.Sprintf("## Asking the user\n\n"+
			"When you need a decision or missing information from the user, call the %s tool "+
			"instead of guessing. Pass a list of questions, each with a short header and, when the "+
			"choices are known, a list of options; set multiSelect when several options may apply. "+
			"The tool returns the user's answers keyed by question text.", hooks.ToolAskUserQuestion))
	}

	return strings.Join(parts, "\n\n")
}

// BuildContext normalizes an inbound message for the engine.
func BuildContext(accountID string, msg *wire.AgentMessage, body string, now time.Time) engine.InboundContext {
	ic := engine.InboundContext{
		Body:           body,
		RawBody:        msg.Message,
		SessionKey:     session.DeriveSessionKey(msg.AgentID, msg.SessionKey),
		MainSessionKey: session.MainSessionKey(msg.AgentID),
		BackendKey:     msg.SessionKey,
		AccountID:      accountID,
		AgentID:        msg.AgentID,
		Channel:        msg.Channel,
		MessageID:      msg.MessageID,
		SenderName:     msg.SenderName,
		Timestamp:      now,
	}
	for _, a := range msg.Attachments {
		ic.MediaPaths = append(ic.MediaPaths, a.Path)
		ic.MediaURLs = append(ic.MediaURLs, a.URL)
		ic.MediaTypes = append(ic.MediaTypes, a.MimeType)
	}
	if len(msg.Attachments) > 0 {
		ic.MediaPath = ic.MediaPaths[0]
		ic.MediaURL = ic.MediaURLs[0]
		ic.MediaType = ic.MediaTypes[0]
	}
	return ic
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
