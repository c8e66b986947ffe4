package turn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/whimmy-ai/whimmy-plugin/internal/wire"
)

func TestBuildBodyWithHistoryAndAttachments(t *testing.T) {
	msg := &wire.AgentMessage{
		Message: "And now?",
		History: []wire.HistoryEntry{
			{Role: "user", Content: "What is 2+2?"},
			{Role: "assistant", Name: "Calc", Content: "4"},
			{Role: "assistant", Content: "Anything else?"},
		},
		Attachments: []wire.Attachment{
			{FileName: "notes.txt", MimeType: "text/plain"},
			{URL: "https://example.com/x"},
		},
	}

	want := "[Conversation history]\n" +
		"User: What is 2+2?\n" +
		"Assistant (Calc): 4\n" +
		"Assistant: Anything else?\n" +
		"[Current message]\n" +
		"And now?\n" +
		"[Attachment: notes.txt (text/plain)]\n" +
		"[Attachment: https://example.com/x]"
	assert.Equal(t, want, BuildBody(msg))
}

func TestBuildBodyPlain(t *testing.T) {
	assert.Equal(t, "hello", BuildBody(&wire.AgentMessage{Message: "hello"}))
}

func TestBuildSystemPrompt(t *testing.T) {
	off := false
	msg := &wire.AgentMessage{
		IsOrchestrator: true,
		AvailableAgents: []wire.AgentSummary{
			{ID: "r1", Name: "Researcher", Emoji: "🔎", Description: "finds things"},
			{ID: "w1", Name: "Writer"},
		},
	}

	got := BuildSystemPrompt(wire.AgentConfig{SystemPrompt: "Be brief."}, msg)
	assert.Contains(t, got, "Be brief.")
	assert.Contains(t, got, "## Delegation")
	assert.Contains(t, got, "delegate_to_agent")
	assert.Contains(t, got, "- 🔎 Researcher (id: r1): finds things")
	assert.Contains(t, got, "- Writer (id: w1)")
	assert.Contains(t, got, "## Asking the user")

	got = BuildSystemPrompt(wire.AgentConfig{
		SystemPrompt: "Be brief.",
		Questions:    &wire.QuestionPolicy{Enabled: &off},
	}, &wire.AgentMessage{IsOrchestrator: true})
	assert.Equal(t, "Be brief.", got, "no agents and questions disabled")
}

func TestBuildContext(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := &wire.AgentMessage{
		Message:    "raw",
		AgentID:    "a1",
		SessionKey: "S1",
		Channel:    "web",
		MessageID:  "m1",
		SenderName: "Ana",
		Attachments: []wire.Attachment{
			{Path: "/a.png", URL: "https://x/a.png", MimeType: "image/png"},
			{Path: "/b.pdf", MimeType: "application/pdf"},
		},
	}

	ic := BuildContext("default", msg, "body", now)
	assert.Equal(t, "body", ic.Body)
	assert.Equal(t, "raw", ic.RawBody)
	assert.Equal(t, "agent:a1:direct:s1", ic.SessionKey)
	assert.Equal(t, "agent:a1:main", ic.MainSessionKey)
	assert.Equal(t, "S1", ic.BackendKey)
	assert.Equal(t, "default", ic.AccountID)
	assert.Equal(t, now, ic.Timestamp)
	assert.Equal(t, []string{"/a.png", "/b.pdf"}, ic.MediaPaths)
	assert.Equal(t, []string{"https://x/a.png", ""}, ic.MediaURLs)
	assert.Equal(t, []string{"image/png", "application/pdf"}, ic.MediaTypes)
	assert.Equal(t, "/a.png", ic.MediaPath)
	assert.Equal(t, "image/png", ic.MediaType)
}

func TestDeltaStream(t *testing.T) {
	var d deltaStream
	assert.Equal(t, "Hel", d.Next("Hel"))
	assert.Equal(t, "lo", d.Next("Hello"))
	assert.Equal(t, "", d.Next("Hello"))
	assert.Equal(t, "", d.Next("He"), "stale prefix")
	assert.Equal(t, "Second block", d.Next("Second block"))
	assert.Equal(t, "!", d.Next("Second block!"))
}
