package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEventNestsPayload(t *testing.T) {
	data, err := EncodeEvent(EventChunk, ChunkPayload{SessionKey: "s1", AgentID: "a1", Content: "hi"})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "event", raw["type"])

	inner := raw["payload"].(map[string]any)
	assert.Equal(t, "chat.chunk", inner["event"])
	body := inner["payload"].(map[string]any)
	assert.Equal(t, "hi", body["content"])
	assert.Equal(t, false, body["done"])
}

func TestDecodeEventRoundTrip(t *testing.T) {
	data, err := EncodeEvent(EventPresence, PresencePayload{SessionKey: "s", AgentID: "a", Status: StatusTyping})
	require.NoError(t, err)

	name, payload, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, EventPresence, name)

	var p PresencePayload
	require.NoError(t, json.Unmarshal(payload, &p))
	assert.Equal(t, StatusTyping, p.Status)
}

func TestEncodeEventRejectsEmptyName(t *testing.T) {
	_, err := EncodeEvent("", nil)
	assert.Error(t, err)
}

func TestDonePayloadOmitsUnsetAccounting(t *testing.T) {
	data, err := json.Marshal(DonePayload{SessionKey: "s", AgentID: "a", Done: true})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "tokenCount")
	assert.NotContains(t, string(data), "context")
	assert.NotContains(t, string(data), "cost")
}

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, in Inbound)
	}{
		{
			name:  "agent message",
			frame: `{"type":"hook.agent","payload":{"message":"hello","agentId":"a1","sessionKey":"s1","agentConfig":{"model":"claude-sonnet-4","approvals":{"enabled":true,"mode":"always","tools":["Bash"]}}}}`,
			check: func(t *testing.T, in Inbound) {
				msg, ok := in.(*AgentMessage)
				require.True(t, ok)
				assert.Equal(t, "hello", msg.Message)
				assert.Equal(t, "claude-sonnet-4", msg.AgentConfig.Model)
				require.NotNil(t, msg.AgentConfig.Approvals)
				assert.Equal(t, ApprovalModeAlways, msg.AgentConfig.Approvals.Mode)
			},
		},
		{
			name:  "approval",
			frame: `{"type":"hook.approval","payload":{"executionId":"e1","approved":true}}`,
			check: func(t *testing.T, in Inbound) {
				d, ok := in.(*ApprovalDecision)
				require.True(t, ok)
				assert.Equal(t, "e1", d.ExecutionID)
				assert.True(t, d.Approved)
			},
		},
		{
			name:  "question answer",
			frame: `{"type":"hook.ask_user_answer","payload":{"questionId":"q1","answers":{"Color?":"Red, Blue"}}}`,
			check: func(t *testing.T, in Inbound) {
				a, ok := in.(*QuestionAnswer)
				require.True(t, ok)
				assert.Equal(t, "Red, Blue", a.Answers["Color?"])
			},
		},
		{
			name:  "tool result",
			frame: `{"type":"tool.result","payload":{"callId":"c1","result":{"ok":true}}}`,
			check: func(t *testing.T, in Inbound) {
				r, ok := in.(*ToolResult)
				require.True(t, ok)
				assert.JSONEq(t, `{"ok":true}`, string(r.Result))
			},
		},
		{
			name:  "ping without payload",
			frame: `{"type":"ping"}`,
			check: func(t *testing.T, in Inbound) {
				_, ok := in.(*Ping)
				assert.True(t, ok)
			},
		},
		{
			name:  "react",
			frame: `{"type":"hook.react","payload":{"sessionKey":"s","agentId":"a","messageId":"m","emoji":"👍"}}`,
			check: func(t *testing.T, in Inbound) {
				r, ok := in.(*Reaction)
				require.True(t, ok)
				assert.Equal(t, "👍", r.Emoji)
			},
		},
		{
			name:  "unknown type",
			frame: `{"type":"hook.mystery","payload":{}}`,
			check: func(t *testing.T, in Inbound) {
				u, ok := in.(*Unknown)
				require.True(t, ok)
				assert.Equal(t, "hook.mystery", TypeOf(u))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := Decode([]byte(tt.frame))
			require.NoError(t, err)
			tt.check(t, in)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"type":"hook.approval","payload":"nope"}`))
	assert.Error(t, err)
}

func TestQuestionPolicyDisabled(t *testing.T) {
	var nilPolicy *QuestionPolicy
	assert.False(t, nilPolicy.Disabled())

	off := false
	assert.True(t, (&QuestionPolicy{Enabled: &off}).Disabled())
	assert.False(t, (&QuestionPolicy{}).Disabled())
}
