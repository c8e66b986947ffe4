package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSessionKey(t *testing.T) {
	assert.Equal(t, "agent:agenta:direct:sess-123", DeriveSessionKey("agentA", "sess-123"))
	assert.Equal(t, "agent:a1:main", MainSessionKey("A1"))
}

func TestRecoverBackendSessionKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"derived", DeriveSessionKey("agentA", "sess-123"), "sess-123"},
		{"too few segments", "agent:a1:main", "agent:a1:main"},
		{"plain", "sess-123", "sess-123"},
		{"colon in backend key", "agent:a1:direct:chat:42", "chat:42"},
		{"colon in agent id shifts", "agent:team:a1:direct:s1", "direct:s1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RecoverBackendSessionKey(tt.key))
		})
	}
}

func TestRoundTrips(t *testing.T) {
	assert.True(t, RoundTrips("agentA", "sess-123"))
	assert.True(t, RoundTrips("a1", "chat:42"))
	assert.False(t, RoundTrips("team:a1", "s1"))
	assert.False(t, RoundTrips("a1", "Sess-123"))
}

func TestParseSessionKey(t *testing.T) {
	info := ParseSessionKey("agent:a1:direct:s1")
	assert.Equal(t, "a1", info.AgentID)
	assert.Equal(t, KindDirect, info.Kind)
	assert.Equal(t, "s1", info.Rest)

	info = ParseSessionKey("agent:a1:main")
	assert.Equal(t, KindMain, info.Kind)
	assert.Empty(t, info.Rest)

	info = ParseSessionKey("telegram:dm:1")
	assert.Empty(t, info.AgentID)
	assert.False(t, IsAgentKey("telegram:dm:1"))
	assert.Equal(t, "a1", ExtractAgentID("agent:a1:main"))
}

func TestTokenTrackerDeltas(t *testing.T) {
	tr := NewTokenTracker(0)
	key := DeriveSessionKey("a1", "s1")

	var emitted []int
	for _, total := range []int{100, 100, 250} {
		if d, ok := tr.Delta(key, total); ok {
			emitted = append(emitted, d)
		} else {
			emitted = append(emitted, -1)
		}
	}
	assert.Equal(t, []int{100, -1, 150}, emitted)
}

func TestTokenTrackerSeparatesSessions(t *testing.T) {
	tr := NewTokenTracker(0)
	d, ok := tr.Delta("s1", 50)
	require.True(t, ok)
	assert.Equal(t, 50, d)

	d, ok = tr.Delta("s2", 70)
	require.True(t, ok)
	assert.Equal(t, 70, d)

	_, ok = tr.Delta("s1", 40)
	assert.False(t, ok, "a shrinking total is not a positive delta")
}

func TestTokenTrackerIsBounded(t *testing.T) {
	tr := NewTokenTracker(2)
	tr.Delta("s1", 10)
	tr.Delta("s2", 10)
	tr.Delta("s3", 10)
	assert.Equal(t, 2, tr.Len())

	// s1 was evicted, so its baseline restarts at zero.
	d, ok := tr.Delta("s1", 10)
	require.True(t, ok)
	assert.Equal(t, 10, d)
}

func TestContextWindow(t *testing.T) {
	assert.Equal(t, 200_000, ContextWindow("claude-opus-4"))
	assert.Equal(t, 200_000, ContextWindow("claude-3-5-sonnet"))
	assert.Equal(t, 200_000, ContextWindow("o3-mini"))
	assert.Equal(t, 128_000, ContextWindow("gpt-4o"))
	assert.Equal(t, 128_000, ContextWindow("GPT-4-turbo"))
	assert.Equal(t, 200_000, ContextWindow("some-new-model"))
}

func TestUsage(t *testing.T) {
	u := Usage(50_000, "claude-sonnet-4")
	require.NotNil(t, u)
	assert.Equal(t, 200_000, u.Max)
	assert.Equal(t, 25, u.Percent)

	u = Usage(1_000, "gpt-4o")
	require.NotNil(t, u)
	assert.Equal(t, 1, u.Percent)

	assert.Nil(t, Usage(0, "gpt-4o"))
}
