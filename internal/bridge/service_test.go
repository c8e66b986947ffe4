package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whimmy-ai/whimmy-plugin/internal/agentsync"
	"github.com/whimmy-ai/whimmy-plugin/internal/conn"
	"github.com/whimmy-ai/whimmy-plugin/internal/correlation"
	"github.com/whimmy-ai/whimmy-plugin/internal/engine"
	"github.com/whimmy-ai/whimmy-plugin/internal/metrics"
	"github.com/whimmy-ai/whimmy-plugin/internal/wire"
)

// frame is one message the mock backend received.
type frame struct {
	Type    string
	Event   string
	Payload json.RawMessage
}

// backend is a mock whimmy backend that records frames and lets tests push
// frames to the plugin.
type backend struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	frames   chan frame

	mu sync.Mutex
	ws *websocket.Conn
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{frames: make(chan frame, 256)}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.ws = ws
		b.mu.Unlock()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var env wire.Envelope
			if json.Unmarshal(data, &env) != nil {
				continue
			}
			f := frame{Type: env.Type, Payload: env.Payload}
			if env.Type == wire.TypeEvent {
				name, payload, err := wire.DecodeEvent(data)
				if err != nil {
					continue
				}
				f.Event, f.Payload = name, payload
			}
			b.frames <- f
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) info() conn.Info {
	return conn.Info{Host: strings.TrimPrefix(b.srv.URL, "http://"), Token: "t"}
}

func (b *backend) push(t *testing.T, msgType string, payload any) {
	t.Helper()
	data, err := wire.Encode(msgType, payload)
	require.NoError(t, err)
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotNil(t, b.ws)
	require.NoError(t, b.ws.WriteMessage(websocket.TextMessage, data))
}

// next returns the next frame, failing after a timeout.
func (b *backend) next(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-b.frames:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("no frame from plugin")
		return frame{}
	}
}

// until collects event frames up to and including the named event.
func (b *backend) until(t *testing.T, event string) []frame {
	t.Helper()
	var out []frame
	for {
		f := b.next(t)
		out = append(out, f)
		if f.Event == event {
			return out
		}
	}
}

func eventNames(frames []frame) []string {
	var out []string
	for _, f := range frames {
		if f.Event != "" {
			out = append(out, f.Event)
		}
	}
	return out
}

// countingStore counts agents-file writes.
type countingStore struct {
	*agentsync.FileStore
	mu     sync.Mutex
	writes int
}

func (c *countingStore) Write(ctx context.Context, f *agentsync.AgentsFile) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.FileStore.Write(ctx, f)
}

func (c *countingStore) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

type fixture struct {
	svc     *Service
	backend *backend
	store   *countingStore
	engine  *engine.Loopback
}

func start(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store := &countingStore{FileStore: agentsync.NewFileStore(filepath.Join(dir, "agents.yaml"))}
	eng := engine.NewLoopback(nil)

	svc, err := New(Options{
		Engine:          eng,
		Syncer:          agentsync.NewSyncer(store, filepath.Join(dir, "workspace")),
		Metrics:         metrics.New(),
		Version:         "test",
		ApprovalTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})

	b := newBackend(t)
	require.NoError(t, svc.StartAccount(context.Background(), "default", b.info()))

	health := b.next(t)
	require.Equal(t, wire.TypeHealth, health.Type)
	models := b.next(t)
	require.Equal(t, wire.EventModelsSync, models.Event)

	return &fixture{svc: svc, backend: b, store: store, engine: eng}
}

func agentHook(message string, cfg wire.AgentConfig) *wire.AgentMessage {
	return &wire.AgentMessage{
		Message:     message,
		AgentID:     "a1",
		SessionKey:  "s1",
		AgentConfig: cfg,
	}
}

func TestNewRequiresEngineAndSyncer(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	_, err = New(Options{Engine: engine.NewLoopback(nil)})
	assert.Error(t, err)
}

func TestAgentTurnEndToEnd(t *testing.T) {
	f := start(t)

	f.backend.push(t, wire.TypeAgent, agentHook("hello there", wire.AgentConfig{Model: "claude-sonnet-4"}))
	frames := f.backend.until(t, wire.EventDone)

	assert.Equal(t, []string{
		wire.EventPresence, wire.EventChunk, wire.EventChunk, wire.EventPresence, wire.EventDone,
	}, eventNames(frames))

	var chunks []string
	for _, fr := range frames {
		if fr.Event == wire.EventChunk {
			var p wire.ChunkPayload
			require.NoError(t, json.Unmarshal(fr.Payload, &p))
			assert.Equal(t, "s1", p.SessionKey)
			chunks = append(chunks, p.Content)
		}
	}
	assert.Equal(t, []string{"hello", " there"}, chunks)

	var done wire.DonePayload
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Payload, &done))
	assert.True(t, done.Done)
	assert.Empty(t, done.Content)
	require.NotNil(t, done.TokenCount)
	assert.Equal(t, 4, *done.TokenCount)
	require.NotNil(t, done.Context)
	assert.Equal(t, 200_000, done.Context.Max)
}

func TestUnchangedConfigWritesOnce(t *testing.T) {
	f := start(t)
	cfg := wire.AgentConfig{Model: "claude-sonnet-4", SystemPrompt: "be kind"}

	for i := 0; i < 2; i++ {
		f.backend.push(t, wire.TypeAgent, agentHook("hi", cfg))
		f.backend.until(t, wire.EventDone)
	}
	assert.Equal(t, 1, f.store.Writes())
}

func TestDispatchErrorEndsTurn(t *testing.T) {
	f := start(t)
	f.backend.push(t, wire.TypeAgent, agentHook("/fail kaput", wire.AgentConfig{Model: "m"}))

	frames := f.backend.until(t, wire.EventDone)
	var done wire.DonePayload
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Payload, &done))
	assert.Equal(t, "kaput", done.Content)
}

func TestApprovalRoundTrip(t *testing.T) {
	f := start(t)
	cfg := wire.AgentConfig{
		Model:     "m",
		Approvals: &wire.ApprovalPolicy{Enabled: true, Tools: []string{"Bash"}},
	}
	f.backend.push(t, wire.TypeAgent, agentHook("/exec ls -la", cfg))

	frames := f.backend.until(t, wire.EventApprovalRequest)
	var req wire.ApprovalRequestPayload
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Payload, &req))
	assert.Equal(t, "exec", req.ToolName)
	assert.Equal(t, "ls -la", req.Action)
	assert.Equal(t, "s1", req.SessionKey)
	require.NotEmpty(t, req.ExecutionID)

	f.backend.push(t, wire.TypeApproval, wire.ApprovalDecision{ExecutionID: req.ExecutionID, Approved: true})

	frames = f.backend.until(t, wire.EventDone)
	names := eventNames(frames)
	assert.Contains(t, names, wire.EventToolStart)
	assert.Contains(t, names, wire.EventToolDone)

	var text strings.Builder
	for _, fr := range frames {
		if fr.Event == wire.EventChunk {
			var p wire.ChunkPayload
			require.NoError(t, json.Unmarshal(fr.Payload, &p))
			text.WriteString(p.Content)
		}
	}
	assert.Equal(t, "would run: ls -la", text.String())
}

func TestApprovalDenied(t *testing.T) {
	f := start(t)
	cfg := wire.AgentConfig{
		Model:     "m",
		Approvals: &wire.ApprovalPolicy{Enabled: true, Tools: []string{"*"}},
	}
	f.backend.push(t, wire.TypeAgent, agentHook("/exec rm -rf /", cfg))

	frames := f.backend.until(t, wire.EventApprovalRequest)
	var req wire.ApprovalRequestPayload
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Payload, &req))
	f.backend.push(t, wire.TypeApproval, wire.ApprovalDecision{ExecutionID: req.ExecutionID, Approved: false})

	frames = f.backend.until(t, wire.EventDone)
	assert.NotContains(t, eventNames(frames), wire.EventToolStart)
}

func TestQuestionRoundTrip(t *testing.T) {
	f := start(t)
	f.backend.push(t, wire.TypeAgent, agentHook("/ask Which color?", wire.AgentConfig{Model: "m"}))

	frames := f.backend.until(t, wire.EventAskUserQuestion)
	var q wire.QuestionPayload
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Payload, &q))
	require.Len(t, q.Questions, 1)
	assert.Equal(t, "Which color?", q.Questions[0].Question)

	f.backend.push(t, wire.TypeAskUserAnswer, wire.QuestionAnswer{
		QuestionID: q.QuestionID,
		Answers:    map[string]string{"Which color?": "blue"},
	})

	frames = f.backend.until(t, wire.EventDone)
	assert.NotContains(t, eventNames(frames), wire.EventToolStart)
	var text strings.Builder
	for _, fr := range frames {
		if fr.Event == wire.EventChunk {
			var p wire.ChunkPayload
			require.NoError(t, json.Unmarshal(fr.Payload, &p))
			text.WriteString(p.Content)
		}
	}
	assert.Equal(t, "answers: Which color? = blue", text.String())
}

func TestCallTool(t *testing.T) {
	f := start(t)

	type result struct {
		raw json.RawMessage
		err error
	}
	got := make(chan result, 1)
	go func() {
		raw, err := f.svc.CallTool(context.Background(), "default", "s1", "a1", "web_search", map[string]any{"q": "go"}, 2*time.Second)
		got <- result{raw, err}
	}()

	fr := f.backend.next(t)
	require.Equal(t, wire.EventToolCall, fr.Event)
	var call wire.ToolCallPayload
	require.NoError(t, json.Unmarshal(fr.Payload, &call))
	assert.Equal(t, "web_search", call.ToolName)

	f.backend.push(t, wire.TypeToolResult, wire.ToolResult{CallID: call.CallID, Result: json.RawMessage(`{"hits":3}`)})

	select {
	case r := <-got:
		require.NoError(t, r.err)
		assert.JSONEq(t, `{"hits":3}`, string(r.raw))
	case <-time.After(3 * time.Second):
		t.Fatal("CallTool did not return")
	}
}

func TestCallToolRemoteError(t *testing.T) {
	f := start(t)

	errc := make(chan error, 1)
	go func() {
		_, err := f.svc.CallTool(context.Background(), "default", "s1", "a1", "x", nil, time.Second)
		errc <- err
	}()
	var call wire.ToolCallPayload
	require.NoError(t, json.Unmarshal(f.backend.next(t).Payload, &call))
	f.backend.push(t, wire.TypeToolResult, wire.ToolResult{CallID: call.CallID, Error: "tool exploded"})

	select {
	case err := <-errc:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tool exploded")
	case <-time.After(3 * time.Second):
		t.Fatal("CallTool did not return")
	}
}

func TestCallToolNotConnected(t *testing.T) {
	f := start(t)
	_, err := f.svc.CallTool(context.Background(), "nobody", "s1", "a1", "x", nil, time.Second)
	assert.ErrorIs(t, err, conn.ErrNotConnected)
	assert.Zero(t, f.svc.Tables().ToolResults.Pending())
}

func TestPingPongAndUnknown(t *testing.T) {
	f := start(t)
	f.backend.push(t, "mystery", map[string]any{"x": 1})
	f.backend.push(t, wire.TypePing, nil)

	fr := f.backend.next(t)
	assert.Equal(t, wire.TypePong, fr.Type)
}

func TestReactionsReachEngine(t *testing.T) {
	f := start(t)
	f.backend.push(t, wire.TypeReact, wire.Reaction{SessionKey: "s1", AgentID: "a1", Emoji: "👍"})
	f.backend.push(t, wire.TypeRead, wire.ReadReceipt{SessionKey: "s1", AgentID: "a1"})

	assert.Eventually(t, func() bool {
		reactions, reads := f.engine.Counts()
		return reactions == 1 && reads == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestAgentActions(t *testing.T) {
	f := start(t)
	require.NoError(t, f.svc.React("default", "s1", "a1", "m1", "🎉"))
	require.NoError(t, f.svc.Edit("default", "s1", "a1", "m1", "fixed"))
	require.NoError(t, f.svc.Delete("default", "s1", "a1", "m1"))

	assert.Equal(t, wire.EventReact, f.backend.next(t).Event)
	edit := f.backend.next(t)
	assert.Equal(t, wire.EventEdit, edit.Event)
	var p wire.EditPayload
	require.NoError(t, json.Unmarshal(edit.Payload, &p))
	assert.Equal(t, "fixed", p.Content)
	assert.Equal(t, wire.EventDelete, f.backend.next(t).Event)

	assert.ErrorIs(t, f.svc.React("nobody", "s1", "a1", "m1", "x"), conn.ErrNotConnected)
}

func TestSyncModelsAndStatus(t *testing.T) {
	f := start(t)
	f.svc.SyncModels()
	assert.Equal(t, wire.EventModelsSync, f.backend.next(t).Event)

	st := f.svc.Status()
	require.Len(t, st.Accounts, 1)
	assert.Equal(t, "default", st.Accounts[0].AccountID)
	assert.Equal(t, "open", st.Accounts[0].State)
	assert.Contains(t, st.Pending, "approval")
}

func TestShutdownRejectsPending(t *testing.T) {
	f := start(t)
	_, w := f.svc.Tables().Approvals.Register(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Shutdown(ctx))

	_, err := w.Wait(context.Background())
	assert.ErrorIs(t, err, correlation.ErrClosed)
	assert.Zero(t, f.svc.Registry().Count())
}

func TestNoTurnStartsAfterShutdown(t *testing.T) {
	f := start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Shutdown(ctx))

	f.svc.startTurn("default", agentHook("late", wire.AgentConfig{Model: "m"}))
	assert.Zero(t, f.svc.Status().ActiveTurns)

	done := make(chan struct{})
	go func() {
		f.svc.turnWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a turn started after shutdown")
	}
	assert.Zero(t, f.store.writes, "late message must not sync config")
}
