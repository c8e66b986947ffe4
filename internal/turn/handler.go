// Package turn runs one agent turn per inbound hook.agent message and
// produces the ordered stream of outbound events for it.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/whimmy-ai/whimmy-plugin/internal/conn"
	"github.com/whimmy-ai/whimmy-plugin/internal/engine"
	"github.com/whimmy-ai/whimmy-plugin/internal/session"
	"github.com/whimmy-ai/whimmy-plugin/internal/upload"
	"github.com/whimmy-ai/whimmy-plugin/internal/wire"
)

// State is a step of a turn. Turns move through the states in order.
type State string

const (
	StateReceived        State = "received"
	StateConfigSynced    State = "configSynced"
	StateContextBuilt    State = "contextBuilt"
	StateSessionRecorded State = "sessionRecorded"
	StateDispatching     State = "dispatching"
	StateMemorySynced    State = "memorySynced"
	StateCompleted       State = "completed"
)

// Turn outcomes reported to the observer.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// ConfigCache receives every inbound configuration verbatim.
type ConfigCache interface {
	Put(agentID string, cfg wire.AgentConfig)
}

// ConfigSyncer persists configuration and returns the one to use.
type ConfigSyncer interface {
	Sync(ctx context.Context, agentID string, cfg wire.AgentConfig) (wire.AgentConfig, bool, error)
}

// SessionRecorder persists inbound session metadata.
type SessionRecorder interface {
	RecordInboundSession(ctx context.Context, in engine.InboundContext) error
}

// MemoryCollector returns an agent's changed memory files.
type MemoryCollector interface {
	Collect(agentID string) (map[string]wire.MemoryFile, error)
}

// Observer is told how each turn ended.
type Observer interface {
	TurnFinished(outcome string, elapsed time.Duration)
}

// Deps are the collaborators of a Handler. Recorder, Uploader, Memory and
// Observer are optional.
type Deps struct {
	Cache    ConfigCache
	Syncer   ConfigSyncer
	Engine   engine.Engine
	Hooks    engine.ToolHooks
	Recorder SessionRecorder
	Uploader upload.Uploader
	Memory   MemoryCollector
	Tokens   *session.TokenTracker
	Observer Observer
	Logger   *slog.Logger
}

// Handler runs agent turns.
type Handler struct {
	Deps
	now func() time.Time
}

// NewHandler creates a handler.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default().With("component", "turn")
	}
	if d.Tokens == nil {
		d.Tokens = session.NewTokenTracker(0)
	}
	return &Handler{Deps: d, now: time.Now}
}

// Handle starts a turn for msg and returns its outbound events. The channel
// always ends with exactly one chat.done and is then closed. info is the
// account's connection triple, used for uploads.
func (h *Handler) Handle(ctx context.Context, accountID string, info conn.Info, msg *wire.AgentMessage) <-chan wire.OutboundEvent {
	out := make(chan wire.OutboundEvent, 32)
	t := &turn{
		h:         h,
		ctx:       ctx,
		accountID: accountID,
		info:      info,
		msg:       msg,
		out:       out,
		logger:    h.Logger.With("account", accountID, "agent", msg.AgentID, "session", msg.SessionKey),
		started:   h.now(),
	}
	go func() {
		defer close(out)
		t.run()
	}()
	return out
}

// turn is the state of one running turn.
type turn struct {
	h         *Handler
	ctx       context.Context
	accountID string
	info      conn.Info
	msg       *wire.AgentMessage
	out       chan<- wire.OutboundEvent
	logger    *slog.Logger
	started   time.Time

	state    State
	cfg      wire.AgentConfig
	ictx     engine.InboundContext
	stream   deltaStream
	usage    *engine.Usage
	err      error
	doneSent bool
}

func (t *turn) run() {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("turn panicked", "state", t.state, "panic", r)
			t.err = fmt.Errorf("internal error: %v", r)
			t.finish()
		}
	}()

	t.enter(StateReceived)
	t.h.Cache.Put(t.msg.AgentID, t.msg.AgentConfig)

	t.syncConfig()
	t.buildContext()
	t.recordSession()
	t.dispatch()
	t.syncMemory()
	t.finish()
}

func (t *turn) enter(s State) {
	t.state = s
	t.logger.Debug("turn state", "state", s)
}

func (t *turn) emit(name string, payload any) {
	select {
	case t.out <- wire.OutboundEvent{Name: name, Payload: payload}:
	case <-t.ctx.Done():
		t.logger.Debug("dropping event, turn context done", "event", name)
	}
}

func (t *turn) presence(status string) {
	t.emit(wire.EventPresence, wire.PresencePayload{
		SessionKey: t.msg.SessionKey,
		AgentID:    t.msg.AgentID,
		Status:     status,
	})
}

func (t *turn) syncConfig() {
	cfg, changed, err := t.h.Syncer.Sync(t.ctx, t.msg.AgentID, t.msg.AgentConfig)
	if err != nil {
		t.logger.Error("config sync failed", "error", err)
	}
	t.cfg = cfg
	t.enter(StateConfigSynced)
	t.logger.Debug("config synced", "changed", changed, "model", cfg.Model)
}

func (t *turn) buildContext() {
	if !session.RoundTrips(t.msg.AgentID, t.msg.SessionKey) {
		t.logger.Warn("session key will not round-trip; prompts may show a different key")
	}
	t.ictx = BuildContext(t.accountID, t.msg, BuildBody(t.msg), t.h.now())
	t.enter(StateContextBuilt)
}

func (t *turn) recordSession() {
	if t.h.Recorder != nil {
		if err := t.h.Recorder.RecordInboundSession(t.ctx, t.ictx); err != nil {
			t.logger.Error("record session failed", "error", err)
		}
	}
	t.enter(StateSessionRecorded)
}

func (t *turn) dispatch() {
	t.enter(StateDispatching)
	t.presence(wire.StatusTyping)

	replies, err := t.h.Engine.Dispatch(t.ctx, &engine.Request{
		Context:      t.ictx,
		Config:       t.cfg,
		SystemPrompt: BuildSystemPrompt(t.cfg, t.msg),
		Hooks:        t.h.Hooks,
	})
	if err != nil {
		t.fail(err)
		return
	}

	for r := range replies {
		switch r.Kind {
		case engine.ReplyPartial, engine.ReplyBlock:
			t.chunk(r.Text)
		case engine.ReplyMedia:
			t.media(r.Media)
		case engine.ReplyThinking:
			t.presence(wire.StatusThinking)
		case engine.ReplyUsage:
			if r.Usage != nil {
				u := *r.Usage
				t.usage = &u
			}
		case engine.ReplyError:
			t.fail(r.Err)
		default:
			t.logger.Warn("unknown reply kind", "kind", r.Kind)
		}
	}
}

func (t *turn) fail(err error) {
	if err == nil {
		err = fmt.Errorf("dispatch failed")
	}
	t.logger.Error("dispatch failed", "error", err)
	if t.err == nil {
		t.err = err
	}
}

func (t *turn) chunk(cumulative string) {
	delta := t.stream.Next(cumulative)
	if delta == "" {
		return
	}
	t.emit(wire.EventChunk, wire.ChunkPayload{
		SessionKey: t.msg.SessionKey,
		AgentID:    t.msg.AgentID,
		Content:    delta,
	})
}

func (t *turn) media(m *engine.Media) {
	if m == nil || m.URL == "" {
		return
	}
	p := wire.MediaPayload{
		SessionKey:   t.msg.SessionKey,
		AgentID:      t.msg.AgentID,
		MediaURL:     m.URL,
		MimeType:     m.MimeType,
		FileName:     m.FileName,
		AudioAsVoice: m.AudioAsVoice,
	}

	if strings.HasPrefix(m.URL, "/") {
		if t.h.Uploader == nil {
			t.logger.Error("no uploader for local media, skipping", "path", m.URL)
			return
		}
		res, err := t.h.Uploader.Upload(t.ctx, m.URL, t.info)
		if err != nil {
			t.logger.Error("media upload failed, skipping", "path", m.URL, "error", err)
			return
		}
		p.MediaURL = res.URL
		p.FileName = res.FileName
		p.MimeType = res.MimeType
	}
	t.emit(wire.EventMedia, p)
}

func (t *turn) syncMemory() {
	if t.h.Memory != nil {
		files, err := t.h.Memory.Collect(t.msg.AgentID)
		switch {
		case err != nil:
			t.logger.Debug("memory sync failed", "error", err)
		case len(files) > 0:
			t.emit(wire.EventMemorySync, wire.MemorySyncPayload{
				SessionKey: t.msg.SessionKey,
				AgentID:    t.msg.AgentID,
				Files:      files,
			})
		}
	}
	t.enter(StateMemorySynced)
}

func (t *turn) finish() {
	if t.doneSent {
		return
	}
	t.doneSent = true

	t.presence(wire.StatusIdle)

	done := wire.DonePayload{
		SessionKey: t.msg.SessionKey,
		AgentID:    t.msg.AgentID,
		Done:       true,
	}
	if t.err != nil {
		done.Content = t.err.Error()
	}
	if u := t.usage; u != nil {
		if delta, ok := t.h.Tokens.Delta(t.ictx.SessionKey, u.TotalTokens); ok {
			done.TokenCount = &delta
		}
		if u.Cost > 0 {
			cost := u.Cost
			done.Cost = &cost
		}
		done.Context = session.Usage(u.ContextTokens, t.cfg.Model)
	}
	t.emit(wire.EventDone, done)
	t.enter(StateCompleted)

	if t.h.Observer != nil {
		outcome := OutcomeOK
		if t.err != nil {
			outcome = OutcomeError
		}
		t.h.Observer.TurnFinished(outcome, t.h.now().Sub(t.started))
	}
}
