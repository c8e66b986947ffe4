// Package bridge is the long-lived service that connects accounts to the
// backend, routes inbound frames, and sends agent events back.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/whimmy-ai/whimmy-plugin/internal/agentsync"
	"github.com/whimmy-ai/whimmy-plugin/internal/conn"
	"github.com/whimmy-ai/whimmy-plugin/internal/correlation"
	"github.com/whimmy-ai/whimmy-plugin/internal/engine"
	"github.com/whimmy-ai/whimmy-plugin/internal/hooks"
	"github.com/whimmy-ai/whimmy-plugin/internal/metrics"
	"github.com/whimmy-ai/whimmy-plugin/internal/models"
	"github.com/whimmy-ai/whimmy-plugin/internal/session"
	"github.com/whimmy-ai/whimmy-plugin/internal/turn"
	"github.com/whimmy-ai/whimmy-plugin/internal/upload"
	"github.com/whimmy-ai/whimmy-plugin/internal/wire"
)

// Options configure a Service. Engine and Syncer are required.
type Options struct {
	Engine    engine.Engine
	Syncer    turn.ConfigSyncer
	Recorder  turn.SessionRecorder
	Uploader  upload.Uploader
	Memory    turn.MemoryCollector
	Catalogue *models.Catalogue
	Metrics   *metrics.Metrics
	Dialer    *websocket.Dialer

	ApprovalTimeout  time.Duration
	QuestionTimeout  time.Duration
	TokenTrackerSize int

	// Version is reported in the health frame.
	Version string
	Logger  *slog.Logger
}

// Service owns every piece of shared bridge state.
type Service struct {
	registry  *conn.Registry
	tables    *correlation.Tables
	cache     *agentsync.Cache
	hooks     *hooks.Hooks
	turns     *turn.Handler
	tokens    *session.TokenTracker
	catalogue *models.Catalogue
	metrics   *metrics.Metrics
	engine    engine.Engine
	version   string
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	turnWG sync.WaitGroup

	mu     sync.Mutex
	active int
}

// New builds a service. Nothing connects until StartAccount.
func New(opts Options) (*Service, error) {
	if opts.Engine == nil {
		return nil, errors.New("bridge: engine is required")
	}
	if opts.Syncer == nil {
		return nil, errors.New("bridge: config syncer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ApprovalTimeout <= 0 {
		opts.ApprovalTimeout = correlation.DefaultApprovalTimeout
	}
	if opts.QuestionTimeout <= 0 {
		opts.QuestionTimeout = correlation.DefaultQuestionTimeout
	}
	if opts.Catalogue == nil {
		opts.Catalogue = models.NewCatalogue(nil)
	}

	s := &Service{
		cache:     agentsync.NewCache(),
		tokens:    session.NewTokenTracker(opts.TokenTrackerSize),
		catalogue: opts.Catalogue,
		metrics:   opts.Metrics,
		engine:    opts.Engine,
		version:   opts.Version,
		logger:    logger.With("component", "bridge"),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	corrOpts := []correlation.Option{
		correlation.WithLogger(logger),
		correlation.WithObserver(opts.Metrics),
	}
	s.tables = &correlation.Tables{
		Approvals:   correlation.New[bool]("approval", opts.ApprovalTimeout, corrOpts...),
		Questions:   correlation.New[map[string]string]("question", opts.QuestionTimeout, corrOpts...),
		ToolResults: correlation.New[json.RawMessage]("tool_result", 0, corrOpts...),
	}

	regOpts := []conn.Option{
		conn.WithLogger(logger.With("component", "conn")),
		conn.WithObserver(opts.Metrics),
	}
	if opts.Dialer != nil {
		regOpts = append(regOpts, conn.WithDialer(opts.Dialer))
	}
	s.registry = conn.NewRegistry(regOpts...)

	s.hooks = hooks.New(s.cache, s.tables, s, hooks.WithLogger(logger.With("component", "hooks")))
	s.turns = turn.NewHandler(turn.Deps{
		Cache:    s.cache,
		Syncer:   opts.Syncer,
		Engine:   opts.Engine,
		Hooks:    s.hooks,
		Recorder: opts.Recorder,
		Uploader: opts.Uploader,
		Memory:   opts.Memory,
		Tokens:   s.tokens,
		Observer: opts.Metrics,
		Logger:   logger.With("component", "turn"),
	})
	return s, nil
}

// Tables exposes the correlation tables.
func (s *Service) Tables() *correlation.Tables { return s.tables }

// Configs exposes the agent config snapshot cache.
func (s *Service) Configs() *agentsync.Cache { return s.cache }

// Registry exposes the connection registry.
func (s *Service) Registry() *conn.Registry { return s.registry }

// StartAccount connects accountID and announces the bridge. ctx bounds the
// connection's lifetime; cancelling it stops the account.
func (s *Service) StartAccount(ctx context.Context, accountID string, info conn.Info) error {
	c, err := s.registry.Connect(ctx, accountID, info, s.handleFrame)
	if err != nil {
		return fmt.Errorf("start account %s: %w", accountID, err)
	}

	health, err := wire.Encode(wire.TypeHealth, wire.HealthPayload{Status: "ok", Version: s.version})
	if err != nil {
		return err
	}
	if err := c.Send(health); err != nil {
		return fmt.Errorf("send health: %w", err)
	}
	if err := s.sendEvent(c, wire.EventModelsSync, s.catalogue.Payload()); err != nil {
		s.logger.Debug("models sync failed", "account", accountID, "error", err)
	}
	return nil
}

// StopAccount closes accountID's socket.
func (s *Service) StopAccount(accountID string) {
	s.registry.Stop(accountID)
}

// Shutdown stops every account, rejects pending correlations and waits for
// running turns until ctx ends.
func (s *Service) Shutdown(ctx context.Context) error {
	// No turn may start once cancel is visible under mu.
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.registry.StopAll()
	s.tables.Close()

	done := make(chan struct{})
	go func() {
		s.turnWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for turns: %w", ctx.Err())
	}
}

// Broadcast sends event to every open socket. Failures are logged.
func (s *Service) Broadcast(event string, payload any) {
	data, err := wire.EncodeEvent(event, payload)
	if err != nil {
		s.logger.Error("encode event", "event", event, "error", err)
		return
	}
	for _, c := range s.registry.All() {
		if err := c.Send(data); err != nil {
			s.logger.Warn("broadcast failed", "event", event, "account", c.AccountID(), "error", err)
			continue
		}
		s.metrics.OutboundEvent(event)
	}
}

// SendTo sends event to one account's socket.
func (s *Service) SendTo(accountID, event string, payload any) error {
	c, ok := s.registry.Get(accountID)
	if !ok {
		return fmt.Errorf("%s: %w", accountID, conn.ErrNotConnected)
	}
	return s.sendEvent(c, event, payload)
}

func (s *Service) sendEvent(c *conn.Conn, event string, payload any) error {
	data, err := wire.EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	if err := c.Send(data); err != nil {
		return err
	}
	s.metrics.OutboundEvent(event)
	return nil
}

// SyncModels pushes the model catalogue to every account.
func (s *Service) SyncModels() {
	s.Broadcast(wire.EventModelsSync, s.catalogue.Payload())
}

// React adds an emoji reaction to a message.
func (s *Service) React(accountID, sessionKey, agentID, messageID, emoji string) error {
	return s.SendTo(accountID, wire.EventReact, wire.ReactPayload{
		SessionKey: sessionKey,
		AgentID:    agentID,
		MessageID:  messageID,
		Emoji:      emoji,
	})
}

// Edit replaces the content of a message the agent sent.
func (s *Service) Edit(accountID, sessionKey, agentID, messageID, content string) error {
	return s.SendTo(accountID, wire.EventEdit, wire.EditPayload{
		SessionKey: sessionKey,
		AgentID:    agentID,
		MessageID:  messageID,
		Content:    content,
	})
}

// Delete removes a message the agent sent.
func (s *Service) Delete(accountID, sessionKey, agentID, messageID string) error {
	return s.SendTo(accountID, wire.EventDelete, wire.DeletePayload{
		SessionKey: sessionKey,
		AgentID:    agentID,
		MessageID:  messageID,
	})
}

// CallTool asks the backend to run toolName and waits for its tool.result.
// A non-positive timeout waits until ctx ends.
func (s *Service) CallTool(ctx context.Context, accountID, sessionKey, agentID, toolName string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	id, w := s.tables.ToolResults.Register(timeout)
	err := s.SendTo(accountID, wire.EventToolCall, wire.ToolCallPayload{
		SessionKey: sessionKey,
		AgentID:    agentID,
		CallID:     id,
		ToolName:   toolName,
		Params:     params,
	})
	if err != nil {
		s.tables.ToolResults.Reject(id, err)
		return nil, fmt.Errorf("tool call %s: %w", toolName, err)
	}
	res, err := w.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("tool call %s: %w", toolName, err)
	}
	return res, nil
}

// AccountStatus describes one open connection.
type AccountStatus struct {
	AccountID string `json:"accountId"`
	Host      string `json:"host"`
	ConnID    string `json:"connId"`
	State     string `json:"state"`
}

// Status is a point-in-time snapshot for the status server.
type Status struct {
	Accounts    []AccountStatus `json:"accounts"`
	Pending     map[string]int  `json:"pending"`
	ActiveTurns int             `json:"activeTurns"`
	Agents      int             `json:"agents"`
}

// Status reports open connections and pending work.
func (s *Service) Status() Status {
	st := Status{
		Pending: s.tables.PendingCounts(),
		Agents:  s.cache.Len(),
	}
	for _, c := range s.registry.All() {
		st.Accounts = append(st.Accounts, AccountStatus{
			AccountID: c.AccountID(),
			Host:      c.Info().Host,
			ConnID:    c.ID(),
			State:     c.State().String(),
		})
	}
	sort.Slice(st.Accounts, func(i, j int) bool { return st.Accounts[i].AccountID < st.Accounts[j].AccountID })

	s.mu.Lock()
	st.ActiveTurns = s.active
	s.mu.Unlock()
	return st
}
