package bridge

import (
	"errors"

	"github.com/whimmy-ai/whimmy-plugin/internal/conn"
	"github.com/whimmy-ai/whimmy-plugin/internal/engine"
	"github.com/whimmy-ai/whimmy-plugin/internal/wire"
)

// handleFrame runs on an account's read pump. Anything slow is moved off it.
func (s *Service) handleFrame(accountID string, data []byte) {
	in, err := wire.Decode(data)
	if err != nil {
		s.logger.Warn("dropping malformed frame", "account", accountID, "error", err)
		return
	}
	s.metrics.InboundFrame(wire.TypeOf(in))

	switch m := in.(type) {
	case *wire.AgentMessage:
		s.startTurn(accountID, m)

	case *wire.ApprovalDecision:
		s.tables.Approvals.Resolve(m.ExecutionID, m.Approved)

	case *wire.QuestionAnswer:
		s.tables.Questions.Resolve(m.QuestionID, m.Answers)

	case *wire.ToolResult:
		if m.Error != "" {
			s.tables.ToolResults.Reject(m.CallID, errors.New(m.Error))
		} else {
			s.tables.ToolResults.Resolve(m.CallID, m.Result)
		}

	case *wire.Reaction:
		if sink, ok := s.engine.(engine.ReactionSink); ok {
			go sink.OnReaction(s.ctx, accountID, *m)
		} else {
			s.logger.Debug("reaction", "account", accountID, "session", m.SessionKey, "emoji", m.Emoji)
		}

	case *wire.ReadReceipt:
		if sink, ok := s.engine.(engine.ReactionSink); ok {
			go sink.OnRead(s.ctx, accountID, *m)
		} else {
			s.logger.Debug("read receipt", "account", accountID, "session", m.SessionKey)
		}

	case *wire.Ping:
		s.pong(accountID)

	case *wire.Pong, *wire.Health:
		s.logger.Debug("keepalive", "account", accountID, "type", wire.TypeOf(in))

	case *wire.Unknown:
		s.logger.Warn("dropping unknown frame", "account", accountID, "type", m.Type)
	}
}

func (s *Service) pong(accountID string) {
	c, ok := s.registry.Get(accountID)
	if !ok {
		return
	}
	data, err := wire.Encode(wire.TypePong, nil)
	if err != nil {
		return
	}
	if err := c.Send(data); err != nil {
		s.logger.Debug("pong failed", "account", accountID, "error", err)
	}
}

// startTurn runs a turn in its own goroutine and forwards its events to the
// account's current socket.
func (s *Service) startTurn(accountID string, msg *wire.AgentMessage) {
	var info conn.Info
	if c, ok := s.registry.Get(accountID); ok {
		info = c.Info()
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		s.logger.Debug("dropping message during shutdown", "account", accountID, "agent", msg.AgentID)
		return
	}
	s.turnWG.Add(1)
	s.active++
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.active--
			s.mu.Unlock()
			s.turnWG.Done()
		}()

		for evt := range s.turns.Handle(s.ctx, accountID, info, msg) {
			if err := s.SendTo(accountID, evt.Name, evt.Payload); err != nil {
				s.logger.Warn("dropping turn event", "account", accountID, "event", evt.Name, "error", err)
			}
		}
	}()
}
