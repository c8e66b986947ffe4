package cli

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/whimmy-ai/whimmy-plugin/internal/bridge"
	"github.com/whimmy-ai/whimmy-plugin/internal/config"
	"github.com/whimmy-ai/whimmy-plugin/internal/conn"
)

// Reconnect backoff bounds.
const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// supervisor keeps each enabled account connected, reconnecting with
// backoff after unexpected closes. A clean close, including one where a
// newer socket replaced ours, ends the account's loop.
type supervisor struct {
	svc    *bridge.Service
	logger *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	mu   sync.Mutex
	runs map[string]*accountRun
	wg   sync.WaitGroup
}

type accountRun struct {
	info   conn.Info
	cancel context.CancelFunc
}

func newSupervisor(svc *bridge.Service, logger *slog.Logger) *supervisor {
	return &supervisor{
		svc:        svc,
		logger:     logger.With("component", "supervisor"),
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		runs:       make(map[string]*accountRun),
	}
}

// Apply brings running accounts in line with cfg: new accounts start,
// removed or disabled ones stop, and changed connection triples restart.
func (s *supervisor) Apply(ctx context.Context, cfg *config.Config) {
	want := make(map[string]conn.Info)
	for _, id := range cfg.AccountIDs() {
		a := cfg.Accounts[id]
		if !a.IsEnabled() {
			continue
		}
		info, err := a.Resolve()
		if err != nil {
			s.logger.Error("account not started", "account", id, "error", err)
			continue
		}
		want[id] = info
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, run := range s.runs {
		if info, ok := want[id]; !ok || info != run.info {
			s.logger.Info("stopping account", "account", id)
			run.cancel()
			s.svc.StopAccount(id)
			delete(s.runs, id)
		}
	}
	for id, info := range want {
		if _, ok := s.runs[id]; ok {
			continue
		}
		runCtx, cancel := context.WithCancel(ctx)
		s.runs[id] = &accountRun{info: info, cancel: cancel}
		s.wg.Add(1)
		go s.keep(runCtx, id, info)
	}
}

// keep connects id and reconnects until ctx ends.
func (s *supervisor) keep(ctx context.Context, id string, info conn.Info) {
	defer s.wg.Done()
	backoff := s.minBackoff
	logger := s.logger.With("account", id, "host", info.Host)

	for {
		err := s.svc.StartAccount(ctx, id, info)
		if err == nil {
			backoff = s.minBackoff
			c, ok := s.svc.Registry().Get(id)
			if ok {
				select {
				case <-c.Done():
					if c.Err() == nil {
						logger.Info("connection closed cleanly, not reconnecting")
						return
					}
					logger.Warn("connection closed, reconnecting", "error", c.Err())
				case <-ctx.Done():
					return
				}
			}
		} else {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("connect failed", "error", err, "retry_in", backoff)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// Stop cancels every account and waits for the loops to exit.
func (s *supervisor) Stop() {
	s.mu.Lock()
	for id, run := range s.runs {
		run.cancel()
		delete(s.runs, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
