// Package server runs the local status HTTP server.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/whimmy-ai/whimmy-plugin/internal/bridge"
)

// StatusSource reports the bridge's live state.
type StatusSource interface {
	Status() bridge.Status
}

// Options holds the server's dependencies.
type Options struct {
	Listen string
	Source StatusSource
	// Accounts lists the configured account ids, connected or not.
	Accounts func() []string
	Metrics  http.Handler
	Version  string
	Logger   *slog.Logger
}

// AccountView is one configured account in /status.
type AccountView struct {
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
	Host      string `json:"host,omitempty"`
	State     string `json:"state,omitempty"`
}

// StatusResponse is the body of /status.
type StatusResponse struct {
	Version     string         `json:"version,omitempty"`
	Uptime      string         `json:"uptime"`
	Accounts    []AccountView  `json:"accounts"`
	Pending     map[string]int `json:"pending"`
	ActiveTurns int            `json:"activeTurns"`
	Agents      int            `json:"agents"`
}

// NewRouter builds the status routes.
func NewRouter(o Options) http.Handler {
	started := time.Now()

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		st := o.Source.Status()
		resp := StatusResponse{
			Version:     o.Version,
			Uptime:      time.Since(started).Round(time.Second).String(),
			Pending:     st.Pending,
			ActiveTurns: st.ActiveTurns,
			Agents:      st.Agents,
			Accounts:    []AccountView{},
		}

		open := make(map[string]bridge.AccountStatus, len(st.Accounts))
		for _, a := range st.Accounts {
			open[a.AccountID] = a
		}
		var ids []string
		if o.Accounts != nil {
			ids = o.Accounts()
		}
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			seen[id] = true
			v := AccountView{ID: id}
			if a, ok := open[id]; ok {
				v.Connected, v.Host, v.State = true, a.Host, a.State
			}
			resp.Accounts = append(resp.Accounts, v)
		}
		for _, a := range st.Accounts {
			if !seen[a.AccountID] {
				resp.Accounts = append(resp.Accounts, AccountView{ID: a.AccountID, Connected: true, Host: a.Host, State: a.State})
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})

	if o.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", o.Metrics)
	}
	return r
}

// Run serves until ctx ends.
func Run(ctx context.Context, o Options) error {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default().With("component", "server")
	}

	ln, err := net.Listen("tcp", o.Listen)
	if err != nil {
		return fmt.Errorf("status server listen %s: %w", o.Listen, err)
	}
	srv := &http.Server{
		Handler:           NewRouter(o),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("status server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
