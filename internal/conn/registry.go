// Package conn keeps the single live backend socket for each account.
package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultPath is the backend's plugin socket endpoint.
const DefaultPath = "/ws/plugin"

var (
	// ErrAborted is returned when the caller's context ends before the socket opens.
	ErrAborted = errors.New("connection aborted")
	// ErrClosed is returned when sending on a connection that has stopped.
	ErrClosed = errors.New("connection closed")
	// ErrNotConnected is returned when an account has no open connection.
	ErrNotConnected = errors.New("account not connected")
)

// Info is the resolved connection triple for an account.
type Info struct {
	Host   string `json:"host" yaml:"host"`
	Token  string `json:"token" yaml:"token"`
	UseTLS bool   `json:"useTls" yaml:"use_tls"`
}

// URL returns the socket endpoint, wss unless TLS is disabled.
func (i Info) URL() string {
	scheme := "wss"
	if !i.UseTLS {
		scheme = "ws"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     i.Host,
		Path:     DefaultPath,
		RawQuery: url.Values{"token": {i.Token}}.Encode(),
	}
	return u.String()
}

// HTTPBase returns the http(s) origin matching the socket endpoint.
func (i Info) HTTPBase() string {
	if i.UseTLS {
		return "https://" + i.Host
	}
	return "http://" + i.Host
}

// Handler receives every frame read from an account's socket. It runs on the
// read pump and must not block.
type Handler func(accountID string, data []byte)

// Observer is told when sockets open and close.
type Observer interface {
	Opened(accountID string)
	Closed(accountID string, err error)
}

// Registry maps account ids to their live connection.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Conn

	dialer   *websocket.Dialer
	logger   *slog.Logger
	observer Observer
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(r *Registry) { r.dialer = d }
}

// WithObserver registers an open/close observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		conns:  make(map[string]*Conn),
		dialer: websocket.DefaultDialer,
		logger: slog.Default().With("component", "conn"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect returns the account's open connection, dialing one if needed.
//
// An existing open connection is returned unchanged. A context that ends
// before the socket opens fails the call with ErrAborted and nothing is
// registered. Once open, cancelling ctx stops the connection.
func (r *Registry) Connect(ctx context.Context, accountID string, info Info, handler Handler) (*Conn, error) {
	if c := r.openConn(accountID); c != nil {
		return c, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAborted, err)
	}

	ws, _, err := r.dialer.DialContext(ctx, info.URL(), nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
		}
		return nil, fmt.Errorf("dial %s: %w", info.Host, err)
	}
	if err := ctx.Err(); err != nil {
		ws.Close()
		return nil, fmt.Errorf("%w: %v", ErrAborted, err)
	}

	c := newConn(r, accountID, info, ws)

	r.mu.Lock()
	if existing := r.conns[accountID]; existing != nil && existing.State() == StateOpen {
		// Lost a race with a concurrent Connect for the same account.
		r.mu.Unlock()
		ws.Close()
		return existing, nil
	}
	r.conns[accountID] = c
	r.mu.Unlock()

	r.logger.Info("connected", "account", accountID, "host", info.Host, "conn_id", c.id)
	if r.observer != nil {
		r.observer.Opened(accountID)
	}

	go c.readPump(handler)
	go c.writePump()
	go func() {
		select {
		case <-ctx.Done():
			c.Stop()
		case <-c.done:
		}
	}()

	return c, nil
}

// Get returns the account's open connection.
func (r *Registry) Get(accountID string) (*Conn, bool) {
	c := r.openConn(accountID)
	return c, c != nil
}

// All returns every open connection.
func (r *Registry) All() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		if c.State() == StateOpen {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Stop stops the account's connection, if any.
func (r *Registry) Stop(accountID string) {
	r.mu.Lock()
	c := r.conns[accountID]
	r.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

// StopAll stops every connection.
func (r *Registry) StopAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Stop()
	}
}

func (r *Registry) openConn(accountID string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.conns[accountID]; c != nil && c.State() == StateOpen {
		return c
	}
	return nil
}

// remove deregisters c if it is still the account's record.
func (r *Registry) remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[c.accountID] == c {
		delete(r.conns, c.accountID)
	}
}

func newConnID() string {
	return uuid.NewString()
}
