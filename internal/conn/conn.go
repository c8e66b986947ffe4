package conn

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ReasonReplaced is the close reason a backend sends when a newer socket for
// the same account superseded this one.
const ReasonReplaced = "replaced"

const (
	writeWait     = 10 * time.Second
	readWait      = 10 * time.Minute
	pingInterval  = 30 * time.Second
	closeGrace    = 2 * time.Second
	sendQueueSize = 256
	maxFrameSize  = 10 * 1024 * 1024
)

// State is the lifecycle state of a connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Conn is one account's socket plus its read and write pumps.
type Conn struct {
	id        string
	accountID string
	info      Info
	ws        *websocket.Conn
	registry  *Registry
	logger    *slog.Logger

	send     chan []byte
	done     chan struct{}
	state    atomic.Int32
	stopping atomic.Bool

	stopOnce   sync.Once
	finishOnce sync.Once

	mu  sync.Mutex
	err error
}

func newConn(r *Registry, accountID string, info Info, ws *websocket.Conn) *Conn {
	c := &Conn{
		id:        newConnID(),
		accountID: accountID,
		info:      info,
		ws:        ws,
		registry:  r,
		send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
	}
	c.logger = r.logger.With("account", accountID, "conn_id", c.id)
	c.state.Store(int32(StateOpen))
	return c
}

// ID identifies this socket instance.
func (c *Conn) ID() string { return c.id }

// AccountID returns the owning account.
func (c *Conn) AccountID() string { return c.accountID }

// Info returns the connection triple the socket was opened with.
func (c *Conn) Info() Info { return c.info }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Done is closed once the socket has fully closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the socket closed. It is nil while open, after Stop, and
// after a close with reason "replaced".
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send queues a text frame. Frames are written in the order queued.
func (c *Conn) Send(data []byte) error {
	if c.State() != StateOpen {
		return ErrClosed
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Stop closes the socket with a normal-closure frame and deregisters it
// immediately. It is safe to call more than once.
func (c *Conn) Stop() {
	c.stopOnce.Do(func() {
		c.stopping.Store(true)
		c.registry.remove(c)

		st := c.State()
		if st == StateOpen || st == StateConnecting {
			c.state.Store(int32(StateClosing))
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("write close frame", "error", err)
			}
		}

		// The read pump finishes once the peer echoes the close; force it if
		// the peer never does.
		go func() {
			select {
			case <-c.done:
			case <-time.After(closeGrace):
				c.ws.Close()
			}
		}()
	})
}

func (c *Conn) readPump(handler Handler) {
	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(readWait))
		if handler != nil {
			handler(c.accountID, data)
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("write failed", "error", err)
				c.ws.Close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.ws.Close()
				return
			}
		}
	}
}

// finish runs once when the read pump exits.
func (c *Conn) finish(readErr error) {
	c.finishOnce.Do(func() {
		c.registry.remove(c)

		var closeErr *websocket.CloseError
		switch {
		case c.stopping.Load():
			c.logger.Info("connection stopped")
		case errors.As(readErr, &closeErr) && closeErr.Text == ReasonReplaced:
			c.logger.Info("connection replaced by a newer socket")
		default:
			c.mu.Lock()
			c.err = fmt.Errorf("socket closed: %w", readErr)
			c.mu.Unlock()
			c.logger.Warn("connection lost", "error", readErr)
		}

		c.state.Store(int32(StateClosed))
		close(c.done)
		c.ws.Close()

		if c.registry.observer != nil {
			c.registry.observer.Closed(c.accountID, c.Err())
		}
	})
}
