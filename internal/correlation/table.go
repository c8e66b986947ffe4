// Package correlation turns request/response round trips over the socket into
// awaitable calls. A Table issues correlation ids, parks a waiter per id and
// settles it exactly once: by Resolve, by timeout, or by the waiter's context.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("correlation timed out")
	// ErrClosed is returned to waiters still pending when the table closes.
	ErrClosed = errors.New("correlation table closed")
	// ErrDuplicateID is returned by RegisterID for an id already pending.
	ErrDuplicateID = errors.New("correlation id already pending")
)

// TimeoutError reports that no answer arrived for ID within After.
type TimeoutError struct {
	Table string
	ID    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s timed out after %s", e.Table, e.ID, e.After)
}

// Is makes errors.Is(err, ErrTimeout) hold.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Observer receives table events, typically for metrics.
type Observer interface {
	Pending(table string, n int)
	TimedOut(table string)
}

type outcome[R any] struct {
	value R
	err   error
}

type entry[R any] struct {
	ch    chan outcome[R]
	timer *time.Timer
}

// Table is a set of pending waiters keyed by correlation id.
type Table[R any] struct {
	name           string
	defaultTimeout time.Duration

	mu      sync.Mutex
	pending map[string]*entry[R]
	closed  bool

	logger   *slog.Logger
	observer Observer
}

// Option configures a Table.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	observer Observer
}

// WithLogger sets the logger used for late and duplicate resolutions.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver attaches an Observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// New creates a table. defaultTimeout applies when Register is called with a
// non-positive timeout; zero means such waiters never time out.
func New[R any](name string, defaultTimeout time.Duration, opts ...Option) *Table[R] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Table[R]{
		name:           name,
		defaultTimeout: defaultTimeout,
		pending:        make(map[string]*entry[R]),
		logger:         o.logger.With("component", "correlation", "table", name),
		observer:       o.observer,
	}
}

// Name returns the table name.
func (t *Table[R]) Name() string { return t.name }

// DefaultTimeout returns the timeout used when Register gets zero.
func (t *Table[R]) DefaultTimeout() time.Duration { return t.defaultTimeout }

// Waiter is the receiving side of one registered correlation id.
type Waiter[R any] struct {
	id    string
	table *Table[R]
	ch    <-chan outcome[R]
}

// ID returns the correlation id.
func (w *Waiter[R]) ID() string { return w.id }

// Wait blocks until the id is resolved, times out, or ctx ends. A cancelled
// ctx removes the pending entry so a later Resolve is treated as late.
func (w *Waiter[R]) Wait(ctx context.Context) (R, error) {
	select {
	case out := <-w.ch:
		return out.value, out.err
	case <-ctx.Done():
		if w.table.cancel(w.id) {
			var zero R
			return zero, ctx.Err()
		}
		// Settled concurrently with cancellation; the outcome is buffered.
		out := <-w.ch
		return out.value, out.err
	}
}

// Register parks a waiter under a fresh UUID.
func (t *Table[R]) Register(timeout time.Duration) (string, *Waiter[R]) {
	id := uuid.NewString()
	w, err := t.RegisterID(id, timeout)
	if err != nil {
		// A fresh UUID can only fail on a closed table; hand back a waiter
		// that reports it.
		ch := make(chan outcome[R], 1)
		ch <- outcome[R]{err: err}
		return id, &Waiter[R]{id: id, table: t, ch: ch}
	}
	return id, w
}

// RegisterID parks a waiter under a caller-chosen id.
func (t *Table[R]) RegisterID(id string, timeout time.Duration) (*Waiter[R], error) {
	if timeout <= 0 {
		timeout = t.defaultTimeout
	}

	ch := make(chan outcome[R], 1)
	e := &entry[R]{ch: ch}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := t.pending[id]; exists {
		t.mu.Unlock()
		return nil, fmt.Errorf("%s %s: %w", t.name, id, ErrDuplicateID)
	}
	if timeout > 0 {
		e.timer = time.AfterFunc(timeout, func() { t.expire(id, e, timeout) })
	}
	t.pending[id] = e
	n := len(t.pending)
	t.mu.Unlock()

	t.report(n)
	return &Waiter[R]{id: id, table: t, ch: ch}, nil
}

// Resolve settles id with value. It returns false when no waiter is pending,
// which happens for unknown ids and for ids already resolved or timed out.
func (t *Table[R]) Resolve(id string, value R) bool {
	e, n, ok := t.take(id)
	if !ok {
		t.logger.Warn("no pending waiter, ignoring resolution", "id", id)
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.ch <- outcome[R]{value: value}
	t.report(n)
	return true
}

// Reject settles id with err.
func (t *Table[R]) Reject(id string, err error) bool {
	e, n, ok := t.take(id)
	if !ok {
		t.logger.Warn("no pending waiter, ignoring rejection", "id", id, "error", err)
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.ch <- outcome[R]{err: err}
	t.report(n)
	return true
}

// Pending returns the number of unsettled waiters.
func (t *Table[R]) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Has reports whether id is pending.
func (t *Table[R]) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}

// Close rejects every pending waiter with ErrClosed. Later registrations fail.
func (t *Table[R]) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	pending := t.pending
	t.pending = make(map[string]*entry[R])
	t.mu.Unlock()

	for _, e := range pending {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.ch <- outcome[R]{err: ErrClosed}
	}
	t.report(0)
}

func (t *Table[R]) take(id string) (*entry[R], int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pending[id]
	if !ok {
		return nil, len(t.pending), false
	}
	delete(t.pending, id)
	return e, len(t.pending), true
}

// expire runs on the timer goroutine. The entry pointer guards against an id
// that was resolved and then re-registered before the timer callback ran.
func (t *Table[R]) expire(id string, e *entry[R], after time.Duration) {
	t.mu.Lock()
	cur, ok := t.pending[id]
	if !ok || cur != e {
		t.mu.Unlock()
		return
	}
	delete(t.pending, id)
	n := len(t.pending)
	t.mu.Unlock()

	t.logger.Info("waiter timed out", "id", id, "after", after)
	e.ch <- outcome[R]{err: &TimeoutError{Table: t.name, ID: id, After: after}}
	if t.observer != nil {
		t.observer.TimedOut(t.name)
	}
	t.report(n)
}

func (t *Table[R]) cancel(id string) bool {
	e, n, ok := t.take(id)
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	t.report(n)
	return true
}

func (t *Table[R]) report(n int) {
	if t.observer != nil {
		t.observer.Pending(t.name, n)
	}
}
