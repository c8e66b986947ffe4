package correlation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	mu       sync.Mutex
	pending  map[string]int
	timeouts int
}

func (o *countingObserver) Pending(table string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		o.pending = make(map[string]int)
	}
	o.pending[table] = n
}

func (o *countingObserver) TimedOut(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timeouts++
}

func TestResolveSettlesWaiter(t *testing.T) {
	tbl := New[bool]("approval", time.Second)

	id, w := tbl.Register(0)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, tbl.Pending())

	go func() {
		assert.True(t, tbl.Resolve(id, true))
	}()

	got, err := w.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, 0, tbl.Pending())
}

func TestDuplicateResolveIsLoggedNoop(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	tbl := New[bool]("approval", time.Second, WithLogger(logger))

	id, w := tbl.Register(0)
	assert.True(t, tbl.Resolve(id, true))
	assert.False(t, tbl.Resolve(id, false))

	got, err := w.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, got, "second resolve must not change the settled value")
	assert.Contains(t, buf.String(), "ignoring resolution")
	assert.Contains(t, buf.String(), id)
}

func TestTimeoutRejectsWithID(t *testing.T) {
	obs := &countingObserver{}
	tbl := New[map[string]string]("question", time.Minute, WithObserver(obs))

	id, w := tbl.Register(50 * time.Millisecond)
	_, err := w.Wait(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Contains(t, err.Error(), id)

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "question", te.Table)

	// A resolution arriving after the timeout is a no-op.
	assert.False(t, tbl.Resolve(id, map[string]string{"q": "a"}))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.timeouts)
	assert.Equal(t, 0, obs.pending["question"])
}

func TestResolveStopsTimer(t *testing.T) {
	obs := &countingObserver{}
	tbl := New[bool]("approval", 0, WithObserver(obs))

	id, w := tbl.Register(30 * time.Millisecond)
	require.True(t, tbl.Resolve(id, false))

	got, err := w.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, got)

	time.Sleep(60 * time.Millisecond)
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Zero(t, obs.timeouts)
}

func TestExactlyOneSettlementUnderRace(t *testing.T) {
	tbl := New[int]("race", 0)

	for i := 0; i < 200; i++ {
		id, w := tbl.Register(time.Millisecond)

		var wins int32
		var mu sync.Mutex
		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func(v int) {
				defer wg.Done()
				if tbl.Resolve(id, v) {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(j)
		}
		wg.Wait()

		_, err := w.Wait(context.Background())
		if err != nil {
			assert.Zero(t, wins, "timed-out id must not also resolve")
		} else {
			assert.Equal(t, int32(1), wins)
		}
	}
	assert.Zero(t, tbl.Pending())
}

func TestNoDefaultTimeoutWaitsForContext(t *testing.T) {
	tables := NewTables()
	id, w := tables.ToolResults.Register(0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, tables.ToolResults.Has(id), "cancelled waiter must be removed")
}

func TestRegisterIDRejectsDuplicates(t *testing.T) {
	tbl := New[bool]("approval", time.Second)
	_, err := tbl.RegisterID("exec-1", 0)
	require.NoError(t, err)

	_, err = tbl.RegisterID("exec-1", 0)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestCloseRejectsPending(t *testing.T) {
	tables := NewTables()
	_, w := tables.Approvals.Register(0)

	tables.Close()

	_, err := w.Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	_, err = tables.Approvals.RegisterID("late", 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPendingCounts(t *testing.T) {
	tables := NewTables()
	tables.Approvals.Register(0)
	tables.Questions.Register(0)
	tables.Questions.Register(0)

	counts := tables.PendingCounts()
	assert.Equal(t, 1, counts["approval"])
	assert.Equal(t, 2, counts["question"])
	assert.Equal(t, 0, counts["tool_result"])
	tables.Close()
}
