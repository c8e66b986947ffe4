package session

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultTrackerSize bounds the number of sessions whose cumulative token
// totals are remembered.
const DefaultTrackerSize = 4096

// TokenTracker turns cumulative per-session token totals into per-turn deltas.
// The least recently reported sessions are evicted once the bound is reached;
// an evicted session starts over from a zero baseline.
type TokenTracker struct {
	mu    sync.Mutex
	cache *lru.Cache[string, int]
}

// NewTokenTracker creates a tracker holding at most size sessions.
func NewTokenTracker(size int) *TokenTracker {
	if size <= 0 {
		size = DefaultTrackerSize
	}
	cache, err := lru.New[string, int](size)
	if err != nil {
		// Only returned for non-positive sizes, excluded above.
		panic(err)
	}
	return &TokenTracker{cache: cache}
}

// Delta records cumulative as the latest total for key and returns how much it
// grew since the previous report. ok is false when the growth is not positive,
// in which case the caller omits the token count.
func (t *TokenTracker) Delta(key string, cumulative int) (delta int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, _ := t.cache.Get(key)
	t.cache.Add(key, cumulative)

	delta = cumulative - prev
	if delta <= 0 {
		return 0, false
	}
	return delta, true
}

// Len returns the number of tracked sessions.
func (t *TokenTracker) Len() int {
	return t.cache.Len()
}
