// Package dedup tracks already-handled job keys so a job notification
// that arrives twice (push + poll, or a re-sent mail) is only submitted
// once. State is in-memory only; losing it on restart is accepted.
package dedup

import (
	"sync"

	"helferbot/internal/logging"
)

// Tracker is a bounded, insertion-ordered set of job keys. When the
// cap is exceeded the oldest half is discarded.
type Tracker struct {
	mu         sync.Mutex
	keys       map[string]struct{}
	order      []string
	maxEntries int
	logger     logging.Logger
}

// NewTracker creates a tracker with the given soft cap.
func NewTracker(maxEntries int) *Tracker {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Tracker{
		keys:       make(map[string]struct{}),
		maxEntries: maxEntries,
		logger:     logging.GetGlobalLogger(),
	}
}

// Has reports whether the key has been seen.
func (t *Tracker) Has(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.keys[key]
	return ok
}

// Add records the key. Adding an existing key is a no-op.
func (t *Tracker) Add(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.keys[key]; ok {
		return
	}

	t.keys[key] = struct{}{}
	t.order = append(t.order, key)

	if len(t.order) > t.maxEntries {
		t.evict()
	}
}

// Size returns the number of tracked keys.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keys)
}

// evict drops the oldest half of the entries. Caller holds the lock.
func (t *Tracker) evict() {
	keep := len(t.order) / 2
	dropped := t.order[:len(t.order)-keep]

	for _, key := range dropped {
		delete(t.keys, key)
	}
	t.order = append([]string(nil), t.order[len(t.order)-keep:]...)

	t.logger.Debug("Dedup tracker evicted old entries", map[string]interface{}{
		"dropped":   len(dropped),
		"remaining": len(t.order),
	})
}
