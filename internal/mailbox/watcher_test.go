package mailbox

import (
	"context"
	"errors"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/assert"

	"helferbot/internal/config"
	"helferbot/internal/dedup"
	"helferbot/pkg/models"
)

func newTestWatcher() *Watcher {
	return newTestWatcherWithHandler(nil)
}

func newTestWatcherWithHandler(handler JobHandler) *Watcher {
	cfg := &config.Config{}
	cfg.Mailbox.MaxAttempts = 3
	return NewWatcher(cfg, dedup.NewTracker(10), handler)
}

func (w *Watcher) pendingAttempts(uid imap.UID) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.attempts[uid]
	return n, ok
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestWatcherStartsDisconnected(t *testing.T) {
	w := newTestWatcher()
	assert.False(t, w.Connected())

	parsed, skipped := w.Stats()
	assert.Zero(t, parsed)
	assert.Zero(t, skipped)
}

func TestWatcherTransitions(t *testing.T) {
	w := newTestWatcher()

	w.transition(StateConnecting)
	assert.Equal(t, StateConnecting, w.currentState())
	assert.False(t, w.Connected())

	w.transition(StateReady)
	assert.Equal(t, StateReady, w.currentState())
	assert.True(t, w.Connected())

	w.transition(StateDisconnected)
	assert.False(t, w.Connected())
}

func TestBumpAttemptsExhaustsBudget(t *testing.T) {
	w := newTestWatcher()

	assert.False(t, w.bumpAttempts(42))
	assert.False(t, w.bumpAttempts(42))
	// Third strike exhausts the budget and resets the counter.
	assert.True(t, w.bumpAttempts(42))
	assert.False(t, w.bumpAttempts(42))
}

// A message that failed once and then succeeded must not leave its
// retry counter behind in the attempts map.
func TestProcessMessageClearsAttemptsOnSuccess(t *testing.T) {
	calls := 0
	w := newTestWatcherWithHandler(func(ctx context.Context, rec *models.JobRecord) (bool, error) {
		calls++
		if calls == 1 {
			return false, errors.New("portal unreachable")
		}
		return true, nil
	})

	msg := &imapclient.FetchMessageBuffer{
		UID: 7,
		Envelope: &imap.Envelope{
			Subject: "Umzugshelfer am 23.08.2025 ab 15:00 Uhr in 58452 Witten gesucht",
		},
	}

	w.processMessage(context.Background(), msg)
	n, ok := w.pendingAttempts(7)
	assert.True(t, ok)
	assert.Equal(t, 1, n)

	w.processMessage(context.Background(), msg)
	_, ok = w.pendingAttempts(7)
	assert.False(t, ok, "terminal outcome must drop the retry counter")
	assert.True(t, w.tracker.Has("23.08.2025_15:00_58452"))
}

// A duplicate of an already-handled job is terminal too and must clear
// any counter left by earlier failed passes.
func TestProcessMessageClearsAttemptsOnDuplicate(t *testing.T) {
	w := newTestWatcherWithHandler(func(ctx context.Context, rec *models.JobRecord) (bool, error) {
		return false, errors.New("portal unreachable")
	})
	w.tracker.Add("23.08.2025_15:00_58452")

	msg := &imapclient.FetchMessageBuffer{
		UID: 9,
		Envelope: &imap.Envelope{
			Subject: "Umzugshelfer am 23.08.2025 ab 15:00 Uhr in 58452 Witten gesucht",
		},
	}

	w.bumpAttempts(9)
	w.processMessage(context.Background(), msg)

	_, ok := w.pendingAttempts(9)
	assert.False(t, ok)
}
