package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helferbot/internal/config"
	"helferbot/internal/dedup"
	"helferbot/internal/notify"
	"helferbot/pkg/models"
)

type fakeApplier struct {
	apply func(ctx context.Context, rec *models.JobRecord) (bool, error)

	inFlight      atomic.Int32
	maxInFlight   atomic.Int32
	applicationCt atomic.Int32
}

func (f *fakeApplier) ApplyByDetails(ctx context.Context, rec *models.JobRecord) (bool, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)

	for {
		seen := f.maxInFlight.Load()
		if cur <= seen || f.maxInFlight.CompareAndSwap(seen, cur) {
			break
		}
	}

	f.applicationCt.Add(1)
	if f.apply != nil {
		return f.apply(ctx, rec)
	}
	return true, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Notify.Enabled = false
	return cfg
}

func testOrchestrator(applier *fakeApplier) (*Orchestrator, *dedup.Tracker) {
	cfg := testConfig()
	tracker := dedup.NewTracker(100)
	return New(cfg, applier, notify.NewMailer(cfg), tracker), tracker
}

func testRecord(zip string) *models.JobRecord {
	return &models.JobRecord{Date: "23.08.2025", Time: "15:00", Zip: zip, City: "Witten"}
}

func TestOrchestratorSerializesJobs(t *testing.T) {
	applier := &fakeApplier{
		apply: func(ctx context.Context, rec *models.JobRecord) (bool, error) {
			time.Sleep(50 * time.Millisecond)
			return true, nil
		},
	}
	orch, _ := testOrchestrator(applier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.Run(ctx)

	var wg sync.WaitGroup
	for _, zip := range []string{"58452", "44135"} {
		wg.Add(1)
		go func(zip string) {
			defer wg.Done()
			applied, err := orch.HandleNewJob(ctx, testRecord(zip))
			assert.NoError(t, err)
			assert.True(t, applied)
		}(zip)
	}
	wg.Wait()

	assert.Equal(t, int32(2), applier.applicationCt.Load())
	assert.Equal(t, int32(1), applier.maxInFlight.Load(), "jobs must never overlap")
}

func TestTriggerSuccess(t *testing.T) {
	applier := &fakeApplier{}
	orch, tracker := testOrchestrator(applier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.Run(ctx)

	rec := testRecord("58452")
	resp, err := orch.Trigger(ctx, rec)
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, []string{rec.Key()}, resp.Results.Successful)
	assert.Empty(t, resp.Results.Failed)
	assert.NotEmpty(t, resp.RequestID)
	assert.True(t, tracker.Has(rec.Key()), "successful job must be recorded")

	processed, successful, failed, duplicate := orch.Stats()
	assert.Equal(t, int64(1), processed)
	assert.Equal(t, int64(1), successful)
	assert.Equal(t, int64(0), failed)
	assert.Equal(t, int64(0), duplicate)
}

func TestTriggerDuplicateSkipsApplier(t *testing.T) {
	applier := &fakeApplier{}
	orch, tracker := testOrchestrator(applier)

	rec := testRecord("58452")
	tracker.Add(rec.Key())

	// No worker running: a duplicate must short-circuit before the queue.
	resp, err := orch.Trigger(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, []string{rec.Key()}, resp.Results.Failed)
	assert.Empty(t, resp.Results.Successful)
	assert.Equal(t, int32(0), applier.applicationCt.Load())

	_, _, _, duplicate := orch.Stats()
	assert.Equal(t, int64(1), duplicate)
}

func TestTriggerNoMatchingListing(t *testing.T) {
	applier := &fakeApplier{
		apply: func(ctx context.Context, rec *models.JobRecord) (bool, error) {
			return false, nil
		},
	}
	orch, tracker := testOrchestrator(applier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.Run(ctx)

	rec := testRecord("58452")
	resp, err := orch.Trigger(ctx, rec)
	require.NoError(t, err)

	// No listing is a terminal outcome but not a success.
	assert.Equal(t, []string{rec.Key()}, resp.Results.Failed)
	assert.False(t, tracker.Has(rec.Key()))
}

// An apply that reports not-applied without an error (no listing, or a
// submission whose outcome could not be confirmed) must read as
// terminal to the mailbox path: no retry, no failure counted, no
// operator error mail.
func TestHandleNewJobNotAppliedIsTerminal(t *testing.T) {
	applier := &fakeApplier{
		apply: func(ctx context.Context, rec *models.JobRecord) (bool, error) {
			return false, nil
		},
	}
	orch, _ := testOrchestrator(applier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.Run(ctx)

	done, err := orch.HandleNewJob(ctx, testRecord("58452"))
	require.NoError(t, err)
	assert.True(t, done, "not-applied without error must be terminal")

	processed, successful, failed, _ := orch.Stats()
	assert.Equal(t, int64(1), processed)
	assert.Equal(t, int64(0), successful)
	assert.Equal(t, int64(0), failed)
	assert.Equal(t, int32(1), applier.applicationCt.Load(), "no retry after a terminal outcome")
}

func TestTriggerInfrastructureError(t *testing.T) {
	applier := &fakeApplier{
		apply: func(ctx context.Context, rec *models.JobRecord) (bool, error) {
			return false, errors.New("browser crashed")
		},
	}
	orch, _ := testOrchestrator(applier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.Run(ctx)

	rec := testRecord("58452")
	resp, err := orch.Trigger(ctx, rec)
	require.Error(t, err)
	assert.Equal(t, []string{rec.Key()}, resp.Results.Failed)

	_, _, failed, _ := orch.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestHandleNewJobQueueFull(t *testing.T) {
	orch, _ := testOrchestrator(&fakeApplier{})

	// No worker drains the queue; enqueue with an already-cancelled
	// context so each call returns immediately after queueing.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < queueCapacity; i++ {
		_, err := orch.HandleNewJob(cancelled, testRecord("58452"))
		require.ErrorIs(t, err, context.Canceled)
	}

	_, err := orch.HandleNewJob(cancelled, testRecord("58452"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
}

func TestProcessingFlag(t *testing.T) {
	release := make(chan struct{})
	applier := &fakeApplier{
		apply: func(ctx context.Context, rec *models.JobRecord) (bool, error) {
			<-release
			return true, nil
		},
	}
	orch, _ := testOrchestrator(applier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.Run(ctx)

	assert.False(t, orch.Processing())

	done := make(chan struct{})
	go func() {
		_, _ = orch.HandleNewJob(ctx, testRecord("58452"))
		close(done)
	}()

	assert.Eventually(t, orch.Processing, time.Second, 10*time.Millisecond)
	close(release)
	<-done
	assert.Eventually(t, func() bool { return !orch.Processing() }, time.Second, 10*time.Millisecond)
}
