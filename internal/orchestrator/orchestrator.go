// Package orchestrator serializes all job applications through a single
// worker. The browser page is a single-writer resource, so every job —
// whether it came from the mailbox watcher or from a manual HTTP
// trigger — passes through one FIFO queue and runs alone.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"helferbot/internal/config"
	"helferbot/internal/dedup"
	"helferbot/internal/logging"
	"helferbot/internal/notify"
	"helferbot/pkg/models"
	"helferbot/pkg/utils"
)

// Applier submits an application for one job. Satisfied by the portal
// manager.
type Applier interface {
	ApplyByDetails(ctx context.Context, rec *models.JobRecord) (bool, error)
}

// settleDelay is the pause between consecutive jobs so the portal sees
// human-paced activity even when several notifications land at once.
const settleDelay = 1 * time.Second

// queueCapacity bounds how many jobs can wait. The mailbox never yields
// more than a handful per check; beyond that something is wrong and the
// submitter should fail fast instead of buffering.
const queueCapacity = 32

type job struct {
	rec    *models.JobRecord
	result chan jobResult
}

type jobResult struct {
	applied bool
	err     error
}

// Orchestrator owns the job queue and the single worker that drains it.
type Orchestrator struct {
	cfg     *config.Config
	portal  Applier
	mailer  *notify.Mailer
	tracker *dedup.Tracker
	logger  logging.Logger

	queue      chan job
	processing atomic.Bool

	jobsProcessed  atomic.Int64
	jobsSuccessful atomic.Int64
	jobsFailed     atomic.Int64
	jobsDuplicate  atomic.Int64
}

func New(cfg *config.Config, pm Applier, mailer *notify.Mailer, tracker *dedup.Tracker) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		portal:  pm,
		mailer:  mailer,
		tracker: tracker,
		logger:  logging.GetGlobalLogger(),
		queue:   make(chan job, queueCapacity),
	}
}

// Run drains the queue until the context is cancelled. Must be running
// before HandleNewJob or Trigger is called.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-o.queue:
			o.processing.Store(true)
			applied, err := o.processJob(ctx, j.rec)
			o.processing.Store(false)

			j.result <- jobResult{applied: applied, err: err}

			select {
			case <-ctx.Done():
				return
			case <-time.After(settleDelay):
			}
		}
	}
}

// Processing reports whether a job is currently being applied to, for
// health reporting.
func (o *Orchestrator) Processing() bool {
	return o.processing.Load()
}

// Stats returns the cumulative job counters.
func (o *Orchestrator) Stats() (processed, successful, failed, duplicate int64) {
	return o.jobsProcessed.Load(),
		o.jobsSuccessful.Load(),
		o.jobsFailed.Load(),
		o.jobsDuplicate.Load()
}

// HandleNewJob enqueues one job and blocks until the worker has run it.
// This is the mailbox watcher's JobHandler: the bool result is the
// terminal flag (applied, or no matching listing on the portal), an
// error means infrastructure failure worth retrying.
func (o *Orchestrator) HandleNewJob(ctx context.Context, rec *models.JobRecord) (bool, error) {
	res, err := o.enqueue(ctx, rec)
	if err != nil {
		return false, err
	}
	if res.err != nil {
		return false, res.err
	}
	// Applied or definitively unavailable, either way the job is done.
	return true, nil
}

// enqueue submits a job to the worker and waits for its result.
func (o *Orchestrator) enqueue(ctx context.Context, rec *models.JobRecord) (jobResult, error) {
	j := job{rec: rec, result: make(chan jobResult, 1)}

	select {
	case o.queue <- j:
	default:
		return jobResult{}, fmt.Errorf("job queue full (%d pending)", queueCapacity)
	}

	select {
	case <-ctx.Done():
		// The worker still runs the job; only this caller stops waiting.
		return jobResult{}, ctx.Err()
	case res := <-j.result:
		return res, nil
	}
}

// Trigger runs a manually submitted job through the same queue and
// shapes the outcome for the HTTP API.
func (o *Orchestrator) Trigger(ctx context.Context, rec *models.JobRecord) (*models.TriggerResponse, error) {
	start := time.Now()
	requestID := utils.GenerateRequestID()
	key := rec.Key()

	o.logger.Info("Manual trigger received", map[string]interface{}{
		"job":        rec.String(),
		"request_id": requestID,
	})

	resp := &models.TriggerResponse{
		RequestID: requestID,
		Results: models.TriggerResults{
			Successful: []string{},
			Failed:     []string{},
		},
	}

	if o.tracker.Has(key) {
		o.jobsDuplicate.Add(1)
		resp.Results.Failed = append(resp.Results.Failed, key)
		resp.ResponseTime = time.Since(start)
		return resp, nil
	}

	res, err := o.enqueue(ctx, rec)
	resp.ResponseTime = time.Since(start)

	if err == nil {
		err = res.err
	}
	if err != nil {
		resp.Results.Failed = append(resp.Results.Failed, key)
		return resp, err
	}
	if res.applied {
		o.tracker.Add(key)
		resp.Results.Successful = append(resp.Results.Successful, key)
	} else {
		resp.Results.Failed = append(resp.Results.Failed, key)
	}
	return resp, nil
}

// processJob runs one application attempt and the follow-up
// bookkeeping: counters and operator notification.
func (o *Orchestrator) processJob(ctx context.Context, rec *models.JobRecord) (bool, error) {
	key := rec.Key()
	start := time.Now()
	o.jobsProcessed.Add(1)

	o.logger.Info("Processing job", map[string]interface{}{"job": rec.String()})

	applied, err := o.portal.ApplyByDetails(ctx, rec)
	elapsed := time.Since(start)

	if err != nil {
		o.jobsFailed.Add(1)
		o.logger.Error("Job application failed", map[string]interface{}{
			"job":      rec.String(),
			"duration": utils.FormatDuration(elapsed),
			"error":    err.Error(),
		})
		o.mailer.SendError(err, []string{key})
		return false, err
	}

	if !applied {
		// Terminal non-success: no matching listing, or the accept went
		// out but could not be verified. Either way retrying would only
		// risk double-posting the form. Nothing to notify about.
		o.logger.Info("Job not applied", map[string]interface{}{
			"job":      rec.String(),
			"duration": utils.FormatDuration(elapsed),
		})
		return false, nil
	}

	o.jobsSuccessful.Add(1)
	o.logger.Info("Job application submitted", map[string]interface{}{
		"job":      rec.String(),
		"duration": utils.FormatDuration(elapsed),
	})
	o.mailer.SendSuccess([]string{key}, elapsed)
	return true, nil
}
