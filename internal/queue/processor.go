// Package queue drives a batch's jobs through the description generator one at a
// time, recording every attempt in the store.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/alttext/internal/cache"
	"github.com/kiranshivaraju/alttext/internal/media"
	"github.com/kiranshivaraju/alttext/internal/observability"
	"github.com/kiranshivaraju/alttext/internal/store"
	"github.com/kiranshivaraju/alttext/pkg/models"
)

var (
	ErrNoPendingJobs  = errors.New("no pending jobs")
	ErrBatchLocked    = errors.New("batch is already being processed")
	ErrBatchCancelled = errors.New("batch is cancelled")
	ErrLockLost       = errors.New("batch lock lost")
)

const (
	defaultLockTTL = 30 * time.Minute
	progressTTL    = 10 * time.Minute
)

// ProviderFactory builds a description provider for a batch's settings snapshot.
type ProviderFactory func(settings models.Settings) (models.DescriptionProvider, error)

// Result summarises one ProcessBatch pass. Failed counts every failed attempt,
// including those left pending for a later pass; Retrying is the subset of those.
// Remaining is the number of jobs still pending when the pass ended.
type Result struct {
	BatchID     string        `json:"batch_id"`
	Processed   int           `json:"processed"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Retrying    int           `json:"retrying"`
	Remaining   int           `json:"remaining"`
	BatchStatus models.Status `json:"batch_status"`
}

// Processor owns every generation-time status transition.
type Processor struct {
	store     store.Store
	cache     cache.Cache
	library   media.Library
	providers ProviderFactory
	metrics   *observability.Metrics
	lockTTL   time.Duration
}

// Option configures a Processor.
type Option func(*Processor)

// WithMetrics records job and batch outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithLockTTL bounds how long a crashed processor can hold a batch. A live
// processor renews the lock before every job.
func WithLockTTL(ttl time.Duration) Option {
	return func(p *Processor) { p.lockTTL = ttl }
}

func NewProcessor(st store.Store, ca cache.Cache, lib media.Library, providers ProviderFactory, opts ...Option) *Processor {
	p := &Processor{
		store:     st,
		cache:     ca,
		library:   lib,
		providers: providers,
		lockTTL:   defaultLockTTL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessBatch runs the batch's pending jobs oldest first. When
// Processing.BatchSize is set it caps the pass; a capped pass that leaves jobs
// pending keeps the batch processing for the next call. Counters are persisted after
// every job. Cancelling ctx stops between jobs and leaves the batch processing so a
// later call resumes it.
func (p *Processor) ProcessBatch(ctx context.Context, batchID string) (*Result, error) {
	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("loading batch: %w", err)
	}
	if batch.Status == models.StatusCancelled {
		return nil, ErrBatchCancelled
	}

	lock, err := p.lockBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	defer lock.release(ctx)

	// Holding the lock means nothing else is working on this batch, so any job still
	// marked processing was abandoned by an earlier run.
	if n, err := p.store.BulkUpdateJobStatus(ctx, batchID, models.StatusProcessing, models.StatusPending); err != nil {
		return nil, fmt.Errorf("resetting interrupted jobs: %w", err)
	} else if n > 0 {
		slog.Info("resumed interrupted jobs", "batch_id", batchID, "count", n)
	}

	jobs, err := p.store.ListJobs(ctx, batchID, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("listing pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		if batch.Status == models.StatusProcessing {
			// A previous run died after its last job; settle the batch.
			p.settle(ctx, batchID)
		}
		return nil, ErrNoPendingJobs
	}
	capped := false
	if size := batch.Settings.Processing.BatchSize; size > 0 && len(jobs) > size {
		jobs = jobs[:size]
		capped = true
	}

	if err := p.store.UpdateBatchStatus(ctx, batchID, models.StatusProcessing); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, ErrBatchCancelled
		}
		return nil, fmt.Errorf("marking batch processing: %w", err)
	}
	p.refreshProgress(ctx, batchID)

	slog.Info("processing batch", "batch_id", batchID, "jobs", len(jobs))

	res := &Result{BatchID: batchID, BatchStatus: models.StatusProcessing}
	delay := batch.Settings.Processing.RateLimitDelay

	for i, job := range jobs {
		if err := lock.renew(ctx); err != nil {
			return res, err
		}

		cancelled, err := p.isCancelled(ctx, batchID)
		if err != nil {
			return res, err
		}
		if cancelled {
			slog.Info("batch cancelled, stopping", "batch_id", batchID, "processed", res.Processed)
			res.BatchStatus = models.StatusCancelled
			return res, nil
		}

		outcome, err := p.processJob(ctx, job.ID, batch)
		if errors.Is(err, store.ErrInvalidTransition) {
			// Cancelled since the list was read.
			slog.Warn("skipping job no longer pending", "batch_id", batchID, "job_id", job.ID)
			continue
		}
		if err != nil {
			return res, err
		}

		res.Processed++
		switch outcome.Kind {
		case OutcomeCompleted:
			res.Completed++
		case OutcomeRetry:
			res.Failed++
			res.Retrying++
		case OutcomeFailed:
			res.Failed++
		}

		if err := p.refreshCounters(ctx, batchID); err != nil {
			return res, err
		}

		if i < len(jobs)-1 && delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return res, err
			}
		}
	}

	counts, err := p.store.CountJobs(ctx, batchID)
	if err != nil {
		return res, fmt.Errorf("counting jobs: %w", err)
	}
	res.Remaining = counts.Pending

	if capped && counts.Pending > 0 {
		slog.Info("batch pass reached its cap",
			"batch_id", batchID,
			"completed", res.Completed,
			"failed", res.Failed,
			"remaining", counts.Pending,
		)
		return res, nil
	}

	final := models.StatusCompleted
	if res.Failed > 0 && res.Completed == 0 {
		final = models.StatusFailed
	}

	if err := p.store.UpdateBatchStatus(ctx, batchID, final); err != nil {
		if !errors.Is(err, store.ErrInvalidTransition) {
			return res, fmt.Errorf("marking batch %s: %w", final, err)
		}
		// Cancelled while the last job was in flight.
		final = models.StatusCancelled
	}
	res.BatchStatus = final
	p.refreshProgress(ctx, batchID)
	p.metrics.BatchFinished(ctx, string(final))

	slog.Info("batch processing finished",
		"batch_id", batchID,
		"status", final,
		"completed", res.Completed,
		"failed", res.Failed,
		"retrying", res.Retrying,
	)

	return res, nil
}

// ProcessSingleImage makes one attempt at a pending job and refreshes its batch's
// counters. It holds the batch lock for the attempt, so it fails with
// ErrBatchLocked while a pass is running.
func (p *Processor) ProcessSingleImage(ctx context.Context, jobID int64) (Outcome, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return Outcome{}, fmt.Errorf("loading job: %w", err)
	}
	batch, err := p.store.GetBatch(ctx, job.BatchID)
	if err != nil {
		return Outcome{}, fmt.Errorf("loading batch: %w", err)
	}
	if batch.Status == models.StatusCancelled {
		return Outcome{}, ErrBatchCancelled
	}

	lock, err := p.lockBatch(ctx, job.BatchID)
	if err != nil {
		return Outcome{}, err
	}
	defer lock.release(ctx)

	outcome, err := p.processJob(ctx, jobID, batch)
	if err != nil {
		return Outcome{}, err
	}
	if err := p.refreshCounters(ctx, job.BatchID); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// processJob marks the job processing, generates a description and records the
// outcome. Generation failures are reported in the Outcome; the error return is for
// store failures and cancellation.
func (p *Processor) processJob(ctx context.Context, jobID int64, batch *models.Batch) (Outcome, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return Outcome{}, fmt.Errorf("loading job: %w", err)
	}
	if err := p.store.UpdateJobStatus(ctx, jobID, models.StatusProcessing); err != nil {
		return Outcome{}, fmt.Errorf("marking job processing: %w", err)
	}

	start := time.Now()
	desc, genErr := p.generate(ctx, job, batch.Settings)
	elapsed := time.Since(start).Seconds()

	// Shutdown mid-call: hand the job back untouched so the next pass retries it
	// without spending a retry.
	if ctx.Err() != nil {
		if err := p.store.UpdateJobStatus(context.WithoutCancel(ctx), jobID, models.StatusPending); err != nil {
			slog.Warn("failed to return interrupted job to pending",
				"batch_id", batch.BatchID, "job_id", jobID, "error", err)
		}
		return Outcome{}, ctx.Err()
	}

	if genErr == nil {
		if err := p.store.UpdateJobStatus(ctx, jobID, models.StatusCompleted, store.WithDescription(desc)); err != nil {
			return Outcome{}, fmt.Errorf("recording description: %w", err)
		}
		p.metrics.JobFinished(ctx, string(OutcomeCompleted), elapsed)
		slog.Debug("job completed", "batch_id", batch.BatchID, "job_id", jobID)
		return Outcome{JobID: jobID, Kind: OutcomeCompleted, Description: desc, RetryCount: job.RetryCount}, nil
	}

	outcome := failureOutcome(jobID, job.RetryCount, batch.Settings.Processing.MaxRetries,
		batch.Settings.Processing.RetryPolicy, genErr)

	if err := p.store.UpdateJobStatus(ctx, jobID, outcome.Status(),
		store.WithRetryCount(outcome.RetryCount),
		store.WithErrorMessage(outcome.Error),
	); err != nil {
		return Outcome{}, fmt.Errorf("recording failure: %w", err)
	}
	p.metrics.JobFinished(ctx, string(outcome.Kind), elapsed)

	if outcome.Kind == OutcomeRetry {
		slog.Warn("job failed, will retry",
			"batch_id", batch.BatchID, "job_id", jobID, "image_ref", job.ImageRef,
			"retry_count", outcome.RetryCount, "error", genErr)
	} else {
		slog.Error("job failed",
			"batch_id", batch.BatchID, "job_id", jobID, "image_ref", job.ImageRef,
			"retry_count", outcome.RetryCount, "error", genErr)
	}
	return outcome, nil
}

func (p *Processor) generate(ctx context.Context, job *models.Job, settings models.Settings) (string, error) {
	att, err := p.library.Lookup(ctx, job.ImageRef)
	if err != nil {
		return "", fmt.Errorf("resolving image %s: %w", job.ImageRef, err)
	}
	if att.SourceURL == "" {
		return "", fmt.Errorf("resolving image %s: no source url", job.ImageRef)
	}

	provider, err := p.providers(settings)
	if err != nil {
		return "", fmt.Errorf("building provider: %w", err)
	}

	return provider.Describe(ctx, models.DescribeRequest{
		ImageURL: att.SourceURL,
		Prompt:   settings.Prompts.DefaultTemplate,
	})
}

// CancelBatch cancels the batch and every job that has not started. Jobs already
// processing finish and are recorded normally. It returns the number of jobs
// cancelled.
func (p *Processor) CancelBatch(ctx context.Context, batchID string) (int, error) {
	if err := p.store.UpdateBatchStatus(ctx, batchID, models.StatusCancelled); err != nil {
		return 0, fmt.Errorf("cancelling batch: %w", err)
	}

	n, err := p.store.BulkUpdateJobStatus(ctx, batchID, models.StatusPending, models.StatusCancelled)
	if err != nil {
		return 0, fmt.Errorf("cancelling pending jobs: %w", err)
	}
	p.refreshProgress(ctx, batchID)

	slog.Info("batch cancelled", "batch_id", batchID, "jobs_cancelled", n)
	return n, nil
}

// RetryFailedJobs moves failed jobs back to pending with a fresh retry budget and,
// if any moved, returns the batch to pending.
func (p *Processor) RetryFailedJobs(ctx context.Context, batchID string) (int, error) {
	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return 0, fmt.Errorf("loading batch: %w", err)
	}
	if batch.Status == models.StatusCancelled {
		return 0, ErrBatchCancelled
	}
	if err := store.CheckBatchTransition(batch.Status, models.StatusPending); err != nil {
		return 0, err
	}

	n, err := p.store.BulkUpdateJobStatus(ctx, batchID, models.StatusFailed, models.StatusPending,
		store.WithErrorMessage(""), store.WithRetryCount(0))
	if err != nil {
		return 0, fmt.Errorf("resetting failed jobs: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	if err := p.store.UpdateBatchStatus(ctx, batchID, models.StatusPending); err != nil {
		return n, fmt.Errorf("resetting batch status: %w", err)
	}
	if err := p.refreshCounters(ctx, batchID); err != nil {
		return n, err
	}

	slog.Info("failed jobs reset", "batch_id", batchID, "count", n)
	return n, nil
}

// refreshCounters recomputes the batch's cached counters from the job store and
// publishes fresh progress.
func (p *Processor) refreshCounters(ctx context.Context, batchID string) error {
	counts, err := p.store.CountJobs(ctx, batchID)
	if err != nil {
		return fmt.Errorf("counting jobs: %w", err)
	}
	if err := p.store.UpdateBatchCounters(ctx, batchID, counts.Succeeded(), counts.Failed); err != nil {
		return fmt.Errorf("updating batch counters: %w", err)
	}
	p.refreshProgress(ctx, batchID)
	return nil
}

// refreshProgress writes the current progress to the cache. Cache failures are
// logged; readers fall back to the store.
func (p *Processor) refreshProgress(ctx context.Context, batchID string) {
	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		slog.Warn("failed to load batch for progress", "batch_id", batchID, "error", err)
		return
	}
	counts, err := p.store.CountJobs(ctx, batchID)
	if err != nil {
		slog.Warn("failed to count jobs for progress", "batch_id", batchID, "error", err)
		return
	}
	if err := p.cache.SetProgress(ctx, models.NewProgress(batch, &counts), progressTTL); err != nil {
		slog.Warn("failed to cache progress", "batch_id", batchID, "error", err)
	}
}

// settle moves a processing batch with no pending work to its final status based
// on the job counts.
func (p *Processor) settle(ctx context.Context, batchID string) {
	counts, err := p.store.CountJobs(ctx, batchID)
	if err != nil {
		slog.Warn("failed to count jobs", "batch_id", batchID, "error", err)
		return
	}
	final := models.StatusCompleted
	if counts.Failed > 0 && counts.Succeeded() == 0 {
		final = models.StatusFailed
	}
	if err := p.store.UpdateBatchStatus(ctx, batchID, final); err != nil {
		slog.Warn("failed to settle batch", "batch_id", batchID, "error", err)
		return
	}
	p.refreshProgress(ctx, batchID)
}

// batchLock is a held per-batch lock. One pass or single-job attempt runs per
// batch at a time.
type batchLock struct {
	cache   cache.Cache
	key     string
	token   string
	ttl     time.Duration
	batchID string
}

func (p *Processor) lockBatch(ctx context.Context, batchID string) (*batchLock, error) {
	l := &batchLock{
		cache:   p.cache,
		key:     cache.BatchLockKey(batchID),
		token:   uuid.NewString(),
		ttl:     p.lockTTL,
		batchID: batchID,
	}
	locked, err := p.cache.AcquireLock(ctx, l.key, l.token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquiring batch lock: %w", err)
	}
	if !locked {
		return nil, ErrBatchLocked
	}
	return l, nil
}

// renew pushes the lock's expiry out by a full TTL. It fails with ErrLockLost once
// the lock has expired or been taken by another processor.
func (l *batchLock) renew(ctx context.Context) error {
	ok, err := l.cache.RenewLock(ctx, l.key, l.token, l.ttl)
	if err != nil {
		return fmt.Errorf("renewing batch lock: %w", err)
	}
	if !ok {
		slog.Error("batch lock lost, stopping", "batch_id", l.batchID)
		return ErrLockLost
	}
	return nil
}

func (l *batchLock) release(ctx context.Context) {
	if err := l.cache.ReleaseLock(context.WithoutCancel(ctx), l.key, l.token); err != nil {
		slog.Warn("failed to release batch lock", "batch_id", l.batchID, "error", err)
	}
}

func (p *Processor) isCancelled(ctx context.Context, batchID string) (bool, error) {
	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return false, fmt.Errorf("checking batch status: %w", err)
	}
	return batch.Status == models.StatusCancelled, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
