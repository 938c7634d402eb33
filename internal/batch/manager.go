// Package batch creates batches from an image selection, reports their progress and
// writes finished descriptions back to the media library.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/alttext/internal/analysis"
	"github.com/kiranshivaraju/alttext/internal/cache"
	"github.com/kiranshivaraju/alttext/internal/media"
	"github.com/kiranshivaraju/alttext/internal/observability"
	"github.com/kiranshivaraju/alttext/internal/queue"
	"github.com/kiranshivaraju/alttext/internal/store"
	"github.com/kiranshivaraju/alttext/pkg/models"
)

var (
	ErrNoValidImages    = errors.New("no valid images")
	ErrNoCompletedJobs  = errors.New("no completed jobs to apply")
	ErrInvalidMode      = errors.New("mode must be test or production")
	ErrInvalidRetention = errors.New("retention must be at least one day")
)

// SettingsFunc returns the configuration to snapshot onto a new batch.
type SettingsFunc func() models.Settings

// Manager owns batch creation and the apply step.
type Manager struct {
	store     store.Store
	cache     cache.Cache
	library   media.Library
	processor *queue.Processor
	settings  SettingsFunc
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewManager(st store.Store, ca cache.Cache, lib media.Library, proc *queue.Processor, settings SettingsFunc, metrics *observability.Metrics) *Manager {
	return &Manager{
		store:     st,
		cache:     ca,
		library:   lib,
		processor: proc,
		settings:  settings,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Details is a batch with its jobs in processing order.
type Details struct {
	Batch    *models.Batch           `json:"batch"`
	Jobs     []*models.Job           `json:"jobs"`
	Progress models.Progress         `json:"progress"`
	Failures []analysis.FailureGroup `json:"failures"`
}

// ApplyResult reports a best-effort apply pass.
type ApplyResult struct {
	AppliedCount int      `json:"applied_count"`
	Errors       []string `json:"errors"`
}

// ProcessResult is a processing pass plus, for production batches, the apply that
// followed it.
type ProcessResult struct {
	*queue.Result
	Apply *ApplyResult `json:"apply,omitempty"`
}

// CreateBatch validates refs, snapshots the current settings and persists a batch with
// one pending job per valid image. Invalid refs are dropped silently.
func (m *Manager) CreateBatch(ctx context.Context, owner string, refs []string, mode models.Mode) (*models.Batch, error) {
	if !mode.Valid() {
		return nil, ErrInvalidMode
	}

	images := media.FilterImages(ctx, m.library, refs)
	if len(images) == 0 {
		return nil, ErrNoValidImages
	}

	now := m.now().UTC()
	b := &models.Batch{
		BatchID:   newBatchID(now),
		Owner:     owner,
		Mode:      mode,
		Status:    models.StatusPending,
		Settings:  m.settings(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("creating batch: %w", err)
	}

	created := 0
	var lastErr error
	for _, img := range images {
		ts := m.now().UTC()
		job := &models.Job{
			BatchID:       b.BatchID,
			ImageRef:      img.Ref,
			Status:        models.StatusPending,
			OriginalLabel: img.AltText,
			CreatedAt:     ts,
			UpdatedAt:     ts,
		}
		if err := m.store.CreateJob(ctx, job); err != nil {
			slog.Warn("failed to create job", "batch_id", b.BatchID, "image_ref", img.Ref, "error", err)
			lastErr = err
			continue
		}
		created++
	}

	if created == 0 {
		m.rollback(ctx, b.BatchID)
		return nil, fmt.Errorf("creating jobs: %w", lastErr)
	}

	if err := m.store.SetBatchTotal(ctx, b.BatchID, created); err != nil {
		m.rollback(ctx, b.BatchID)
		return nil, fmt.Errorf("recording batch total: %w", err)
	}
	b.TotalJobs = created

	slog.Info("batch created",
		"batch_id", b.BatchID,
		"owner", owner,
		"mode", mode,
		"total_jobs", created,
		"dropped", len(refs)-created,
	)
	return b, nil
}

// GetProgress returns the batch's progress, preferring the cached copy. Unknown
// batches yield a progress with status not_found rather than an error.
func (m *Manager) GetProgress(ctx context.Context, batchID string) (models.Progress, error) {
	if p, ok, err := m.cache.GetProgress(ctx, batchID); err != nil {
		slog.Warn("progress cache read failed", "batch_id", batchID, "error", err)
	} else if ok {
		return p, nil
	}

	b, err := m.store.GetBatch(ctx, batchID)
	if errors.Is(err, store.ErrNotFound) {
		return models.NotFoundProgress(batchID), nil
	}
	if err != nil {
		return models.Progress{}, fmt.Errorf("loading batch: %w", err)
	}
	counts, err := m.store.CountJobs(ctx, batchID)
	if err != nil {
		return models.Progress{}, fmt.Errorf("counting jobs: %w", err)
	}
	return models.NewProgress(b, &counts), nil
}

func (m *Manager) GetBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	return m.store.GetBatch(ctx, batchID)
}

func (m *Manager) GetJob(ctx context.Context, jobID int64) (*models.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

func (m *Manager) GetDetails(ctx context.Context, batchID string) (*Details, error) {
	b, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("loading batch: %w", err)
	}
	jobs, err := m.store.ListJobs(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	var counts models.JobCounts
	for _, j := range jobs {
		counts.Total++
		switch j.Status {
		case models.StatusPending:
			counts.Pending++
		case models.StatusProcessing:
			counts.Processing++
		case models.StatusCancelled:
			counts.Cancelled++
		}
	}
	return &Details{
		Batch:    b,
		Jobs:     jobs,
		Progress: models.NewProgress(b, &counts),
		Failures: analysis.GroupFailures(jobs),
	}, nil
}

func (m *Manager) ListBatches(ctx context.Context, owner string, limit int) ([]*models.Batch, error) {
	return m.store.ListBatches(ctx, store.BatchFilter{Owner: owner, Limit: limit})
}

// ApplyResults writes every completed description to the media library. edits maps
// job ids to reviewer-edited text, which is sanitized and replaces the generated
// description; an edit that sanitizes to nothing skips its job. Failures are collected
// per job and the batch is marked applied afterwards regardless. A cancelled batch
// keeps its status while its completed jobs are applied. Batches mid-pass are
// refused.
func (m *Manager) ApplyResults(ctx context.Context, batchID string, edits map[int64]string) (*ApplyResult, error) {
	b, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("loading batch: %w", err)
	}
	cancelled := b.Status == models.StatusCancelled
	if !cancelled {
		if err := store.CheckBatchTransition(b.Status, models.StatusApplied); err != nil {
			return nil, err
		}
	}

	jobs, err := m.store.ListJobs(ctx, batchID, models.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("listing completed jobs: %w", err)
	}
	var ready []*models.Job
	for _, j := range jobs {
		if j.GeneratedDescription != "" {
			ready = append(ready, j)
		}
	}
	if len(ready) == 0 {
		return nil, ErrNoCompletedJobs
	}

	res := &ApplyResult{Errors: []string{}}
	for _, j := range ready {
		text := j.GeneratedDescription
		if edited, ok := edits[j.ID]; ok {
			text = SanitizeLabel(edited)
			if text == "" {
				continue
			}
		}

		if err := m.library.SetAltText(ctx, j.ImageRef, text); err != nil {
			slog.Warn("failed to apply description", "batch_id", batchID, "job_id", j.ID, "image_ref", j.ImageRef, "error", err)
			res.Errors = append(res.Errors, fmt.Sprintf("job %d (image %s): %v", j.ID, j.ImageRef, err))
			continue
		}
		if err := m.store.UpdateJobStatus(ctx, j.ID, models.StatusApplied, store.WithDescription(text)); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("job %d (image %s): %v", j.ID, j.ImageRef, err))
			continue
		}
		res.AppliedCount++
	}

	if !cancelled {
		if err := m.store.UpdateBatchStatus(ctx, batchID, models.StatusApplied); err != nil {
			return res, fmt.Errorf("marking batch applied: %w", err)
		}
	}
	m.invalidateProgress(ctx, batchID)
	m.metrics.Applied(ctx, res.AppliedCount)

	slog.Info("batch results applied",
		"batch_id", batchID,
		"applied", res.AppliedCount,
		"errors", len(res.Errors),
	)
	return res, nil
}

// Process runs one processing pass. Production batches are applied once a pass
// leaves completed jobs behind and nothing pending.
func (m *Manager) Process(ctx context.Context, batchID string) (*ProcessResult, error) {
	res, err := m.processor.ProcessBatch(ctx, batchID)
	if err != nil {
		return &ProcessResult{Result: res}, err
	}
	out := &ProcessResult{Result: res}

	if res.BatchStatus == models.StatusCancelled {
		return out, nil
	}
	if res.Remaining > 0 {
		slog.Info("auto-apply deferred until pending jobs finish", "batch_id", batchID, "remaining", res.Remaining)
		return out, nil
	}
	b, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return out, fmt.Errorf("loading batch: %w", err)
	}
	if b.Mode != models.ModeProduction {
		return out, nil
	}

	applied, err := m.ApplyResults(ctx, batchID, nil)
	if errors.Is(err, ErrNoCompletedJobs) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("auto-applying: %w", err)
	}
	out.Apply = applied
	return out, nil
}

// Cleanup deletes batches, and their jobs, created more than olderThanDays days ago.
func (m *Manager) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 1 {
		return 0, ErrInvalidRetention
	}
	cutoff := m.now().UTC().AddDate(0, 0, -olderThanDays)
	ids, err := m.store.DeleteBatchesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old batches: %w", err)
	}
	for _, id := range ids {
		m.invalidateProgress(ctx, id)
	}
	slog.Info("old batches deleted", "older_than_days", olderThanDays, "deleted", len(ids))
	return len(ids), nil
}

// rollback removes a batch whose creation did not finish. Jobs go with it.
func (m *Manager) rollback(ctx context.Context, batchID string) {
	if err := m.store.DeleteBatch(context.WithoutCancel(ctx), batchID); err != nil {
		slog.Error("failed to roll back batch", "batch_id", batchID, "error", err)
	}
}

func (m *Manager) invalidateProgress(ctx context.Context, batchID string) {
	if err := m.cache.Delete(ctx, cache.ProgressKey(batchID)); err != nil {
		slog.Warn("failed to invalidate progress", "batch_id", batchID, "error", err)
	}
}

// newBatchID is time-ordered with a random suffix, e.g. batch_1718000000_1a2b3c4d.
func newBatchID(now time.Time) string {
	return fmt.Sprintf("batch_%d_%s", now.Unix(), uuid.NewString()[:8])
}
