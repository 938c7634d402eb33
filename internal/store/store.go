package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/alttext/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid status transition")

// Store is the data access interface. All database operations go through here.
// Every mutation is scoped to one batch_id or job_id; status changes are conditional
// on the status that was read, so a concurrent change surfaces as ErrInvalidTransition.
type Store interface {
	Ping(ctx context.Context) error
	Close()

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	CreateBatch(ctx context.Context, batch *models.Batch) error
	GetBatch(ctx context.Context, batchID string) (*models.Batch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]*models.Batch, error)
	UpdateBatchStatus(ctx context.Context, batchID string, status models.Status) error
	SetBatchTotal(ctx context.Context, batchID string, total int) error
	UpdateBatchCounters(ctx context.Context, batchID string, completed, failed int) error
	DeleteBatch(ctx context.Context, batchID string) error
	DeleteBatchesBefore(ctx context.Context, cutoff time.Time) ([]string, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	ListJobs(ctx context.Context, batchID string, statuses ...models.Status) ([]*models.Job, error)
	CountJobs(ctx context.Context, batchID string) (models.JobCounts, error)
	UpdateJobStatus(ctx context.Context, id int64, status models.Status, opts ...JobUpdateOption) error
	BulkUpdateJobStatus(ctx context.Context, batchID string, from, to models.Status, opts ...JobUpdateOption) (int, error)
}

// BatchFilter narrows ListBatches. Zero values mean no filter.
type BatchFilter struct {
	Owner  string
	Status models.Status
	Limit  int
}

func (f BatchFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return 20
	case f.Limit > 100:
		return 100
	default:
		return f.Limit
	}
}

type jobUpdateParams struct {
	ErrorMessage *string
	Description  *string
	RetryCount   *int
}

type JobUpdateOption func(*jobUpdateParams)

// WithErrorMessage records msg as the job's last failure. Pass "" to clear it.
func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithDescription(text string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Description = &text
	}
}

func WithRetryCount(n int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.RetryCount = &n
	}
}

func applyJobOptions(status models.Status, opts []JobUpdateOption) *jobUpdateParams {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	// A successful generation always clears the previous failure.
	if status == models.StatusCompleted && params.ErrorMessage == nil {
		empty := ""
		params.ErrorMessage = &empty
	}
	return params
}

// stampsProcessedAt reports whether entering status records processed_at.
func stampsProcessedAt(status models.Status) bool {
	return status == models.StatusCompleted || status == models.StatusFailed
}
