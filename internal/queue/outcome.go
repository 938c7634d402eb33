package queue

import (
	"github.com/kiranshivaraju/alttext/internal/ai"
	"github.com/kiranshivaraju/alttext/pkg/models"
)

// OutcomeKind is the result of one attempt at a job.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeRetry     OutcomeKind = "retry"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome records what an attempt did to a job.
type Outcome struct {
	JobID       int64       `json:"job_id"`
	Kind        OutcomeKind `json:"outcome"`
	Description string      `json:"description,omitempty"`
	RetryCount  int         `json:"retry_count"`
	Error       string      `json:"error,omitempty"`
}

// Status is the job status the outcome leaves behind.
func (o Outcome) Status() models.Status {
	switch o.Kind {
	case OutcomeCompleted:
		return models.StatusCompleted
	case OutcomeRetry:
		return models.StatusPending
	default:
		return models.StatusFailed
	}
}

// failureOutcome decides whether a failed attempt leaves the job retryable. The
// retry count is incremented first; the job stays retryable while the new count is
// within maxRetries. Under RetryFailFastPermanent, errors that cannot succeed on a
// later attempt fail the job immediately.
func failureOutcome(jobID int64, retryCount, maxRetries int, policy models.RetryPolicy, err error) Outcome {
	next := retryCount + 1
	o := Outcome{JobID: jobID, RetryCount: next, Error: err.Error()}

	permanent := policy == models.RetryFailFastPermanent && ai.IsPermanent(err)
	if next <= maxRetries && !permanent {
		o.Kind = OutcomeRetry
	} else {
		o.Kind = OutcomeFailed
	}
	return o
}
