package queue

import (
	"errors"
	"testing"

	"github.com/kiranshivaraju/alttext/internal/ai"
	"github.com/kiranshivaraju/alttext/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestFailureOutcome(t *testing.T) {
	transient := &ai.APIError{StatusCode: 503}
	permanent := &ai.APIError{StatusCode: 400}

	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		policy     models.RetryPolicy
		err        error
		want       OutcomeKind
	}{
		{"first failure with budget", 0, 3, models.RetryUniform, transient, OutcomeRetry},
		{"last retry used", 2, 3, models.RetryUniform, transient, OutcomeRetry},
		{"budget exhausted", 3, 3, models.RetryUniform, transient, OutcomeFailed},
		{"no retries configured", 0, 0, models.RetryUniform, transient, OutcomeFailed},
		{"uniform retries permanent errors", 0, 3, models.RetryUniform, permanent, OutcomeRetry},
		{"fail fast on permanent", 0, 3, models.RetryFailFastPermanent, permanent, OutcomeFailed},
		{"fail fast on oversized image", 0, 3, models.RetryFailFastPermanent, ai.ErrImageTooLarge, OutcomeFailed},
		{"fail fast still retries transient", 0, 3, models.RetryFailFastPermanent, transient, OutcomeRetry},
		{"plain error is transient", 0, 1, models.RetryFailFastPermanent, errors.New("boom"), OutcomeRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := failureOutcome(42, tt.retryCount, tt.maxRetries, tt.policy, tt.err)
			assert.Equal(t, tt.want, o.Kind)
			assert.Equal(t, tt.retryCount+1, o.RetryCount)
			assert.Equal(t, int64(42), o.JobID)
			assert.Equal(t, tt.err.Error(), o.Error)
		})
	}
}

func TestOutcomeStatus(t *testing.T) {
	assert.Equal(t, models.StatusCompleted, Outcome{Kind: OutcomeCompleted}.Status())
	assert.Equal(t, models.StatusPending, Outcome{Kind: OutcomeRetry}.Status())
	assert.Equal(t, models.StatusFailed, Outcome{Kind: OutcomeFailed}.Status())
}
