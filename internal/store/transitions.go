package store

import (
	"fmt"
	"slices"

	"github.com/kiranshivaraju/alttext/pkg/models"
)

var validJobTransitions = map[models.Status][]models.Status{
	models.StatusPending:    {models.StatusProcessing, models.StatusCancelled},
	models.StatusProcessing: {models.StatusCompleted, models.StatusPending, models.StatusFailed},
	models.StatusCompleted:  {models.StatusApplied},
	models.StatusFailed:     {models.StatusPending},
}

// Batches may be re-entered (resume, repeated apply); cancelled is terminal. A
// pending batch reset by a retry may still be applied for its completed jobs.
var validBatchTransitions = map[models.Status][]models.Status{
	models.StatusPending:    {models.StatusPending, models.StatusProcessing, models.StatusCancelled, models.StatusApplied},
	models.StatusProcessing: {models.StatusProcessing, models.StatusCompleted, models.StatusFailed, models.StatusCancelled},
	models.StatusCompleted:  {models.StatusCompleted, models.StatusProcessing, models.StatusPending, models.StatusApplied},
	models.StatusFailed:     {models.StatusFailed, models.StatusProcessing, models.StatusPending, models.StatusApplied},
	models.StatusApplied:    {models.StatusApplied, models.StatusProcessing, models.StatusPending},
}

// CheckJobTransition returns ErrInvalidTransition unless a job may move from -> to.
func CheckJobTransition(from, to models.Status) error {
	if !slices.Contains(validJobTransitions[from], to) {
		return fmt.Errorf("%w: job %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// CheckBatchTransition returns ErrInvalidTransition unless a batch may move from -> to.
func CheckBatchTransition(from, to models.Status) error {
	if !slices.Contains(validBatchTransitions[from], to) {
		return fmt.Errorf("%w: batch %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
