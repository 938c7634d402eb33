package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/alttext/pkg/models"
)

// placeholder renders the n-th (1-based) bind parameter for a dialect.
type placeholder func(n int) string

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

func question(int) string { return "?" }

// buildJobUpdate renders the SET clause shared by single and bulk job updates. The
// caller appends the WHERE clause; bind parameters continue from len(args)+1.
func buildJobUpdate(ph placeholder, status models.Status, params *jobUpdateParams) (string, []any) {
	now := time.Now().UTC()
	sets := []string{"status = " + ph(1), "updated_at = " + ph(2)}
	args := []any{status, now}

	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, column+" = "+ph(len(args)))
	}

	if stampsProcessedAt(status) {
		add("processed_at", now)
	}
	if params.ErrorMessage != nil {
		add("error_message", *params.ErrorMessage)
	}
	if params.Description != nil {
		add("generated_description", *params.Description)
	}
	if params.RetryCount != nil {
		add("retry_count", *params.RetryCount)
	}

	return "UPDATE jobs SET " + strings.Join(sets, ", "), args
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func addCount(c *models.JobCounts, status models.Status, n int) {
	c.Total += n
	switch status {
	case models.StatusPending:
		c.Pending += n
	case models.StatusProcessing:
		c.Processing += n
	case models.StatusCompleted:
		c.Completed += n
	case models.StatusFailed:
		c.Failed += n
	case models.StatusCancelled:
		c.Cancelled += n
	case models.StatusApplied:
		c.Applied += n
	}
}
