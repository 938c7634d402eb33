package models

import "time"

// Job is one image's processing unit within a batch. Jobs are created pending by the
// batch manager; generation-time transitions belong to the queue processor.
type Job struct {
	ID                   int64      `db:"id"                    json:"id"`
	BatchID              string     `db:"batch_id"              json:"batch_id"`
	ImageRef             string     `db:"image_ref"             json:"image_ref"`
	Status               Status     `db:"status"                json:"status"`
	GeneratedDescription string     `db:"generated_description" json:"generated_description"`
	OriginalLabel        string     `db:"original_label"        json:"original_label"`
	ErrorMessage         string     `db:"error_message"         json:"error_message,omitempty"`
	RetryCount           int        `db:"retry_count"           json:"retry_count"`
	ProcessedAt          *time.Time `db:"processed_at"          json:"processed_at,omitempty"`
	CreatedAt            time.Time  `db:"created_at"            json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"            json:"updated_at"`
}

// JobCounts is a per-status tally of a batch's jobs, recomputed from the job store.
type JobCounts struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
	Applied    int
}

// Succeeded counts jobs that produced a description, whether or not it was applied.
func (c JobCounts) Succeeded() int {
	return c.Completed + c.Applied
}
