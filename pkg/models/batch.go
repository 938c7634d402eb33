package models

import (
	"math"
	"time"
)

// Batch groups the jobs created from one image selection. The counters are a cache
// over the job store and are never authoritative.
type Batch struct {
	BatchID       string    `db:"batch_id"       json:"batch_id"`
	Owner         string    `db:"owner"          json:"owner"`
	Mode          Mode      `db:"mode"           json:"mode"`
	Status        Status    `db:"status"         json:"status"`
	TotalJobs     int       `db:"total_jobs"     json:"total_jobs"`
	CompletedJobs int       `db:"completed_jobs" json:"completed_jobs"`
	FailedJobs    int       `db:"failed_jobs"    json:"failed_jobs"`
	Settings      Settings  `db:"settings"       json:"settings"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"     json:"updated_at"`
}

// Progress is the externally reported view of a batch.
type Progress struct {
	BatchID    string  `json:"batch_id"`
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	Processed  int     `json:"processed"`
	Pending    int     `json:"pending"`
	Processing int     `json:"processing"`
	Cancelled  int     `json:"cancelled"`
	Percentage float64 `json:"percentage"`
	Status     Status  `json:"status"`
}

// NewProgress builds progress from the batch row counters and, when available,
// per-status counts from the job store.
func NewProgress(b *Batch, counts *JobCounts) Progress {
	p := Progress{
		BatchID:   b.BatchID,
		Total:     b.TotalJobs,
		Completed: b.CompletedJobs,
		Failed:    b.FailedJobs,
		Status:    b.Status,
	}
	if counts != nil {
		p.Pending = counts.Pending
		p.Processing = counts.Processing
		p.Cancelled = counts.Cancelled
	}
	p.Processed = p.Completed + p.Failed
	p.Percentage = Percentage(p.Processed, p.Total)
	return p
}

// NotFoundProgress is returned for batch ids that do not exist.
func NotFoundProgress(batchID string) Progress {
	return Progress{BatchID: batchID, Status: StatusNotFound}
}

// Percentage returns processed/total*100 rounded to one decimal, or 0 when total is 0.
func Percentage(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(processed)/float64(total)*1000) / 10
}
