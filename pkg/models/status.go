package models

// Status is shared by batches and jobs. Both move through the same set of states,
// although not every transition is legal for both.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusApplied    Status = "applied"
)

// StatusNotFound is reported by progress queries for unknown batches.
// It is never persisted and Valid reports false for it.
const StatusNotFound Status = "not_found"

// Valid reports whether s is a persistable status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusApplied:
		return true
	}
	return false
}

// Mode selects whether generated descriptions wait for review before write-back.
type Mode string

const (
	ModeTest       Mode = "test"
	ModeProduction Mode = "production"
)

func (m Mode) Valid() bool {
	return m == ModeTest || m == ModeProduction
}
