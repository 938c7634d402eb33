// Package response writes the API's JSON envelopes. Successful responses wrap their
// payload in {"data": ...}; failures use {"error": {"code", "message", "details"}}.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/alttext/pkg/models"
)

// Error codes carried in the error envelope.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeInvalidToken      = "INVALID_TOKEN"
	CodeForbidden         = "FORBIDDEN"
	CodeRateLimited       = "RATE_LIMIT_EXCEEDED"
	CodeBatchNotFound     = "BATCH_NOT_FOUND"
	CodeJobNotFound       = "JOB_NOT_FOUND"
	CodeKeyNotFound       = "KEY_NOT_FOUND"
	CodeNoValidImages     = "NO_VALID_IMAGES"
	CodeNoCompletedJobs   = "NO_COMPLETED_JOBS"
	CodeNoPendingJobs     = "NO_PENDING_JOBS"
	CodeBatchLocked       = "BATCH_LOCKED"
	CodeBatchCancelled    = "BATCH_CANCELLED"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeDuplicate         = "DUPLICATE"
	CodeDegraded          = "DEGRADED"
	CodeNotImplemented    = "NOT_IMPLEMENTED"
	CodeInternal          = "INTERNAL_ERROR"
)

type envelope struct {
	Data any `json:"data"`
}

type collectionEnvelope struct {
	Data any      `json:"data"`
	Meta ListMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ListMeta describes a newest-first listing. HasMore is set when the page was
// filled, so an older entry may exist beyond it.
type ListMeta struct {
	Limit   int  `json:"limit"`
	Count   int  `json:"count"`
	HasMore bool `json:"has_more"`
}

// NewListMeta builds the meta block for count items returned under limit.
func NewListMeta(count, limit int) ListMeta {
	return ListMeta{Limit: limit, Count: count, HasMore: limit > 0 && count >= limit}
}

// accepted is the body of a 202 for a batch whose processing continues in the
// background.
type accepted struct {
	BatchID string        `json:"batch_id"`
	Status  models.Status `json:"status"`
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

// Accepted acknowledges a processing pass started for batchID. Callers poll the
// batch's progress for the outcome.
func Accepted(w http.ResponseWriter, batchID string) {
	writeJSON(w, http.StatusAccepted, envelope{Data: accepted{
		BatchID: batchID,
		Status:  models.StatusProcessing,
	}})
}

func Collection(w http.ResponseWriter, data any, meta ListMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Data: data, Meta: meta})
}

// Progress writes a batch's progress. The not_found sentinel becomes a 404 that
// still carries the sentinel as details, so pollers see the same shape either way.
func Progress(w http.ResponseWriter, p models.Progress) {
	if p.Status == models.StatusNotFound {
		Error(w, http.StatusNotFound, CodeBatchNotFound, "Resource not found", p)
		return
	}
	JSON(w, p)
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// Internal writes a 500 without leaking the underlying error.
func Internal(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred", nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
