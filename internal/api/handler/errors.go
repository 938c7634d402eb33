package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/alttext/internal/api/response"
	"github.com/kiranshivaraju/alttext/internal/batch"
	"github.com/kiranshivaraju/alttext/internal/queue"
	"github.com/kiranshivaraju/alttext/internal/store"
)

// writeError maps a service error onto the JSON error envelope. notFoundCode names
// the resource the request addressed.
func writeError(w http.ResponseWriter, r *http.Request, err error, notFoundCode string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, notFoundCode, "Resource not found", nil)
	case errors.Is(err, batch.ErrNoValidImages):
		response.Error(w, http.StatusUnprocessableEntity, response.CodeNoValidImages,
			"None of the image references resolved to a usable image", nil)
	case errors.Is(err, batch.ErrInvalidMode), errors.Is(err, batch.ErrInvalidRetention):
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
	case errors.Is(err, batch.ErrNoCompletedJobs):
		response.Error(w, http.StatusConflict, response.CodeNoCompletedJobs, "Batch has no completed jobs to apply", nil)
	case errors.Is(err, queue.ErrNoPendingJobs):
		response.Error(w, http.StatusConflict, response.CodeNoPendingJobs, "Batch has no pending jobs", nil)
	case errors.Is(err, queue.ErrBatchLocked):
		response.Error(w, http.StatusConflict, response.CodeBatchLocked, "Batch is already being processed", nil)
	case errors.Is(err, queue.ErrBatchCancelled):
		response.Error(w, http.StatusConflict, response.CodeBatchCancelled, "Batch is cancelled", nil)
	case errors.Is(err, store.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, response.CodeInvalidTransition, err.Error(), nil)
	case errors.Is(err, store.ErrDuplicateKey):
		response.Error(w, http.StatusConflict, response.CodeDuplicate, "Resource already exists", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Internal(w)
	}
}
