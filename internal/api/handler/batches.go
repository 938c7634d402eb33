package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/alttext/internal/api/middleware"
	"github.com/kiranshivaraju/alttext/internal/api/response"
	"github.com/kiranshivaraju/alttext/internal/batch"
	"github.com/kiranshivaraju/alttext/internal/queue"
	"github.com/kiranshivaraju/alttext/pkg/models"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// BatchService is the batch manager as seen by the HTTP layer.
type BatchService interface {
	CreateBatch(ctx context.Context, owner string, refs []string, mode models.Mode) (*models.Batch, error)
	GetBatch(ctx context.Context, batchID string) (*models.Batch, error)
	GetJob(ctx context.Context, jobID int64) (*models.Job, error)
	GetProgress(ctx context.Context, batchID string) (models.Progress, error)
	GetDetails(ctx context.Context, batchID string) (*batch.Details, error)
	ListBatches(ctx context.Context, owner string, limit int) ([]*models.Batch, error)
	ApplyResults(ctx context.Context, batchID string, edits map[int64]string) (*batch.ApplyResult, error)
	Process(ctx context.Context, batchID string) (*batch.ProcessResult, error)
	Cleanup(ctx context.Context, olderThanDays int) (int, error)
}

// QueueService is the queue processor as seen by the HTTP layer.
type QueueService interface {
	ProcessSingleImage(ctx context.Context, jobID int64) (queue.Outcome, error)
	CancelBatch(ctx context.Context, batchID string) (int, error)
	RetryFailedJobs(ctx context.Context, batchID string) (int, error)
}

// Batches serves the batch and job endpoints.
type Batches struct {
	svc    BatchService
	queue  QueueService
	runner *Runner
}

func NewBatches(svc BatchService, q QueueService, runner *Runner) *Batches {
	return &Batches{svc: svc, queue: q, runner: runner}
}

// imageRefs accepts references as JSON strings or numbers.
type imageRefs []string

func (refs *imageRefs) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		item = bytes.TrimSpace(item)
		var s string
		if len(item) > 0 && item[0] == '"' {
			if err := json.Unmarshal(item, &s); err != nil {
				return err
			}
		} else {
			var n json.Number
			if err := json.Unmarshal(item, &n); err != nil {
				return fmt.Errorf("image reference must be a string or number: %s", item)
			}
			s = n.String()
		}
		out = append(out, s)
	}
	*refs = out
	return nil
}

type createBatchRequest struct {
	ImageRefs imageRefs   `json:"image_refs"`
	Mode      models.Mode `json:"mode"`
}

type createBatchResponse struct {
	BatchID   string        `json:"batch_id"`
	TotalJobs int           `json:"total_jobs"`
	Mode      models.Mode   `json:"mode"`
	Status    models.Status `json:"status"`
}

// Create handles POST /api/v1/batches.
func (h *Batches) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := mw.GetOwner(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing owner", nil)
		return
	}

	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
		return
	}
	if req.Mode == "" {
		req.Mode = models.ModeTest
	}

	b, err := h.svc.CreateBatch(r.Context(), owner, req.ImageRefs, req.Mode)
	if err != nil {
		writeError(w, r, err, response.CodeBatchNotFound)
		return
	}

	response.Created(w, createBatchResponse{
		BatchID:   b.BatchID,
		TotalJobs: b.TotalJobs,
		Mode:      b.Mode,
		Status:    b.Status,
	})
}

// List handles GET /api/v1/batches. Admins may pass ?owner= to list another
// caller's batches.
func (h *Batches) List(w http.ResponseWriter, r *http.Request) {
	owner, _ := mw.GetOwner(r)
	if q := r.URL.Query().Get("owner"); q != "" && mw.HasScope(r, mw.ScopeAdmin) {
		owner = q
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxListLimit)
	}

	batches, err := h.svc.ListBatches(r.Context(), owner, limit)
	if err != nil {
		writeError(w, r, err, response.CodeBatchNotFound)
		return
	}
	if batches == nil {
		batches = []*models.Batch{}
	}
	response.Collection(w, batches, response.NewListMeta(len(batches), limit))
}

// Get handles GET /api/v1/batches/{batchID}.
func (h *Batches) Get(w http.ResponseWriter, r *http.Request) {
	b, ok := h.authorize(w, r)
	if !ok {
		return
	}
	batchID := b.BatchID
	d, err := h.svc.GetDetails(r.Context(), batchID)
	if err != nil {
		writeError(w, r, err, response.CodeBatchNotFound)
		return
	}
	response.JSON(w, d)
}

// Progress handles GET /api/v1/batches/{batchID}/progress.
func (h *Batches) Progress(w http.ResponseWriter, r *http.Request) {
	b, ok := h.authorize(w, r)
	if !ok {
		return
	}
	batchID := b.BatchID
	p, err := h.svc.GetProgress(r.Context(), batchID)
	if err != nil {
		writeError(w, r, err, response.CodeBatchNotFound)
		return
	}
	response.Progress(w, p)
}

// Process handles POST /api/v1/batches/{batchID}/process. Processing continues in
// the background after the 202.
func (h *Batches) Process(w http.ResponseWriter, r *http.Request) {
	b, ok := h.authorize(w, r)
	if !ok {
		return
	}
	batchID := b.BatchID

	if b.Status == models.StatusCancelled {
		writeError(w, r, queue.ErrBatchCancelled, response.CodeBatchNotFound)
		return
	}

	h.runner.Go(func(ctx context.Context) {
		res, err := h.svc.Process(ctx, batchID)
		switch {
		case errors.Is(err, queue.ErrNoPendingJobs), errors.Is(err, queue.ErrBatchLocked):
			slog.Info("batch processing skipped", "batch_id", batchID, "reason", err)
		case err != nil:
			slog.Error("batch processing failed", "batch_id", batchID, "error", err)
		case res.Apply != nil:
			slog.Info("production batch applied", "batch_id", batchID, "applied", res.Apply.AppliedCount)
		}
	})

	response.Accepted(w, batchID)
}

type applyRequest struct {
	Descriptions map[string]string `json:"descriptions"`
}

// Apply handles POST /api/v1/batches/{batchID}/apply.
func (h *Batches) Apply(w http.ResponseWriter, r *http.Request) {
	b, ok := h.authorize(w, r)
	if !ok {
		return
	}
	batchID := b.BatchID

	var req applyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}
	}

	edits := make(map[int64]string, len(req.Descriptions))
	for k, v := range req.Descriptions {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
				"descriptions must be keyed by job id", map[string]string{"key": k})
			return
		}
		edits[id] = v
	}

	res, err := h.svc.ApplyResults(r.Context(), batchID, edits)
	if err != nil {
		writeError(w, r, err, response.CodeBatchNotFound)
		return
	}
	response.JSON(w, res)
}

// Cancel handles POST /api/v1/batches/{batchID}/cancel.
func (h *Batches) Cancel(w http.ResponseWriter, r *http.Request) {
	b, ok := h.authorize(w, r)
	if !ok {
		return
	}
	batchID := b.BatchID
	n, err := h.queue.CancelBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, r, err, response.CodeBatchNotFound)
		return
	}
	response.JSON(w, map[string]any{
		"batch_id":       batchID,
		"status":         models.StatusCancelled,
		"jobs_cancelled": n,
	})
}

// Retry handles POST /api/v1/batches/{batchID}/retry.
func (h *Batches) Retry(w http.ResponseWriter, r *http.Request) {
	b, ok := h.authorize(w, r)
	if !ok {
		return
	}
	batchID := b.BatchID
	n, err := h.queue.RetryFailedJobs(r.Context(), batchID)
	if err != nil {
		writeError(w, r, err, response.CodeBatchNotFound)
		return
	}
	response.JSON(w, map[string]any{"batch_id": batchID, "reset": n})
}

// ProcessJob handles POST /api/v1/jobs/{jobID}/process synchronously.
func (h *Batches) ProcessJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "jobID must be an integer", nil)
		return
	}

	job, err := h.svc.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, r, err, response.CodeJobNotFound)
		return
	}
	if _, ok := h.authorizeID(w, r, job.BatchID); !ok {
		return
	}

	outcome, err := h.queue.ProcessSingleImage(r.Context(), jobID)
	if err != nil {
		writeError(w, r, err, response.CodeJobNotFound)
		return
	}
	response.JSON(w, outcome)
}

// authorize resolves the batch in the URL and checks the caller may see it. Batches
// owned by someone else look missing unless the caller is an admin.
func (h *Batches) authorize(w http.ResponseWriter, r *http.Request) (*models.Batch, bool) {
	return h.authorizeID(w, r, chi.URLParam(r, "batchID"))
}

func (h *Batches) authorizeID(w http.ResponseWriter, r *http.Request, batchID string) (*models.Batch, bool) {
	b, err := h.svc.GetBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, r, err, response.CodeBatchNotFound)
		return nil, false
	}
	owner, _ := mw.GetOwner(r)
	if b.Owner != owner && !mw.HasScope(r, mw.ScopeAdmin) {
		response.Error(w, http.StatusNotFound, response.CodeBatchNotFound, "Resource not found", nil)
		return nil, false
	}
	return b, true
}
