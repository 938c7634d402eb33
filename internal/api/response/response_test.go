package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/alttext/internal/api/response"
	"github.com/kiranshivaraju/alttext/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestCreated_WrapsBatch(t *testing.T) {
	w := httptest.NewRecorder()
	response.Created(w, map[string]any{"batch_id": "batch_1718000000_1a2b3c4d", "total_jobs": 3})

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "batch_1718000000_1a2b3c4d", data["batch_id"])
	assert.EqualValues(t, 3, data["total_jobs"])
}

func TestAccepted_ReportsProcessing(t *testing.T) {
	w := httptest.NewRecorder()
	response.Accepted(w, "batch_1")

	assert.Equal(t, http.StatusAccepted, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "batch_1", data["batch_id"])
	assert.Equal(t, "processing", data["status"])
}

func TestCollection_ListMeta(t *testing.T) {
	tests := []struct {
		name         string
		count, limit int
		hasMore      bool
	}{
		{"page filled", 5, 5, true},
		{"short page", 2, 5, false},
		{"unbounded", 4, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			items := make([]map[string]string, tt.count)
			response.Collection(w, items, response.NewListMeta(tt.count, tt.limit))

			assert.Equal(t, http.StatusOK, w.Code)
			body := decode(t, w)
			assert.Len(t, body["data"].([]any), tt.count)

			meta := body["meta"].(map[string]any)
			assert.EqualValues(t, tt.limit, meta["limit"])
			assert.EqualValues(t, tt.count, meta["count"])
			assert.Equal(t, tt.hasMore, meta["has_more"])
		})
	}
}

func TestProgress_Found(t *testing.T) {
	w := httptest.NewRecorder()
	b := &models.Batch{BatchID: "batch_1", TotalJobs: 3, CompletedJobs: 2, Status: models.StatusProcessing}
	response.Progress(w, models.NewProgress(b, &models.JobCounts{Pending: 1}))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "processing", data["status"])
	assert.InDelta(t, 66.7, data["percentage"], 1e-9)
	assert.EqualValues(t, 1, data["pending"])
}

func TestProgress_NotFoundSentinel(t *testing.T) {
	w := httptest.NewRecorder()
	response.Progress(w, models.NotFoundProgress("batch_gone"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, response.CodeBatchNotFound, errObj["code"])

	details := errObj["details"].(map[string]any)
	assert.Equal(t, "batch_gone", details["batch_id"])
	assert.Equal(t, "not_found", details["status"])
}

func TestError_WithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusConflict, response.CodeBatchLocked, "Batch is already being processed",
		map[string]string{"batch_id": "batch_1"})

	assert.Equal(t, http.StatusConflict, w.Code)
	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "BATCH_LOCKED", errObj["code"])
	assert.Equal(t, "Batch is already being processed", errObj["message"])
	assert.NotNil(t, errObj["details"])
}

func TestError_NoDetails(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusNotFound, response.CodeJobNotFound, "Resource not found", nil)

	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "JOB_NOT_FOUND", errObj["code"])
	_, hasDetails := errObj["details"]
	assert.False(t, hasDetails)
}

func TestInternal_HidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	response.Internal(w)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "INTERNAL_ERROR", errObj["code"])
	assert.Equal(t, "An unexpected error occurred", errObj["message"])
}
