package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/alttext/pkg/models"
)

// Client calls the alttext HTTP API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is an error envelope returned by the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

// CreateBatchResponse mirrors the create endpoint's payload.
type CreateBatchResponse struct {
	BatchID   string        `json:"batch_id"`
	TotalJobs int           `json:"total_jobs"`
	Mode      models.Mode   `json:"mode"`
	Status    models.Status `json:"status"`
}

// BatchDetails is a batch with its jobs and progress.
type BatchDetails struct {
	Batch    *models.Batch   `json:"batch"`
	Jobs     []*models.Job   `json:"jobs"`
	Progress models.Progress `json:"progress"`
	Failures []FailureGroup  `json:"failures"`
}

// FailureGroup is a set of failed jobs sharing one cause.
type FailureGroup struct {
	SampleMessage string   `json:"sample_message"`
	Count         int      `json:"count"`
	ImageRefs     []string `json:"image_refs"`
}

type ApplyResponse struct {
	AppliedCount int      `json:"applied_count"`
	Errors       []string `json:"errors"`
}

type CancelResponse struct {
	BatchID       string `json:"batch_id"`
	JobsCancelled int    `json:"jobs_cancelled"`
}

type RetryResponse struct {
	BatchID string `json:"batch_id"`
	Reset   int    `json:"reset"`
}

type JobOutcome struct {
	JobID       int64  `json:"job_id"`
	Outcome     string `json:"outcome"`
	Description string `json:"description"`
	RetryCount  int    `json:"retry_count"`
	Error       string `json:"error"`
}

type CleanupResponse struct {
	Deleted int `json:"deleted"`
}

// CreatedKey is a new API key; Key is the raw secret and is shown only once.
type CreatedKey struct {
	models.APIKey
	Key string `json:"key"`
}

func (c *Client) CreateBatch(refs []string, mode models.Mode) (*CreateBatchResponse, error) {
	var out CreateBatchResponse
	err := c.do(http.MethodPost, "/api/v1/batches", map[string]any{"image_refs": refs, "mode": mode}, &out)
	return &out, err
}

func (c *Client) ListBatches(limit int) ([]*models.Batch, error) {
	var out []*models.Batch
	err := c.do(http.MethodGet, fmt.Sprintf("/api/v1/batches?limit=%d", limit), nil, &out)
	return out, err
}

func (c *Client) GetBatch(batchID string) (*BatchDetails, error) {
	var out BatchDetails
	err := c.do(http.MethodGet, "/api/v1/batches/"+url.PathEscape(batchID), nil, &out)
	return &out, err
}

func (c *Client) Progress(batchID string) (*models.Progress, error) {
	var out models.Progress
	err := c.do(http.MethodGet, "/api/v1/batches/"+url.PathEscape(batchID)+"/progress", nil, &out)
	return &out, err
}

func (c *Client) ProcessBatch(batchID string) error {
	return c.do(http.MethodPost, "/api/v1/batches/"+url.PathEscape(batchID)+"/process", nil, nil)
}

// ApplyBatch writes the batch's descriptions back. edits maps job IDs to
// replacement text.
func (c *Client) ApplyBatch(batchID string, edits map[int64]string) (*ApplyResponse, error) {
	var body any
	if len(edits) > 0 {
		descriptions := make(map[string]string, len(edits))
		for id, text := range edits {
			descriptions[fmt.Sprint(id)] = text
		}
		body = map[string]any{"descriptions": descriptions}
	}
	var out ApplyResponse
	err := c.do(http.MethodPost, "/api/v1/batches/"+url.PathEscape(batchID)+"/apply", body, &out)
	return &out, err
}

func (c *Client) CancelBatch(batchID string) (*CancelResponse, error) {
	var out CancelResponse
	err := c.do(http.MethodPost, "/api/v1/batches/"+url.PathEscape(batchID)+"/cancel", nil, &out)
	return &out, err
}

func (c *Client) RetryBatch(batchID string) (*RetryResponse, error) {
	var out RetryResponse
	err := c.do(http.MethodPost, "/api/v1/batches/"+url.PathEscape(batchID)+"/retry", nil, &out)
	return &out, err
}

func (c *Client) ProcessJob(jobID int64) (*JobOutcome, error) {
	var out JobOutcome
	err := c.do(http.MethodPost, fmt.Sprintf("/api/v1/jobs/%d/process", jobID), nil, &out)
	return &out, err
}

func (c *Client) Cleanup(days int) (*CleanupResponse, error) {
	var out CleanupResponse
	err := c.do(http.MethodDelete, fmt.Sprintf("/api/v1/admin/batches?older_than_days=%d", days), nil, &out)
	return &out, err
}

func (c *Client) CreateKey(name string, scopes []string) (*CreatedKey, error) {
	var out CreatedKey
	err := c.do(http.MethodPost, "/api/v1/admin/keys", map[string]any{"name": name, "scopes": scopes}, &out)
	return &out, err
}

func (c *Client) ListKeys() ([]*models.APIKey, error) {
	var out []*models.APIKey
	err := c.do(http.MethodGet, "/api/v1/admin/keys", nil, &out)
	return out, err
}

func (c *Client) RevokeKey(id string) error {
	return c.do(http.MethodDelete, "/api/v1/admin/keys/"+url.PathEscape(id), nil, nil)
}

// do sends one request and decodes the data field of the envelope into out.
func (c *Client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("Authorization", "Bearer "+c.Token)
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to parse response data: %w", err)
	}
	return nil
}

func parseAPIError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code == "" {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{StatusCode: status, Code: envelope.Error.Code, Message: envelope.Error.Message}
}
