package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/alttext/internal/api/middleware"
	"github.com/kiranshivaraju/alttext/internal/api/response"
	"github.com/kiranshivaraju/alttext/pkg/models"
)

// KeyStore is the API-key part of the store.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// Cleaner deletes old batches.
type Cleaner interface {
	Cleanup(ctx context.Context, olderThanDays int) (int, error)
}

// Admin serves the admin-scoped endpoints.
type Admin struct {
	keys    KeyStore
	cleaner Cleaner
}

func NewAdmin(keys KeyStore, cleaner Cleaner) *Admin {
	return &Admin{keys: keys, cleaner: cleaner}
}

type createKeyRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type createKeyResponse struct {
	*models.APIKey
	Key string `json:"key"`
}

// CreateKey handles POST /api/v1/admin/keys. The raw key is returned once.
func (h *Admin) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "name is required", nil)
		return
	}

	raw, err := mw.GenerateRawKey()
	if err != nil {
		writeError(w, r, err, response.CodeKeyNotFound)
		return
	}
	key, err := mw.NewAPIKey(req.Name, raw, req.Scopes)
	if err != nil {
		writeError(w, r, err, response.CodeKeyNotFound)
		return
	}
	if err := h.keys.CreateAPIKey(r.Context(), key); err != nil {
		writeError(w, r, err, response.CodeKeyNotFound)
		return
	}

	response.Created(w, createKeyResponse{APIKey: key, Key: raw})
}

// ListKeys handles GET /api/v1/admin/keys.
func (h *Admin) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListAPIKeys(r.Context())
	if err != nil {
		writeError(w, r, err, response.CodeKeyNotFound)
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	response.Collection(w, keys, response.NewListMeta(len(keys), 0))
}

// RevokeKey handles DELETE /api/v1/admin/keys/{keyID}.
func (h *Admin) RevokeKey(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "keyID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "keyID must be a UUID", nil)
		return
	}
	if err := h.keys.RevokeAPIKey(r.Context(), id); err != nil {
		writeError(w, r, err, response.CodeKeyNotFound)
		return
	}
	response.JSON(w, map[string]any{"id": id, "revoked": true})
}

// Cleanup handles DELETE /api/v1/admin/batches?older_than_days=N.
func (h *Admin) Cleanup(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.URL.Query().Get("older_than_days"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "older_than_days must be an integer", nil)
		return
	}
	n, err := h.cleaner.Cleanup(r.Context(), days)
	if err != nil {
		writeError(w, r, err, response.CodeBatchNotFound)
		return
	}
	response.JSON(w, map[string]any{"deleted": n, "older_than_days": days})
}
