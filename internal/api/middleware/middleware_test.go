package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/alttext/internal/api/middleware"
	"github.com/kiranshivaraju/alttext/internal/cache"
	"github.com/kiranshivaraju/alttext/internal/cache/cachetest"
	"github.com/kiranshivaraju/alttext/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- Mock key store ---

type mockKeyStore struct {
	keys []*models.APIKey
	err  error

	mu   sync.Mutex
	used []uuid.UUID
	done chan struct{}
}

func (m *mockKeyStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return m.keys, m.err
}

func (m *mockKeyStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	m.used = append(m.used, id)
	m.mu.Unlock()
	if m.done != nil {
		close(m.done)
	}
	return nil
}

// --- helpers ---

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func hashKey(t *testing.T, rawKey string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func errBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)
}

func storedKey(t *testing.T, name, rawKey string, scopes ...string) *models.APIKey {
	t.Helper()
	return &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   hashKey(t, rawKey),
		KeyPrefix: rawKey[:mw.KeyPrefixLen],
		Scopes:    scopes,
	}
}

func bearer(rawKey string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	return req
}

// ========================================
// Auth Middleware Tests
// ========================================

func TestAuth_MissingAuthHeader(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{})
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", errBody(t, w)["code"])
}

func TestAuth_InvalidBearerFormat(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{})
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Basic abc123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_KeyTooShort(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{})
	handler := auth.Authenticate(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, bearer("short"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_KeyNotFound(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{keys: []*models.APIKey{}})
	handler := auth.Authenticate(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, bearer("alt_test1234567890"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_StoreError(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{err: errors.New("db down")})
	handler := auth.Authenticate(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, bearer("alt_test1234567890"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestAuth_WrongPassword(t *testing.T) {
	rawKey := "alt_test1234567890abcdef"
	key := storedKey(t, "editor", "alt_test_different_key_entirely")
	auth := mw.NewAuth(&mockKeyStore{keys: []*models.APIKey{key}})
	handler := auth.Authenticate(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, bearer(rawKey))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_ValidKey(t *testing.T) {
	rawKey := "alt_test1234567890abcdef"
	key := storedKey(t, "newsroom-editor", rawKey, "read")
	ks := &mockKeyStore{keys: []*models.APIKey{key}, done: make(chan struct{})}
	auth := mw.NewAuth(ks)

	var gotOwner string
	var gotOK, gotAdmin bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOwner, gotOK = mw.GetOwner(r)
		gotAdmin = mw.HasScope(r, mw.ScopeAdmin)
		w.WriteHeader(http.StatusOK)
	})
	handler := auth.Authenticate(inner)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, bearer(rawKey))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gotOK)
	assert.Equal(t, "newsroom-editor", gotOwner)
	assert.False(t, gotAdmin)

	<-ks.done
	ks.mu.Lock()
	defer ks.mu.Unlock()
	assert.Equal(t, []uuid.UUID{key.ID}, ks.used)
}

func TestAuth_RequireScope_Allowed(t *testing.T) {
	rawKey := "alt_admin_1234567890abcdef"
	auth := mw.NewAuth(&mockKeyStore{keys: []*models.APIKey{storedKey(t, "ops", rawKey, "read", mw.ScopeAdmin)}})

	handler := auth.Authenticate(auth.RequireScope(mw.ScopeAdmin)(okHandler()))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, bearer(rawKey))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_RequireScope_Denied(t *testing.T) {
	rawKey := "alt_read__1234567890abcdef"
	auth := mw.NewAuth(&mockKeyStore{keys: []*models.APIKey{storedKey(t, "editor", rawKey, "read")}})

	handler := auth.Authenticate(auth.RequireScope(mw.ScopeAdmin)(okHandler()))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, bearer(rawKey))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errBody(t, w)["code"])
}

// ========================================
// Key generation
// ========================================

func TestGenerateRawKey(t *testing.T) {
	a, err := mw.GenerateRawKey()
	require.NoError(t, err)
	b, err := mw.GenerateRawKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "alt_"))
	assert.Len(t, a, 4+48)
	assert.NotEqual(t, a, b)
}

func TestNewAPIKey(t *testing.T) {
	raw := "alt_0123456789abcdef"
	key, err := mw.NewAPIKey("ops", raw, []string{mw.ScopeAdmin})
	require.NoError(t, err)

	assert.Equal(t, "ops", key.Name)
	assert.Equal(t, "alt_0123", key.KeyPrefix)
	assert.NotEqual(t, raw, key.KeyHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)))
	assert.NotEqual(t, uuid.Nil, key.ID)

	_, err = mw.NewAPIKey("ops", "tooshort", nil)
	assert.Error(t, err)
}

// ========================================
// Rate Limit Middleware Tests
// ========================================

func withPrefix(prefix string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	return req.WithContext(mw.WithKeyPrefix(req.Context(), prefix))
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	rl := mw.NewRateLimit(cachetest.NewMemory(), 60)
	handler := rl.Limit(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withPrefix("alt_test"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	mc := cachetest.NewMemory()
	rl := mw.NewRateLimit(mc, 2)
	handler := rl.Limit(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, withPrefix("alt_over"))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withPrefix("alt_over"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errBody(t, w)["code"])

	// Other keys have their own window.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, withPrefix("alt_othr"))
	assert.Equal(t, http.StatusOK, w.Code)

	_, found, err := mc.Get(context.Background(), cache.RateLimitKey("alt_over"))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	mc := cachetest.NewMemory()
	mc.Err = errors.New("redis down")
	handler := mw.NewRateLimit(mc, 1).Limit(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withPrefix("alt_test"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_NoKeyPrefix_PassThrough(t *testing.T) {
	rl := mw.NewRateLimit(cachetest.NewMemory(), 60)
	handler := rl.Limit(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

// ========================================
// Recovery Middleware Tests
// ========================================

func TestRecovery_CatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("something went wrong")
	})

	handler := mw.Recovery(panicking)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestRecovery_NoPanic(t *testing.T) {
	handler := mw.Recovery(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// ========================================
// Logging Middleware Tests
// ========================================

func TestLogger_SetsStatus(t *testing.T) {
	handler := mw.Logger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
}
