package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/alttext/internal/app"
	"github.com/kiranshivaraju/alttext/internal/api/handler"
	mw "github.com/kiranshivaraju/alttext/internal/api/middleware"
	"github.com/kiranshivaraju/alttext/internal/cache/cachetest"
	"github.com/kiranshivaraju/alttext/internal/config"
	"github.com/kiranshivaraju/alttext/internal/media/mediatest"
	"github.com/kiranshivaraju/alttext/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("DATABASE_URL", "sqlite://:memory:")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("MEDIA_BASE_URL", "https://cms.example.com")
	t.Setenv("API_KEY", "sk-test")
	t.Setenv("ALTTEXT_BOOTSTRAP_KEY", "alt_bootstrap_0123456789")

	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func assemble(t *testing.T, cfg *config.Config) *app.App {
	t.Helper()
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return app.Assemble(cfg, st, cachetest.NewMemory(), mediatest.NewLibrary(), nil)
}

func TestEnsureBootstrapKey(t *testing.T) {
	cfg := testConfig(t)
	a := assemble(t, cfg)
	ctx := context.Background()

	require.NoError(t, a.EnsureBootstrapKey(ctx))
	keys, err := a.Store.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "bootstrap", keys[0].Name)
	assert.Equal(t, []string{mw.ScopeAdmin}, keys[0].Scopes)

	// A second start leaves the table alone.
	require.NoError(t, a.EnsureBootstrapKey(ctx))
	keys, err = a.Store.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestEnsureBootstrapKey_Unset(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.BootstrapKey = ""
	a := assemble(t, cfg)

	require.NoError(t, a.EnsureBootstrapKey(context.Background()))
	keys, err := a.Store.ListAPIKeys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestEnsureBootstrapKey_TooShort(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.BootstrapKey = "short"
	a := assemble(t, cfg)

	assert.Error(t, a.EnsureBootstrapKey(context.Background()))
}

func TestRouter_BootstrapKeyAuthenticatesAdminRoutes(t *testing.T) {
	cfg := testConfig(t)
	a := assemble(t, cfg)
	require.NoError(t, a.EnsureBootstrapKey(context.Background()))

	runner := handler.NewRunner(context.Background())
	srv := httptest.NewServer(a.Router(runner, http.NotFoundHandler()))
	defer srv.Close()
	defer runner.Wait()

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/admin/keys", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+cfg.Server.BootstrapKey)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClose_WithoutNewIsSafe(t *testing.T) {
	a := assemble(t, testConfig(t))
	a.Close()
	a.Close()
}
