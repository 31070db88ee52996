package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/repository/memory"
	"github.com/ignite/campaign-mailer/internal/repository/postgres"
)

var (
	_ Store = (*memory.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

func testConfig() *config.Config {
	cfg, err := config.LoadFromEnv("does-not-exist.yaml")
	if err != nil {
		panic(err)
	}
	cfg.Database.URL = ""
	cfg.Redis.Addr = ""
	cfg.Tracking.SQSQueueURL = ""
	cfg.Server.AdminToken = "token"
	cfg.Transport.Provider = "log"
	return cfg
}

func TestNewInMemory(t *testing.T) {
	a, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Consumer())
	assert.Equal(t, a.Store, a.Recorder())

	sum, err := a.Dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.Ran)
}

func TestRouterServesHealthAndGuardsAPI(t *testing.T) {
	a, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	defer a.Close()
	router := a.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/quota", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/quota", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/track/open?rid=r1&cid=c1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
}

func TestNewWarnsWithoutSigningKey(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stderr)

	cfg := testConfig()
	cfg.Tracking.SigningKey = ""
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	a.Close()
	assert.Contains(t, buf.String(), "TRACKING_SIGNING_KEY")

	buf.Reset()
	cfg = testConfig()
	cfg.Tracking.SigningKey = "k3y"
	a, err = New(context.Background(), cfg)
	require.NoError(t, err)
	a.Close()
	assert.NotContains(t, buf.String(), "TRACKING_SIGNING_KEY")
}
