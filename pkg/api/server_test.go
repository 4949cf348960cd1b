package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"runwrap/pkg/api/middleware"
	"runwrap/pkg/diag"
	"runwrap/pkg/envrt"
	"runwrap/pkg/launcher"
	"runwrap/pkg/models"
	"runwrap/pkg/runner"
	"runwrap/pkg/scheduler"
	"runwrap/pkg/storage"
)

type runnerFunc func(ctx context.Context, inv runner.Invocation) runner.Result

func (f runnerFunc) Run(ctx context.Context, inv runner.Invocation) runner.Result {
	return f(ctx, inv)
}

type fixture struct {
	server *Server
	store  *storage.MemoryStore
	logs   storage.LogStore
}

func newFixture(t *testing.T, apiKey string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	base := t.TempDir()
	binDir := filepath.Join(base, "envs", "trading", "bin")
	require.NoError(t, os.MkdirAll(binDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "python"), []byte("#!/bin/sh\nexit 0\n"), 0755))

	store := storage.NewMemoryStore()
	logs, err := storage.NewLocalLogStore(t.TempDir())
	require.NoError(t, err)

	l := launcher.New(launcher.Config{
		Envs: envrt.NewManager(base, "UTC"),
		Runner: runnerFunc(func(ctx context.Context, inv runner.Invocation) runner.Result {
			return runner.Result{ExitStatus: 0}
		}),
		Reporter: diag.NewReporter(&bytes.Buffer{}, time.UTC, zap.NewNop()),
		Store:    store,
	})

	jobs := []models.JobSpec{
		{Name: "fetch-historical-data", Module: "mining.concretum_strategy.fetch_historical_data_daily", CondaEnv: "trading", Schedule: "30 5 * * *"},
		{Name: "receive-signals-server", Module: "mining.run_receive_signals_server", CondaEnv: "trading"},
	}

	server := NewServer(Config{
		Port:      "0",
		APIKey:    apiKey,
		Jobs:      jobs,
		Store:     store,
		Logs:      logs,
		Scheduler: scheduler.NewCore(time.UTC, l, zap.NewNop()),
		Logger:    zap.NewNop(),
	})

	return &fixture{server: server, store: store, logs: logs}
}

func (f *fixture) do(method, path, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if apiKey != "" {
		req.Header.Set(middleware.APIKeyHeader, apiKey)
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 2, body["jobs"])
}

func TestListJobs(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(http.MethodGet, "/api/v1/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fetch-historical-data")
	assert.Contains(t, w.Body.String(), "receive-signals-server")
}

func TestTriggerUnknownJob(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(http.MethodPost, "/api/v1/jobs/nope/trigger", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerRequiresAPIKey(t *testing.T) {
	f := newFixture(t, "sk_test")

	w := f.do(http.MethodPost, "/api/v1/jobs/fetch-historical-data/trigger", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/api/v1/jobs/fetch-historical-data/trigger", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/api/v1/jobs/fetch-historical-data/trigger", "sk_test")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestListAndGetRuns(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	rec := &models.RunRecord{
		ID:        uuid.New(),
		JobName:   "fetch-historical-data",
		Module:    "mining.concretum_strategy.fetch_historical_data_daily",
		CondaEnv:  "trading",
		StartedAt: time.Now(),
		Status:    models.RunSucceeded,
	}
	require.NoError(t, f.store.CreateRun(ctx, rec))

	w := f.do(http.MethodGet, "/api/v1/runs?job=fetch-historical-data", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), rec.ID.String())

	w = f.do(http.MethodGet, "/api/v1/runs/"+rec.ID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/v1/runs/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/api/v1/runs/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetRunLogs(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	runID := uuid.New()
	uri, err := f.logs.Store(ctx, "fetch-historical-data", runID, []byte("downloaded 390 bars\n"))
	require.NoError(t, err)

	rec := &models.RunRecord{
		ID:        runID,
		JobName:   "fetch-historical-data",
		Module:    "m",
		CondaEnv:  "trading",
		StartedAt: time.Now(),
		Status:    models.RunSucceeded,
		LogURI:    uri,
	}
	require.NoError(t, f.store.CreateRun(ctx, rec))

	w := f.do(http.MethodGet, "/api/v1/runs/"+runID.String()+"/logs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "downloaded 390 bars\n", w.Body.String())

	// A run with no captured output has no logs.
	bare := &models.RunRecord{ID: uuid.New(), JobName: "x", Module: "m", CondaEnv: "trading", StartedAt: time.Now()}
	require.NoError(t, f.store.CreateRun(ctx, bare))
	w = f.do(http.MethodGet, "/api/v1/runs/"+bare.ID.String()+"/logs", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
