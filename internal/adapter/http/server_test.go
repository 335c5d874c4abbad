package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	httpadapter "github.com/couchcryptid/lake-forcing-etl/internal/adapter/http"
	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
	"github.com/couchcryptid/lake-forcing-etl/internal/observability"
	"github.com/couchcryptid/lake-forcing-etl/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

// mockProcessor writes the output file the way the real processor would.
type mockProcessor struct {
	layout pipeline.Layout
	calls  int
	err    error
}

func (m *mockProcessor) Process(_ context.Context, t time.Time, lake string, _ int) (domain.Result, error) {
	m.calls++
	req, err := domain.NewRequest(t, lake)
	if err != nil {
		return domain.Result{}, err
	}
	if m.err != nil {
		return domain.Result{Key: req.Key()}, m.err
	}
	path := m.layout.OutputPath(req.Key())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.Result{}, err
	}
	if err := os.WriteFile(path, []byte("CDF\x01"), 0o644); err != nil {
		return domain.Result{}, err
	}
	return domain.Result{Key: req.Key(), Path: path, Attempts: 1}, nil
}

type mockSweeper struct {
	olderThan time.Duration
	deleted   []string
}

func (m *mockSweeper) Sweep(olderThan time.Duration) ([]string, error) {
	m.olderThan = olderThan
	return m.deleted, nil
}

type testEnv struct {
	srv     *httpadapter.Server
	proc    *mockProcessor
	sweeper *mockSweeper
	history *httpadapter.History
	layout  pipeline.Layout
	metrics *observability.Metrics
}

func newTestEnv(t *testing.T, readyErr error) *testEnv {
	t.Helper()
	layout := pipeline.Layout{Root: t.TempDir()}
	env := &testEnv{
		proc:    &mockProcessor{layout: layout},
		sweeper: &mockSweeper{},
		history: httpadapter.NewHistory(50),
		layout:  layout,
		metrics: observability.NewMetricsForTesting(),
	}
	env.srv = httpadapter.NewServer(":0", httpadapter.Deps{
		Processor: env.proc,
		Sweeper:   env.sweeper,
		History:   env.history,
		Layout:    layout,
		Ready:     &mockReadiness{err: readyErr},
		Retention: 7 * 24 * time.Hour,
	}, slog.Default(), env.metrics)
	return env
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// --- health ---

func TestHealthzReturns200(t *testing.T) {
	rec := newTestEnv(t, nil).do(http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := newTestEnv(t, nil).do(http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode(t, rec)["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := newTestEnv(t, fmt.Errorf("wgrib2 not found")).do(http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "wgrib2 not found", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := newTestEnv(t, nil).do(http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

// --- process ---

func TestProcess_Success(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/process", `{"date":"2024-01-10T12:00:00Z","lake":"m"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "20240110_12m", body["dirname"])
	assert.Equal(t, env.layout.OutputPath("20240110_12m"), body["file_path"])
	assert.Contains(t, body, "processing_time_seconds")
	assert.Equal(t, 1, env.history.Len())
}

func TestProcess_CachedResult(t *testing.T) {
	env := newTestEnv(t, nil)

	first := env.do(http.MethodPost, "/process", `{"date":"2024-01-10T12:00:00Z","lake":"m"}`)
	require.Equal(t, http.StatusOK, first.Code)

	rec := env.do(http.MethodPost, "/process", `{"date":"2024-01-10T12:30:00Z","lake":"m"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["cached"])
	assert.Equal(t, 1, env.proc.calls)
	assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.HistoryLookups.WithLabelValues("hit")), 0)
}

func TestProcess_StaleHistoryEntryReprocesses(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/process", `{"date":"2024-01-10T12:00:00Z","lake":"m"}`).Code)
	require.NoError(t, os.RemoveAll(env.layout.OutputDir("20240110_12m")))

	rec := env.do(http.MethodPost, "/process", `{"date":"2024-01-10T12:00:00Z","lake":"m"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, decode(t, rec), "cached")
	assert.Equal(t, 2, env.proc.calls)
}

func TestProcess_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"not json", `{{`, nil, http.StatusBadRequest},
		{"missing lake", `{"date":"2024-01-10T12:00:00Z"}`, nil, http.StatusBadRequest},
		{"bad date", `{"date":"yesterday","lake":"m"}`, nil, http.StatusBadRequest},
		{"conflict", `{"date":"2024-01-10T12:00:00Z","lake":"m"}`, domain.ConflictError("20240110_12m"), http.StatusConflict},
		{"unknown lake", `{"date":"2024-01-10T12:00:00Z","lake":"q"}`, domain.Errorf(domain.KindInvalidRequest, "lookup", "unknown lake"), http.StatusBadRequest},
		{"processing failure", `{"date":"2024-01-10T12:00:00Z","lake":"m"}`, domain.Errorf(domain.KindAcquisition, "acquire", "mirror down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.proc.err = tt.err

			rec := env.do(http.MethodPost, "/process", tt.body)

			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, decode(t, rec)["error"])
			assert.Zero(t, env.history.Len())
		})
	}
}

// --- download ---

func TestDownload_ServesFile(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/process", `{"date":"2024-01-10T12:00:00Z","lake":"m"}`).Code)

	rec := env.do(http.MethodGet, "/download/20240110_12m", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-netcdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="20240110_12m_in.nc"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "CDF\x01", rec.Body.String())
}

func TestDownload_NotFoundAndTraversal(t *testing.T) {
	env := newTestEnv(t, nil)
	secret := filepath.Join(env.layout.Root, "secret")
	require.NoError(t, os.MkdirAll(secret, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(secret, "secret_in.nc"), []byte("x"), 0o644))

	for _, target := range []string{
		"/download/20240110_12m",
		"/download/original",
		"/download/a/b/missing",
	} {
		rec := env.do(http.MethodGet, target, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}

	// Only the final path element is used.
	rec := env.do(http.MethodGet, "/download/nested/secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- status and cleanup ---

func TestStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	for h := 0; h < 12; h++ {
		body := fmt.Sprintf(`{"date":"2024-01-10T%02d:00:00Z","lake":"e"}`, h)
		require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/process", body).Code)
	}

	rec := env.do(http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status           string                     `json:"status"`
		ProcessedCount   int                        `json:"processed_count"`
		RecentProcessing []httpadapter.HistoryEntry `json:"recent_processing"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body.Status)
	assert.Equal(t, 12, body.ProcessedCount)
	require.Len(t, body.RecentProcessing, 10)
	assert.Equal(t, "20240110_11e", body.RecentProcessing[0].Dirname)
	assert.Equal(t, "e", body.RecentProcessing[0].Lake)
}

func TestCleanup(t *testing.T) {
	env := newTestEnv(t, nil)
	env.sweeper.deleted = []string{"20240101_00m"}
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/process", `{"date":"2024-01-10T12:00:00Z","lake":"m"}`).Code)

	rec := env.do(http.MethodPost, "/cleanup", `{"older_than_days": 3}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.InDelta(t, 1, body["deleted_count"], 0)
	assert.InDelta(t, 1, body["removed_history_entries"], 0)
	assert.Equal(t, 72*time.Hour, env.sweeper.olderThan)
	assert.Zero(t, env.history.Len())
}

func TestCleanup_DefaultAndInvalid(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/cleanup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7*24*time.Hour, env.sweeper.olderThan)
	assert.Empty(t, decode(t, rec)["deleted"])

	rec = env.do(http.MethodPost, "/cleanup", `{"older_than_days": -1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
