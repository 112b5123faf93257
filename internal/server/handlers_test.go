package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/sales-aggregator-api/internal/auth"
	"github.com/maauso/sales-aggregator-api/internal/job"
	"github.com/maauso/sales-aggregator-api/internal/storage"
)

const salesCSV = "Department Name,Date,Number of Sales\n" +
	"Electronics,2023-01-01,100\n" +
	"Clothing,2023-01-01,200\n" +
	"Electronics,2023-01-02,50\n"

type testEnv struct {
	router http.Handler
	auth   *auth.Authenticator
}

func newTestEnv(t *testing.T, authEnabled bool, jobOpts []job.Option, opts ...HandlerOption) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	authn := auth.New(authEnabled, "test-secret")
	svc := job.NewService(job.NewMemoryRepository(), authn, store, logger, jobOpts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})

	handlers := NewHandlers(svc, logger, opts...)
	return &testEnv{
		router: NewRouter(handlers, logger, DefaultConfig()),
		auth:   authn,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeUpload(t *testing.T, rec *httptest.ResponseRecorder) UploadResponse {
	t.Helper()
	var resp UploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) JobStatusResponse {
	t.Helper()
	var resp JobStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

// waitCompleted polls the status endpoint until the job reaches a terminal state.
func (e *testEnv) waitCompleted(t *testing.T, jobID, token string) JobStatusResponse {
	t.Helper()
	var resp JobStatusResponse
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/status/"+jobID, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := e.do(req)
		if rec.Code != http.StatusOK {
			return false
		}
		resp = decodeStatus(t, rec)
		return resp.Status == string(job.StatusCompleted) || resp.Status == string(job.StatusError)
	}, 5*time.Second, 5*time.Millisecond)
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestUpload_RawBody(t *testing.T) {
	env := newTestEnv(t, false, nil, WithChunkSize(7))

	req := httptest.NewRequest(http.MethodPost, "/api/upload?filename=sales.csv", strings.NewReader(salesCSV))
	req.Header.Set("Content-Type", "text/csv")
	rec := env.do(req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeUpload(t, rec)
	assert.True(t, strings.HasPrefix(resp.JobID, "job-"))
	assert.Equal(t, "processing", resp.Status)
	assert.Empty(t, resp.DownloadURL)
	assert.Equal(t, MetricsResponse{}, resp.Metrics)

	status := env.waitCompleted(t, resp.JobID, "")
	require.Equal(t, "completed", status.Status, status.ErrorMessage)
	assert.Equal(t, 3, status.Metrics.RowsProcessed)
	assert.Equal(t, 0, status.Metrics.RowsSkipped)
	assert.Equal(t, 2, status.Metrics.DepartmentsCount)

	dl := env.do(httptest.NewRequest(http.MethodGet, status.DownloadURL, nil))
	require.Equal(t, http.StatusOK, dl.Code)
	assert.Contains(t, dl.Header().Get("Content-Type"), "text/csv")
	assert.Equal(t, "Department Name,Total Number of Sales\nClothing,200\nElectronics,150\n", dl.Body.String())
}

func TestUpload_Multipart(t *testing.T) {
	env := newTestEnv(t, false, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile("file", "sales.csv")
	require.NoError(t, err)
	_, err = io.WriteString(fw, salesCSV)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := env.do(req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeUpload(t, rec)

	status := env.waitCompleted(t, resp.JobID, "")
	assert.Equal(t, "completed", status.Status)
	assert.Equal(t, 3, status.Metrics.RowsProcessed)
}

func TestUpload_MultipartMissingFile(t *testing.T) {
	env := newTestEnv(t, false, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("other", "value"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := env.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "INVALID_UPLOAD", resp.Code)
}

func TestUpload_Gzip(t *testing.T) {
	env := newTestEnv(t, false, nil)

	var body bytes.Buffer
	zw := gzip.NewWriter(&body)
	_, err := io.WriteString(zw, salesCSV)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Encoding", "gzip")
	rec := env.do(req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	status := env.waitCompleted(t, decodeUpload(t, rec).JobID, "")
	assert.Equal(t, "completed", status.Status)
	assert.Equal(t, 2, status.Metrics.DepartmentsCount)
}

func TestUpload_InvalidGzip(t *testing.T) {
	env := newTestEnv(t, false, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")
	rec := env.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_InvalidFilename(t *testing.T) {
	env := newTestEnv(t, false, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/upload?filename=../../etc/passwd", strings.NewReader(salesCSV))
	rec := env.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)
}

func TestUpload_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, false, nil, WithMaxUploadBytes(16))

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(salesCSV))
	rec := env.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeUpload(t, rec)
	assert.Equal(t, "error", resp.Status)
}

func TestUpload_EmptyBodyFailsJob(t *testing.T) {
	env := newTestEnv(t, false, nil)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/upload", http.NoBody))
	require.Equal(t, http.StatusAccepted, rec.Code)

	status := env.waitCompleted(t, decodeUpload(t, rec).JobID, "")
	assert.Equal(t, "error", status.Status)
	assert.Contains(t, status.ErrorMessage, "csv file is empty")
	assert.Empty(t, status.DownloadURL)
}

func TestUpload_Unauthorized(t *testing.T) {
	env := newTestEnv(t, true, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(salesCSV))
	req.Header.Set("Authorization", "Bearer wrong")
	rec := env.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeUpload(t, rec)
	assert.Equal(t, "unauthorized", resp.Status)
	assert.Equal(t, "authentication failed", resp.Message)

	status := env.do(httptest.NewRequest(http.MethodGet, "/api/status/"+resp.JobID+"?token="+env.auth.Token(), nil))
	assert.Equal(t, http.StatusNotFound, status.Code)
}

func TestUpload_AuthorizedWithQueryToken(t *testing.T) {
	env := newTestEnv(t, true, nil)
	token := env.auth.Token()

	req := httptest.NewRequest(http.MethodPost, "/api/upload?token="+token, strings.NewReader(salesCSV))
	rec := env.do(req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	status := env.waitCompleted(t, decodeUpload(t, rec).JobID, token)
	assert.Equal(t, "completed", status.Status)
}

func TestUpload_QueueFull(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	sampler := func() uint64 {
		once.Do(func() { close(started) })
		<-release
		return 0
	}
	env := newTestEnv(t, false, []job.Option{
		job.WithWorkers(1),
		job.WithQueueSize(1),
		job.WithMemorySampler(sampler),
	})
	defer close(release)

	first := env.do(httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(salesCSV)))
	require.Equal(t, http.StatusAccepted, first.Code)
	<-started

	second := env.do(httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(salesCSV)))
	require.Equal(t, http.StatusAccepted, second.Code)

	third := env.do(httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(salesCSV)))
	assert.Equal(t, http.StatusServiceUnavailable, third.Code)
	resp := decodeUpload(t, third)
	assert.Equal(t, "error", resp.Status)

	status := env.do(httptest.NewRequest(http.MethodGet, "/api/status/"+resp.JobID, nil))
	require.Equal(t, http.StatusOK, status.Code)
	assert.Equal(t, "error", decodeStatus(t, status).Status)
}

func TestStatus_NotFound(t *testing.T) {
	env := newTestEnv(t, false, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/status/job-unknown", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeStatus(t, rec)
	assert.Equal(t, "job-unknown", resp.JobID)
	assert.Equal(t, "not_found", resp.Status)
	assert.Empty(t, resp.DownloadURL)
}

func TestStatus_Unauthorized(t *testing.T) {
	env := newTestEnv(t, true, nil)
	token := env.auth.Token()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(salesCSV))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := env.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := decodeUpload(t, rec).JobID

	statusRec := env.do(httptest.NewRequest(http.MethodGet, "/api/status/"+jobID, nil))

	assert.Equal(t, http.StatusUnauthorized, statusRec.Code)
	resp := decodeStatus(t, statusRec)
	assert.Equal(t, "unauthorized", resp.Status)
	assert.Equal(t, "authentication failed", resp.ErrorMessage)
	assert.Empty(t, resp.DownloadURL)
}

func TestStatus_ResponseShape(t *testing.T) {
	env := newTestEnv(t, false, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/status/job-unknown", nil))

	var raw map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&raw))
	for _, key := range []string{"job_id", "status", "download_url", "result_url", "error_message", "metrics"} {
		assert.Contains(t, raw, key)
	}
	metrics, ok := raw["metrics"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"processing_time_ms", "rows_processed", "rows_skipped", "departments_count", "peak_memory_mb"} {
		assert.Contains(t, metrics, key)
	}
}

func TestDownload_NotFound(t *testing.T) {
	env := newTestEnv(t, false, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/processed/missing.csv", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "RESULT_NOT_FOUND", resp.Code)
}

func TestRequestToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?token=from-query", nil)
	assert.Equal(t, "from-query", requestToken(req))

	req.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", requestToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "from-query", requestToken(req))
}

func TestCORSMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := Config{AllowedOrigins: []string{"https://example.com"}}
	router := NewRouter(NewHandlers(nil, logger), logger, cfg)

	// Test with allowed origin
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// Test with disallowed origin
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://other.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Test OPTIONS preflight
	req = httptest.NewRequest(http.MethodOptions, "/api/upload", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	// Create a handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(logger)(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	// Should not panic
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)
}
