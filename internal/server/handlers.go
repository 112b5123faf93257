package server

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/klauspost/compress/gzip"

	"github.com/maauso/sales-aggregator-api/internal/auth"
	"github.com/maauso/sales-aggregator-api/internal/job"
	"github.com/maauso/sales-aggregator-api/internal/sales"
	"github.com/maauso/sales-aggregator-api/internal/storage"
)

const (
	defaultMaxUploadBytes = 100 << 20
	uploadFormField       = "file"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        *job.Service
	validator      *validator.Validate
	logger         *slog.Logger
	chunkSize      int
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithChunkSize sets how many bytes of the request body form one upload chunk.
func WithChunkSize(n int) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.chunkSize = n
		}
	}
}

// WithMaxUploadBytes limits the size of upload request bodies.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:        service,
		validator:      validator.New(),
		logger:         logger,
		chunkSize:      sales.DefaultChunkSize,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Upload handles POST /api/upload requests. The CSV is taken from the
// multipart field "file" or, for other content types, from the raw body.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	meta := uploadMetadata{
		Filename: r.URL.Query().Get("filename"),
		Token:    requestToken(r),
	}

	body, filename, err := h.uploadBody(r)
	if err != nil {
		h.logger.Warn("failed to read upload", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_UPLOAD")
		return
	}
	if filename != "" {
		meta.Filename = filename
	}

	if err := h.validator.Struct(meta); err != nil {
		h.logger.Warn("upload validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid gzip body", "INVALID_ENCODING")
			return
		}
		defer func() { _ = zr.Close() }()
		body = zr
	}

	stream := sales.NewReaderStream(body, h.chunkSize, meta.Filename, meta.Token)
	res, err := h.service.Upload(r.Context(), stream)

	writeJSON(w, uploadStatusCode(err), UploadResponse{
		JobID:       res.JobID,
		Status:      string(res.Status),
		Message:     res.Message,
		DownloadURL: res.DownloadURL,
		Metrics:     toMetricsResponse(res.Metrics),
	})
}

// uploadBody locates the CSV payload of r.
func (h *Handlers) uploadBody(r *http.Request) (io.Reader, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, "", nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", err
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", errors.New("multipart field \"file\" is required")
		}
		if err != nil {
			return nil, "", err
		}
		if part.FormName() == uploadFormField {
			return part, part.FileName(), nil
		}
		_ = part.Close()
	}
}

func uploadStatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusAccepted
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, job.ErrIncompleteUpload):
		return http.StatusBadRequest
	case errors.Is(err, job.ErrQueueFull), errors.Is(err, job.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Status handles GET /api/status/{id} requests.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	req := statusRequest{
		JobID: r.PathValue("id"),
		Token: requestToken(r),
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	res, err := h.service.Status(r.Context(), req.JobID, req.Token)

	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, job.ErrJobNotFound):
		status = http.StatusNotFound
	default:
		h.logger.Error("failed to get job",
			slog.String("job_id", req.JobID),
			slog.String("error", err.Error()),
		)
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, JobStatusResponse{
		JobID:        res.JobID,
		Status:       string(res.Status),
		DownloadURL:  res.DownloadURL,
		ResultURL:    res.ResultURL,
		ErrorMessage: res.ErrorMessage,
		Metrics:      toMetricsResponse(res.Metrics),
	})
}

// Download handles GET /processed/{filename} requests.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")

	rc, err := h.service.OpenResult(r.Context(), name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, storage.ErrInvalidName) {
			writeError(w, http.StatusNotFound, "result not found", "RESULT_NOT_FOUND")
			return
		}
		h.logger.Error("failed to open result",
			slog.String("file", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to open result", "RESULT_FETCH_FAILED")
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("failed to stream result",
			slog.String("file", name),
			slog.String("error", err.Error()),
		)
	}
}

// requestToken returns the bearer token of r, falling back to the token query parameter.
func requestToken(r *http.Request) string {
	if v := r.Header.Get("Authorization"); v != "" {
		if token, ok := strings.CutPrefix(v, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
