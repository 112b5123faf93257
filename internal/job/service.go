package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/maauso/sales-aggregator-api/internal/job/id"
	"github.com/maauso/sales-aggregator-api/internal/sales"
	"github.com/maauso/sales-aggregator-api/internal/storage"
)

const (
	defaultWorkers        = 4
	defaultQueueSize      = 64
	defaultDownloadPrefix = "/processed/"
)

// ErrIncompleteUpload is returned when the upload stream fails before EOF.
var ErrIncompleteUpload = errors.New("incomplete upload")

// Authenticator decides whether a caller token is acceptable.
type Authenticator interface {
	RequireAuth(token string) error
}

// UploadResult is the immediate answer to an upload.
type UploadResult struct {
	// JobID identifies the job, including rejected uploads (for log correlation).
	JobID string
	// Status is processing, error or unauthorized.
	Status Status
	// Message is a human-readable summary.
	Message string
	// DownloadURL is empty until the job completes.
	DownloadURL string
	// Metrics is a zero-valued placeholder.
	Metrics Metrics
}

// StatusResult is the answer to a status query.
type StatusResult struct {
	JobID        string
	Status       Status
	DownloadURL  string
	ResultURL    string
	ErrorMessage string
	Metrics      Metrics
}

// Service accepts sales CSV uploads, runs the aggregation of each upload on a
// bounded worker pool, and reports job status.
type Service struct {
	repo       Repository
	auth       Authenticator
	store      storage.Storage
	aggregator *sales.Aggregator
	logger     *slog.Logger
	pool       *Pool

	workers        int
	queueSize      int
	downloadPrefix string
	pushToS3       bool
	s3Prefix       string
	sampleMemory   func() uint64
}

// Option configures a Service.
type Option func(*Service)

// WithWorkers sets how many jobs may aggregate concurrently.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithQueueSize sets how many accepted jobs may wait for a worker.
func WithQueueSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithDownloadPrefix sets the URL prefix under which result files are served.
func WithDownloadPrefix(prefix string) Option {
	return func(s *Service) {
		s.downloadPrefix = prefix
	}
}

// WithPushToS3 publishes every result to S3 under keyPrefix + file name.
func WithPushToS3(keyPrefix string) Option {
	return func(s *Service) {
		s.pushToS3 = true
		s.s3Prefix = keyPrefix
	}
}

// WithMemorySampler replaces the memory probe used for job metrics.
func WithMemorySampler(fn func() uint64) Option {
	return func(s *Service) {
		if fn != nil {
			s.sampleMemory = fn
		}
	}
}

// NewService creates a Service and starts its worker pool.
// Call Close to stop the workers.
func NewService(repo Repository, auth Authenticator, store storage.Storage, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:           repo,
		auth:           auth,
		store:          store,
		aggregator:     sales.NewAggregator(logger),
		logger:         logger,
		workers:        defaultWorkers,
		queueSize:      defaultQueueSize,
		downloadPrefix: defaultDownloadPrefix,
		sampleMemory:   residentMemory,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = NewPool(s.workers, s.queueSize)
	return s
}

// Upload drains stream, authenticates with the token of its first chunk and,
// on success, registers a processing job and queues it. It returns without
// waiting for the aggregation. The returned error classifies failures
// (auth.ErrUnauthorized, ErrQueueFull, ...); the result is always populated.
func (s *Service) Upload(ctx context.Context, stream sales.ChunkStream) (UploadResult, error) {
	jobID := id.Generate()
	upload, recvErr := receive(stream)

	if err := s.auth.RequireAuth(upload.authToken); err != nil {
		s.logger.Warn("unauthorized upload attempt",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return UploadResult{
			JobID:   jobID,
			Status:  StatusUnauthorized,
			Message: "authentication failed",
		}, err
	}

	job := NewWithID(jobID, upload.filename)
	if err := s.repo.Create(ctx, job); err != nil {
		s.logger.Error("failed to register job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return UploadResult{
			JobID:   jobID,
			Status:  StatusError,
			Message: fmt.Sprintf("upload failed: %v", err),
		}, err
	}

	if recvErr != nil {
		msg := fmt.Sprintf("failed to receive file data: %v", recvErr)
		s.fail(ctx, jobID, msg)
		return UploadResult{JobID: jobID, Status: StatusError, Message: msg}, fmt.Errorf("%w: %w", ErrIncompleteUpload, recvErr)
	}

	data := sales.NewSliceStream(upload.chunks...)
	err := s.pool.TrySubmit(func(ctx context.Context) {
		s.run(ctx, jobID, data)
	})
	if err != nil {
		s.logger.Warn("failed to queue job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		s.fail(ctx, jobID, err.Error())
		return UploadResult{
			JobID:   jobID,
			Status:  StatusError,
			Message: fmt.Sprintf("upload failed: %v", err),
		}, err
	}

	s.logger.Info("upload accepted",
		slog.String("job_id", jobID),
		slog.String("filename", upload.filename),
		slog.Int("bytes", upload.size),
	)

	return UploadResult{
		JobID:   jobID,
		Status:  StatusProcessing,
		Message: "file upload accepted, processing in background",
	}, nil
}

// Status reports the state of a job. Unknown IDs yield StatusNotFound and
// rejected tokens yield StatusUnauthorized; in both cases the matching
// sentinel error is returned alongside the result.
func (s *Service) Status(ctx context.Context, jobID, token string) (StatusResult, error) {
	if err := s.auth.RequireAuth(token); err != nil {
		s.logger.Warn("unauthorized status check attempt",
			slog.String("job_id", jobID),
		)
		return StatusResult{
			JobID:        jobID,
			Status:       StatusUnauthorized,
			ErrorMessage: "authentication failed",
		}, err
	}

	job, err := s.repo.FindByID(ctx, jobID)
	if errors.Is(err, ErrJobNotFound) {
		return StatusResult{JobID: jobID, Status: StatusNotFound}, err
	}
	if err != nil {
		return StatusResult{JobID: jobID, Status: StatusError, ErrorMessage: err.Error()}, err
	}

	return StatusResult{
		JobID:        job.ID,
		Status:       job.Status,
		DownloadURL:  job.DownloadPath,
		ResultURL:    job.ResultURL,
		ErrorMessage: job.ErrorMessage,
		Metrics:      job.Metrics,
	}, nil
}

// OpenResult opens a result file by name.
func (s *Service) OpenResult(ctx context.Context, name string) (io.ReadCloser, error) {
	return s.store.Open(ctx, name)
}

// Close stops accepting uploads and waits for queued jobs. When ctx expires
// first, running aggregations are cancelled and their jobs end in error.
func (s *Service) Close(ctx context.Context) error {
	return s.pool.Close(ctx)
}

type receivedUpload struct {
	filename  string
	authToken string
	chunks    []sales.Chunk
	size      int
}

// receive drains stream. Metadata is taken from the first chunk only.
func receive(stream sales.ChunkStream) (receivedUpload, error) {
	var u receivedUpload
	first := true
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return u, nil
		}
		if err != nil {
			return u, err
		}
		if first {
			u.filename = chunk.Filename
			u.authToken = chunk.AuthToken
			first = false
		}
		if len(chunk.Data) > 0 {
			u.chunks = append(u.chunks, sales.Chunk{Data: chunk.Data})
			u.size += len(chunk.Data)
		}
	}
}

// run drives one job to a terminal state.
func (s *Service) run(ctx context.Context, jobID string, stream sales.ChunkStream) {
	logger := s.logger.With(slog.String("job_id", jobID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing job",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			s.fail(ctx, jobID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	start := time.Now()
	memBefore := s.sampleMemory()

	out, err := s.process(ctx, stream)
	if err != nil {
		logger.Error("job failed", slog.String("error", err.Error()))
		s.fail(ctx, jobID, err.Error())
		return
	}

	metrics := Metrics{
		ProcessingTimeMs:  time.Since(start).Milliseconds(),
		RowsProcessed:     out.result.RowsProcessed,
		RowsSkipped:       out.result.RowsSkipped,
		DepartmentsCount:  out.result.DepartmentsCount(),
		PeakMemoryDeltaMB: memoryDeltaMB(memBefore, s.sampleMemory()),
	}

	_, err = s.repo.Update(context.WithoutCancel(ctx), jobID, func(j *Job) error {
		return j.Complete(s.downloadPrefix+out.filename, out.resultURL, metrics)
	})
	if err != nil {
		logger.Error("failed to mark job completed", slog.String("error", err.Error()))
		return
	}

	logger.Info("job completed",
		slog.Int64("processing_time_ms", metrics.ProcessingTimeMs),
		slog.Int("rows_processed", metrics.RowsProcessed),
		slog.Int("rows_skipped", metrics.RowsSkipped),
		slog.Int("departments", metrics.DepartmentsCount),
		slog.Any("skipped", out.result.Skipped),
	)
}

type processOutput struct {
	result    *sales.Result
	filename  string
	resultURL string
}

// process aggregates the upload and stores the report.
func (s *Service) process(ctx context.Context, stream sales.ChunkStream) (processOutput, error) {
	result, err := s.aggregator.Aggregate(ctx, stream)
	if err != nil {
		return processOutput{}, fmt.Errorf("aggregate sales: %w", err)
	}

	var buf bytes.Buffer
	if err := sales.WriteReport(&buf, result); err != nil {
		return processOutput{}, fmt.Errorf("render report: %w", err)
	}

	name := id.ResultFilename()
	if _, err := s.store.Save(ctx, name, bytes.NewReader(buf.Bytes())); err != nil {
		return processOutput{}, fmt.Errorf("write result file: %w", err)
	}

	out := processOutput{result: result, filename: name}
	if !s.pushToS3 {
		return out, nil
	}

	out.resultURL, err = s.store.UploadToS3(ctx, s.s3Prefix+name, bytes.NewReader(buf.Bytes()))
	if err != nil {
		if rmErr := s.store.Remove(context.WithoutCancel(ctx), []string{name}); rmErr != nil {
			s.logger.Warn("failed to remove unpublished result",
				slog.String("file", name),
				slog.String("error", rmErr.Error()),
			)
		}
		return processOutput{}, fmt.Errorf("publish result: %w", err)
	}
	return out, nil
}

// fail moves a job to error. Failures to do so are logged, not returned.
func (s *Service) fail(ctx context.Context, jobID, msg string) {
	_, err := s.repo.Update(context.WithoutCancel(ctx), jobID, func(j *Job) error {
		return j.Fail(msg)
	})
	if err != nil {
		s.logger.Error("failed to mark job as error",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}
