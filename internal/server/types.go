// Package server provides the HTTP server for the sales aggregator API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "github.com/maauso/sales-aggregator-api/internal/job"

// uploadMetadata is the caller-supplied metadata of an upload.
type uploadMetadata struct {
	Filename string `validate:"omitempty,max=255,excludesall=/\\"`
	Token    string `validate:"omitempty,max=512,printascii"`
}

// statusRequest is the validated input of a status query.
type statusRequest struct {
	JobID string `validate:"required,max=128,printascii"`
	Token string `validate:"omitempty,max=512,printascii"`
}

// MetricsResponse carries the processing metrics of a job.
type MetricsResponse struct {
	// ProcessingTimeMs is the wall time of the aggregation in milliseconds.
	ProcessingTimeMs int64 `json:"processing_time_ms"`
	// RowsProcessed is the number of rows that contributed to the totals.
	RowsProcessed int `json:"rows_processed"`
	// RowsSkipped is the number of rows that were rejected.
	RowsSkipped int `json:"rows_skipped"`
	// DepartmentsCount is the number of distinct departments in the result.
	DepartmentsCount int `json:"departments_count"`
	// PeakMemoryMB is the growth in resident memory observed during the job.
	PeakMemoryMB int64 `json:"peak_memory_mb"`
}

// UploadResponse is the HTTP response after uploading a CSV file.
type UploadResponse struct {
	// JobID is the unique identifier for the created job.
	JobID string `json:"job_id"`
	// Status is processing, error or unauthorized.
	Status string `json:"status"`
	// Message is a human-readable summary.
	Message string `json:"message"`
	// DownloadURL is always empty at upload time.
	DownloadURL string `json:"download_url"`
	// Metrics is a zero-valued placeholder.
	Metrics MetricsResponse `json:"metrics"`
}

// JobStatusResponse is the HTTP response for a status query.
type JobStatusResponse struct {
	// JobID is the unique identifier for the job.
	JobID string `json:"job_id"`
	// Status is the current job status.
	Status string `json:"status"`
	// DownloadURL locates the result file once the job completed.
	DownloadURL string `json:"download_url"`
	// ResultURL is the S3 URL of the result, when published.
	ResultURL string `json:"result_url"`
	// ErrorMessage contains the reason a job failed.
	ErrorMessage string `json:"error_message"`
	// Metrics is populated once the job completed.
	Metrics MetricsResponse `json:"metrics"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func toMetricsResponse(m job.Metrics) MetricsResponse {
	return MetricsResponse{
		ProcessingTimeMs: m.ProcessingTimeMs,
		RowsProcessed:    m.RowsProcessed,
		RowsSkipped:      m.RowsSkipped,
		DepartmentsCount: m.DepartmentsCount,
		PeakMemoryMB:     m.PeakMemoryDeltaMB,
	}
}
