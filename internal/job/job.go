// Package job provides the Job record for asynchronous sales aggregation,
// its state machine, the registry that owns every record, and the service
// that accepts uploads and drives jobs to a terminal state.
package job

import (
	"errors"
	"slices"
	"time"

	"github.com/maauso/sales-aggregator-api/internal/job/id"
)

// Status represents the externally visible state of a Job.
type Status string

const (
	// StatusProcessing indicates the job was accepted and has not finished.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates the result file was written.
	StatusCompleted Status = "completed"
	// StatusError indicates the job failed; see Job.ErrorMessage.
	StatusError Status = "error"
	// StatusNotFound is synthesized for unknown job IDs and never stored.
	StatusNotFound Status = "not_found"
	// StatusUnauthorized is synthesized for rejected tokens and never stored.
	StatusUnauthorized Status = "unauthorized"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusProcessing: {StatusCompleted, StatusError},
	StatusCompleted:  {},
	StatusError:      {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Metrics describes a finished aggregation. The zero value is a valid
// placeholder for jobs that have not completed.
type Metrics struct {
	ProcessingTimeMs  int64
	RowsProcessed     int
	RowsSkipped       int
	DepartmentsCount  int
	PeakMemoryDeltaMB int64
}

// Job is one accepted upload. It is a plain value: the registry hands out
// copies, and every mutation goes through Repository.Update.
type Job struct {
	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Filename is the name the client uploaded, if any.
	Filename string
	// StartTime is when the upload was accepted.
	StartTime time.Time
	// DownloadPath is the relative URL of the result file. Set on completion.
	DownloadPath string
	// ResultURL is the object storage URL of the result, when published.
	ResultURL string
	// ErrorMessage explains a failure. Set on error.
	ErrorMessage string
	// Metrics are populated on completion.
	Metrics Metrics
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a processing Job with a generated ID.
func New(filename string) Job {
	return NewWithID(id.Generate(), filename)
}

// NewWithID creates a processing Job with the specified ID.
func NewWithID(jobID, filename string) Job {
	return Job{
		ID:        jobID,
		Status:    StatusProcessing,
		Filename:  filename,
		StartTime: time.Now(),
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}
	j.Status = status
	if j.IsTerminal() {
		j.CompletedAt = time.Now()
	}
	return nil
}

// Complete records the result location and metrics and moves the job to
// COMPLETED. The job is left untouched if the transition is not allowed.
func (j *Job) Complete(downloadPath, resultURL string, metrics Metrics) error {
	if err := j.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	j.DownloadPath = downloadPath
	j.ResultURL = resultURL
	j.Metrics = metrics
	return nil
}

// Fail records msg and moves the job to ERROR. The job is left untouched if
// the transition is not allowed.
func (j *Job) Fail(msg string) error {
	if err := j.TransitionTo(StatusError); err != nil {
		return err
	}
	j.ErrorMessage = msg
	return nil
}

// IsTerminal returns true if the job is in a terminal state.
func (j Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusError
}
