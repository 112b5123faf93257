package job

import (
	"context"
	"errors"
)

var (
	// ErrJobNotFound is returned when a job cannot be found by ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrDuplicateJob is returned when a job ID is already registered.
	ErrDuplicateJob = errors.New("job already exists")
)

// Repository defines the interface for job storage.
// It acts as a port in the hexagonal architecture pattern.
// All operations are atomic with respect to each other.
type Repository interface {
	// Create registers a new processing job.
	// Returns ErrDuplicateJob if the ID already exists.
	Create(ctx context.Context, job Job) error

	// FindByID returns a snapshot of the job.
	// Returns ErrJobNotFound if the job does not exist.
	FindByID(ctx context.Context, id string) (Job, error)

	// Update applies fn to a copy of the stored job and stores the copy if fn
	// succeeds. Readers observe either the old or the new record in full.
	// Returns ErrJobNotFound if the job does not exist.
	Update(ctx context.Context, id string, fn func(*Job) error) (Job, error)
}
