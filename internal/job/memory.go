package job

import (
	"context"
	"fmt"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It uses a map with RWMutex for thread-safe access. Records are never
// evicted, so memory grows with the number of jobs over the process lifetime.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewMemoryRepository creates a new in-memory job repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs: make(map[string]Job),
	}
}

// Create stores job if its ID is not registered yet.
func (r *MemoryRepository) Create(_ context.Context, job Job) error {
	if job.Status != StatusProcessing {
		return fmt.Errorf("create job %s in status %s: %w", job.ID, job.Status, ErrInvalidTransition)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("create job %s: %w", job.ID, ErrDuplicateJob)
	}
	r.jobs[job.ID] = job
	return nil
}

// FindByID retrieves a copy of the job by its ID.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job, nil
}

// Update mutates a copy of the job under the write lock and stores it only
// when fn returns nil.
func (r *MemoryRepository) Update(_ context.Context, id string, fn func(*Job) error) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	if err := fn(&job); err != nil {
		return Job{}, err
	}
	job.ID = id
	r.jobs[id] = job
	return job, nil
}
