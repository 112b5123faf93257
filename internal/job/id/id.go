// Package id provides unique identifier generation for jobs and result files.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// Generate creates a new unique job ID.
// Format: job-<uuid>
// Example: job-6f1c0d5e-8a4b-4c7e-9f65-2b1d3c4e5f60
func Generate() string {
	return "job-" + uuid.NewString()
}

// ResultFilename creates a random file name for a job's output CSV.
// Example: 6f1c0d5e8a4b4c7e9f652b1d3c4e5f60.csv
func ResultFilename() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + ".csv"
}
