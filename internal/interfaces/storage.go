package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/melodana/songforge/internal/models"
)

// ErrKeyNotFound is returned when a key is not found in the key/value store
var ErrKeyNotFound = errors.New("key not found")

// ErrJobNotFound is returned when a job ID does not exist
var ErrJobNotFound = errors.New("job not found")

// KeyValuePair represents a single key/value pair with metadata
type KeyValuePair struct {
	Key       string    `json:"key" badgerhold:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KeyValueStorage defines operations for generic key/value configuration
type KeyValueStorage interface {
	// Get retrieves a value by key, returns ErrKeyNotFound if absent
	Get(ctx context.Context, key string) (string, error)

	// Set inserts or updates a key/value pair
	Set(ctx context.Context, key string, value string) error

	// Delete removes a key/value pair, returns ErrKeyNotFound if absent
	Delete(ctx context.Context, key string) error

	// GetAll returns all key/value pairs as a map
	GetAll(ctx context.Context) (map[string]string, error)
}

// JobStorage defines the persistence contract the workers depend on.
// Workers claim jobs, transition status, and write result/error fields;
// they never create or delete job records.
type JobStorage interface {
	// Create stores a new job, assigning its enqueue sequence
	Create(ctx context.Context, job *models.Job) error

	// Get returns a job by ID, ErrJobNotFound if absent
	Get(ctx context.Context, id string) (*models.Job, error)

	// ListByStatus returns jobs of the given type and status in enqueue order
	ListByStatus(ctx context.Context, jobType models.JobType, status models.JobStatus) ([]*models.Job, error)

	// ListByIDs returns the jobs for the given IDs in enqueue order.
	// Unknown IDs are skipped.
	ListByIDs(ctx context.Context, ids []string) ([]*models.Job, error)

	// UpdateStatus transitions a job's status
	UpdateStatus(ctx context.Context, id string, status models.JobStatus) error

	// MarkSucceeded sets the terminal succeeded state with a result reference
	MarkSucceeded(ctx context.Context, id string, resultRef string) error

	// MarkFailed sets the terminal failed state with an error message
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

// StorageManager aggregates the storage interfaces behind one handle
type StorageManager interface {
	JobStorage() JobStorage
	KeyValueStorage() KeyValueStorage
	Close() error
}
