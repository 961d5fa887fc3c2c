package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/melodana/songforge/internal/interfaces"
	"github.com/melodana/songforge/internal/models"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	seq    *badgerdb.Sequence
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) (interfaces.JobStorage, error) {
	seq, err := db.Store().Badger().GetSequence([]byte("job_sequence"), 64)
	if err != nil {
		return nil, fmt.Errorf("failed to open job sequence: %w", err)
	}
	return &JobStorage{
		db:     db,
		seq:    seq,
		logger: logger,
	}, nil
}

// Create stores a new job, assigning its enqueue sequence
func (s *JobStorage) Create(ctx context.Context, job *models.Job) error {
	next, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate job sequence: %w", err)
	}
	job.Sequence = next
	job.UpdatedAt = time.Now()

	if err := s.db.Store().Insert(job.ID, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug().Str("job_id", job.ID).Str("type", string(job.Type)).Msg("Job created")
	return nil
}

// Get returns a job by ID
func (s *JobStorage) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := s.db.Store().Get(id, &job)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListByStatus returns jobs of the given type and status in enqueue order
func (s *JobStorage) ListByStatus(ctx context.Context, jobType models.JobType, status models.JobStatus) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("Type").Eq(jobType).And("Status").Eq(status).SortBy("Sequence")
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// ListByIDs returns the jobs for the given IDs in enqueue order, skipping
// unknown IDs
func (s *JobStorage) ListByIDs(ctx context.Context, ids []string) ([]*models.Job, error) {
	result := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if err == interfaces.ErrJobNotFound {
			s.logger.Warn().Str("job_id", id).Msg("Requested job not found - skipping")
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Sequence < result[j].Sequence
	})
	return result, nil
}

// UpdateStatus transitions a job's status
func (s *JobStorage) UpdateStatus(ctx context.Context, id string, status models.JobStatus) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	job.Status = status
	job.UpdatedAt = time.Now()

	if err := s.db.Store().Update(id, job); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	s.logger.Debug().Str("job_id", id).Str("status", string(status)).Msg("Job status updated")
	return nil
}

// MarkSucceeded sets the terminal succeeded state with a result reference
func (s *JobStorage) MarkSucceeded(ctx context.Context, id string, resultRef string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	job.Status = models.JobStatusSucceeded
	job.ResultRef = resultRef
	job.Error = ""
	job.UpdatedAt = time.Now()

	if err := s.db.Store().Update(id, job); err != nil {
		return fmt.Errorf("failed to mark job succeeded: %w", err)
	}
	return nil
}

// MarkFailed sets the terminal failed state with an error message
func (s *JobStorage) MarkFailed(ctx context.Context, id string, errMsg string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	job.Status = models.JobStatusFailed
	job.Error = errMsg
	job.UpdatedAt = time.Now()

	if err := s.db.Store().Update(id, job); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// Release flushes the job sequence allocator
func (s *JobStorage) Release() error {
	if s.seq != nil {
		return s.seq.Release()
	}
	return nil
}
