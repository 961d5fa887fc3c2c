package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a queued job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// JobType classifies which worker processes a job
type JobType string

const (
	JobTypeGeneration   JobType = "generation"   // Song generation on the music site
	JobTypeDistribution JobType = "distribution" // Release upload to a distributor
)

// Job is one unit of work submitted to an external web service.
// Created by the UI enqueue action; workers only ever transition Status and
// write Error/ResultRef. Jobs are never deleted by workers.
type Job struct {
	ID        string            `json:"id" badgerhold:"key"`
	Type      JobType           `json:"type"`
	Name      string            `json:"name"`    // Human-readable label, e.g. the song title
	Payload   map[string]string `json:"payload"` // Form field name -> value
	Status    JobStatus         `json:"status"`
	Error     string            `json:"error,omitempty"`      // Set when Status == failed
	ResultRef string            `json:"result_ref,omitempty"` // E.g. downloaded artifact path
	Sequence  uint64            `json:"sequence"`             // Monotonic enqueue order
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewJob creates a pending job with a fresh ID
func NewJob(jobType JobType, name string, payload map[string]string) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Name:      name,
		Payload:   payload,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Terminal reports whether the job has reached a final state
func (j *Job) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}
