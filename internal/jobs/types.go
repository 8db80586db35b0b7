package jobs

import (
	"context"
	"errors"
	"time"
)

// Category decides how a job's failure is reported.
type Category string

const (
	// CategoryBestEffort jobs run detached. A failure is logged and handed to
	// the job's OnFailure hook; it never fails the caller that started it.
	CategoryBestEffort Category = "best_effort"
	// CategoryMustConfirm jobs are awaited and their error returned.
	CategoryMustConfirm Category = "must_confirm"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// ErrJobNotFound is returned by JobStore lookups.
var ErrJobNotFound = errors.New("job not found")

// ErrQueueClosed is returned when submitting to a stopped queue.
var ErrQueueClosed = errors.New("queue is closed")

// Job is the recorded state of one unit of work.
type Job struct {
	JobID    string   `json:"job_id"`
	Name     string   `json:"name"`
	OwnerID  string   `json:"owner_id,omitempty"`
	Category Category `json:"category"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Terminal reports whether the job will not run again.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Func is the work itself. It should return an error if the work failed and
// may be retried.
type Func func(ctx context.Context) error

// Request describes a job to run.
type Request struct {
	Name     string
	OwnerID  string
	Category Category
	Run      Func

	// OnFailure is called once, after the last attempt of a best-effort job
	// has failed.
	OnFailure func(err error)
}

// Runner executes jobs. Go starts a best-effort job and returns its ID
// without waiting. Run executes a must-confirm job and returns its error.
type Runner interface {
	Go(ctx context.Context, req Request) (string, error)
	Run(ctx context.Context, req Request) error
	Drain(ctx context.Context) error
	Close() error
}

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// OwnerID filters jobs by owner.
	OwnerID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
