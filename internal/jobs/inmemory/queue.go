package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-assistant/internal/jobs"
	"github.com/dvloznov/finance-assistant/internal/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultWorkers    = 4
	DefaultMaxRetries = 2
	defaultBuffer     = 64
)

type entry struct {
	job *jobs.Job
	req jobs.Request
}

// Queue runs jobs on a fixed pool of worker goroutines fed by a channel.
// Best-effort jobs are retried with linear backoff; must-confirm jobs run on
// the caller's goroutine.
type Queue struct {
	jobChan   chan *entry
	closeChan chan struct{}
	wg        sync.WaitGroup
	pending   sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool
	started   bool
	log       zerolog.Logger

	workers    int
	maxRetries int

	// Backoff returns the delay before retry n (1-based).
	Backoff func(retry int) time.Duration

	// base is the context jobs run under. It outlives the request that
	// submitted them.
	base   context.Context
	cancel context.CancelFunc
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the worker count.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithMaxRetries sets how many times a failed best-effort job is retried.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.maxRetries = n
		}
	}
}

// NewQueue creates a queue. Call Start before submitting best-effort jobs.
func NewQueue(store jobs.JobStore, log zerolog.Logger, opts ...Option) *Queue {
	base, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobChan:    make(chan *entry, defaultBuffer),
		closeChan:  make(chan struct{}),
		store:      store,
		log:        log,
		workers:    DefaultWorkers,
		maxRetries: DefaultMaxRetries,
		Backoff:    func(retry int) time.Duration { return time.Duration(retry) * time.Second },
		base:       base,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the workers.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return jobs.ErrQueueClosed
	}
	if q.started {
		return nil
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return nil
}

func (q *Queue) newJob(req jobs.Request) *jobs.Job {
	category := req.Category
	if category == "" {
		category = jobs.CategoryBestEffort
	}
	maxRetries := q.maxRetries
	if category == jobs.CategoryMustConfirm {
		maxRetries = 0
	}
	return &jobs.Job{
		JobID:      uuid.New().String(),
		Name:       req.Name,
		OwnerID:    req.OwnerID,
		Category:   category,
		Status:     jobs.JobStatusPending,
		CreatedAt:  time.Now(),
		MaxRetries: maxRetries,
	}
}

// Go enqueues a best-effort job and returns its ID. ctx bounds only the
// enqueue; the job itself runs under the queue's own context.
func (q *Queue) Go(ctx context.Context, req jobs.Request) (string, error) {
	if req.Run == nil {
		return "", fmt.Errorf("Go: job %q has no func", req.Name)
	}
	job := q.newJob(req)
	if job.Category != jobs.CategoryBestEffort {
		return "", fmt.Errorf("Go: job %q is %s, use Run", req.Name, job.Category)
	}

	q.save(job)
	q.pending.Add(1)
	if err := q.enqueue(ctx, &entry{job: job, req: req}); err != nil {
		q.pending.Done()
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
		q.save(job)
		return "", fmt.Errorf("Go: %w", err)
	}
	return job.JobID, nil
}

// Run executes a must-confirm job on the calling goroutine, once, and
// returns its error.
func (q *Queue) Run(ctx context.Context, req jobs.Request) error {
	if req.Run == nil {
		return fmt.Errorf("Run: job %q has no func", req.Name)
	}
	req.Category = jobs.CategoryMustConfirm
	job := q.newJob(req)

	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return jobs.ErrQueueClosed
	}

	q.markRunning(job)
	err := q.execute(ctx, job, req)
	q.finish(job, err)
	return err
}

func (q *Queue) enqueue(ctx context.Context, e *entry) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return jobs.ErrQueueClosed
	}

	select {
	case q.jobChan <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return jobs.ErrQueueClosed
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.closeChan:
			return
		case e := <-q.jobChan:
			if e == nil {
				return
			}
			q.process(e)
		}
	}
}

// process executes a single best-effort job with retry logic.
func (q *Queue) process(e *entry) {
	job := e.job
	q.markRunning(job)

	err := q.execute(q.base, job, e.req)
	if err == nil {
		q.finish(job, nil)
		q.pending.Done()
		return
	}

	log := q.jobLogger(job)

	if job.RetryCount < job.MaxRetries {
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		job.Error = err.Error()
		q.save(job)

		backoff := q.Backoff(job.RetryCount)
		log.Warn().Err(err).Int("retry", job.RetryCount).Dur("backoff", backoff).Msg("Task failed, retrying")

		time.AfterFunc(backoff, func() {
			job.Status = jobs.JobStatusPending
			job.StartedAt = nil
			job.CompletedAt = nil
			if qerr := q.enqueue(q.base, e); qerr != nil {
				q.fail(e, err)
			}
		})
		return
	}

	q.fail(e, err)
}

func (q *Queue) jobLogger(job *jobs.Job) zerolog.Logger {
	return logger.WithFields(q.log, map[string]interface{}{
		"task_id":  job.JobID,
		"task":     job.Name,
		"owner_id": job.OwnerID,
	})
}

func (q *Queue) fail(e *entry, err error) {
	log := q.jobLogger(e.job)
	log.Error().Err(err).
		Int("attempts", e.job.RetryCount+1).
		Msg("Task failed")

	q.finish(e.job, err)
	if e.req.OnFailure != nil {
		e.req.OnFailure(err)
	}
	q.pending.Done()
}

// execute runs the job func, converting a panic into an error.
func (q *Queue) execute(ctx context.Context, job *jobs.Job, req jobs.Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", job.Name, r)
		}
	}()
	return req.Run(ctx)
}

func (q *Queue) markRunning(job *jobs.Job) {
	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	q.save(job)
}

func (q *Queue) finish(job *jobs.Job, err error) {
	completedAt := time.Now()
	job.CompletedAt = &completedAt
	if err != nil {
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	}
	q.save(job)
}

func (q *Queue) save(job *jobs.Job) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(context.Background(), job); err != nil {
		q.log.Warn().Err(err).Str("task_id", job.JobID).Msg("Saving task state failed")
	}
}

// Drain waits until every submitted best-effort job, including its retries,
// has reached a terminal state.
func (q *Queue) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops the workers and waits for in-flight jobs to complete. Jobs
// still queued are marked failed.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case e := <-q.jobChan:
			q.fail(e, jobs.ErrQueueClosed)
		default:
			q.cancel()
			return nil
		}
	}
}

// Close stops the queue.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Runner = (*Queue)(nil)
