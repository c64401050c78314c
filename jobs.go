package main

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobHalted     JobStatus = "halted"
	JobFailed     JobStatus = "failed"
)

// Job represents a batch scan of one directory
type Job struct {
	ID        string        `json:"job_id"`
	Directory string        `json:"directory"`
	Status    JobStatus     `json:"status"`
	Total     int           `json:"total"`
	Done      int           `json:"done"`
	Summary   *BatchSummary `json:"summary,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// JobStore manages jobs and their statuses
type JobStore struct {
	sync.RWMutex
	jobs map[string]*Job
}

func newJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

func generateJobID() string {
	return uuid.New().String()
}

func (store *JobStore) addJob(job *Job) {
	store.Lock()
	defer store.Unlock()
	store.jobs[job.ID] = job
	log.WithField("job_id", job.ID).Infof("Job added for %s", job.Directory)
}

func (store *JobStore) removeJob(jobID string) {
	store.Lock()
	defer store.Unlock()
	delete(store.jobs, jobID)
}

// getJob returns a copy of the job so callers can read it without locking.
func (store *JobStore) getJob(jobID string) (Job, bool) {
	store.RLock()
	defer store.RUnlock()
	job, exists := store.jobs[jobID]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

func (store *JobStore) GetAllJobs() []Job {
	store.RLock()
	defer store.RUnlock()

	jobs := make([]Job, 0, len(store.jobs))
	for _, job := range store.jobs {
		jobs = append(jobs, *job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	return jobs
}

func (store *JobStore) update(jobID string, fn func(*Job)) {
	store.Lock()
	defer store.Unlock()
	if job, exists := store.jobs[jobID]; exists {
		fn(job)
		job.UpdatedAt = time.Now()
	}
}

// JobQueue runs batch jobs on a fixed pool of workers.
type JobQueue struct {
	store *JobStore
	queue chan *Job
}

func newJobQueue(store *JobStore, capacity int) *JobQueue {
	return &JobQueue{store: store, queue: make(chan *Job, capacity)}
}

// Submit registers a pending job for dir and queues it.
func (q *JobQueue) Submit(dir string) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:        generateJobID(),
		Directory: dir,
		Status:    JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// Register before queueing so a worker never sees an unknown job.
	q.store.addJob(job)
	select {
	case q.queue <- job:
	default:
		q.store.removeJob(job.ID)
		return nil, errors.New("job queue is full")
	}
	return job, nil
}

// Start launches numWorkers workers that stop when ctx is done.
func (q *JobQueue) Start(ctx context.Context, app *App, numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		go func(workerID int) {
			log.Infof("Worker %d started", workerID)
			for {
				select {
				case <-ctx.Done():
					log.Infof("Worker %d stopped", workerID)
					return
				case job := <-q.queue:
					log.Infof("Worker %d processing job: %s", workerID, job.ID)
					q.process(ctx, app, job)
				}
			}
		}(i)
	}
}

func (q *JobQueue) process(ctx context.Context, app *App, job *Job) {
	q.store.update(job.ID, func(j *Job) { j.Status = JobInProgress })

	paths, err := listImages(job.Directory)
	if err != nil {
		q.store.update(job.ID, func(j *Job) {
			j.Status = JobFailed
			j.Error = err.Error()
		})
		log.WithError(err).WithField("job_id", job.ID).Error("Batch job failed")
		return
	}
	q.store.update(job.ID, func(j *Job) { j.Total = len(paths) })

	summary, err := app.processBatch(ctx, paths, app.batchWorkers(), func(*ScanOutcome) {
		q.store.update(job.ID, func(j *Job) { j.Done++ })
	})
	q.store.update(job.ID, func(j *Job) {
		j.Summary = summary
		switch {
		case summary != nil && summary.Halted:
			j.Status = JobHalted
			j.Error = summary.HaltReason
		case err != nil:
			j.Status = JobFailed
			j.Error = err.Error()
		default:
			j.Status = JobCompleted
		}
	})
	log.WithField("job_id", job.ID).Info("Batch job finished")
}

func (app *App) batchWorkers() int {
	if app.Settings == nil || app.Settings.BatchWorkers < 1 {
		return 1
	}
	return app.Settings.BatchWorkers
}
