package core

// registry.go holds the in-memory job registry.
//
// The registry is a process-local map guarded by a RWMutex. Each job is
// written only by its own background worker, but every write still goes
// through a registry method so readers (status polls, SSE streams) always
// see a consistent snapshot. Entries are never evicted and are lost on
// restart; a multi-instance deployment needs a shared store instead.

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a state change would regress a job.
var ErrInvalidTransition = errors.New("invalid job state transition")

// Registry stores import job status by job id.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*JobStatus

	// maxErrors caps stored row errors per job; 0 means unbounded.
	maxErrors int
	now       func() time.Time
}

// NewRegistry creates an empty registry. maxErrors caps the row errors kept
// per job (0 keeps all of them); overflow is counted in ErrorsTruncated.
func NewRegistry(maxErrors int) *Registry {
	return &Registry{
		jobs:      make(map[string]*JobStatus),
		maxErrors: maxErrors,
		now:       time.Now,
	}
}

// Create registers a new PENDING job and returns its snapshot.
func (r *Registry) Create(workspaceID, boardID uuid.UUID, mode ImportMode, filename string) JobStatus {
	job := &JobStatus{
		JobID:       uuid.New().String(),
		WorkspaceID: workspaceID,
		BoardID:     boardID,
		Mode:        mode,
		State:       StatePending,
		Errors:      []RowError{},
		Filename:    filename,
		CreatedAt:   r.now().UTC(),
	}

	r.mu.Lock()
	r.jobs[job.JobID] = job
	r.mu.Unlock()

	return job.clone()
}

// Get returns a snapshot of the job, or false if it is unknown.
func (r *Registry) Get(id string) (JobStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return JobStatus{}, false
	}
	return job.clone(), true
}

// List returns snapshots of the board's jobs, newest first.
func (r *Registry) List(boardID uuid.UUID) []JobStatus {
	r.mu.RLock()
	out := make([]JobStatus, 0)
	for _, job := range r.jobs {
		if job.BoardID == boardID {
			out = append(out, job.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Start moves a job to IN_PROGRESS with its total row count.
func (r *Registry) Start(id string, totalRows int) (JobStatus, error) {
	return r.update(id, func(job *JobStatus) error {
		if err := transition(job, StateInProgress); err != nil {
			return err
		}
		now := r.now().UTC()
		job.TotalRows = totalRows
		job.StartedAt = &now
		return nil
	})
}

// UpdateProgress sets the row counters. Counters may only grow and must
// respect success+failure <= processed <= total.
func (r *Registry) UpdateProgress(id string, processed, success, failure int) (JobStatus, error) {
	return r.update(id, func(job *JobStatus) error {
		if job.State != StateInProgress {
			return fmt.Errorf("%w: progress on %s job", ErrInvalidTransition, job.State)
		}
		if processed < job.ProcessedRows {
			return fmt.Errorf("processed rows would decrease from %d to %d", job.ProcessedRows, processed)
		}
		if success+failure > processed || processed > job.TotalRows {
			return fmt.Errorf("inconsistent counters: success=%d failure=%d processed=%d total=%d",
				success, failure, processed, job.TotalRows)
		}
		job.ProcessedRows = processed
		job.SuccessCount = success
		job.FailureCount = failure
		return nil
	})
}

// AppendErrors records skipped rows.
func (r *Registry) AppendErrors(id string, errs ...RowError) error {
	if len(errs) == 0 {
		return nil
	}
	_, err := r.update(id, func(job *JobStatus) error {
		if job.State.Terminal() {
			return fmt.Errorf("%w: append errors to %s job", ErrInvalidTransition, job.State)
		}
		for _, e := range errs {
			if r.maxErrors > 0 && len(job.Errors) >= r.maxErrors {
				job.ErrorsTruncated++
				continue
			}
			job.Errors = append(job.Errors, e)
		}
		return nil
	})
	return err
}

// Complete marks the job COMPLETED.
func (r *Registry) Complete(id, message string) (JobStatus, error) {
	return r.finish(id, StateCompleted, message)
}

// Fail marks the job FAILED. Failing is allowed from PENDING too, for
// errors raised before the count pass finishes.
func (r *Registry) Fail(id, message string) (JobStatus, error) {
	return r.finish(id, StateFailed, message)
}

func (r *Registry) finish(id string, state JobState, message string) (JobStatus, error) {
	return r.update(id, func(job *JobStatus) error {
		if err := transition(job, state); err != nil {
			return err
		}
		now := r.now().UTC()
		job.FinishedAt = &now
		job.Message = message
		return nil
	})
}

func (r *Registry) update(id string, fn func(job *JobStatus) error) (JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return JobStatus{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err := fn(job); err != nil {
		return job.clone(), err
	}
	return job.clone(), nil
}

// transition applies a forward-only state change.
func transition(job *JobStatus, to JobState) error {
	if job.State.Terminal() || to.rank() <= job.State.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.State, to)
	}
	job.State = to
	return nil
}
