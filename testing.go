package jobscheduler

import (
	"context"
	"sync"
)

// RecordingHandler records every job it receives. Useful for asserting in
// tests that a job fired, and with what payload.
//
//	rec := jobscheduler.NewRecordingHandler()
//	registry.Register("reminder", rec.Handle)
//	...
//	job, err := rec.Next(ctx)
type RecordingHandler struct {
	mu   sync.Mutex
	jobs []*Job
	next chan *Job
	err  error
}

// NewRecordingHandler creates a handler that records jobs and returns nil.
func NewRecordingHandler() *RecordingHandler {
	return &RecordingHandler{next: make(chan *Job, 1024)}
}

// FailWith makes subsequent calls record the job and return err.
func (r *RecordingHandler) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Handle is the HandlerFunc to register.
func (r *RecordingHandler) Handle(_ context.Context, job *Job) error {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	err := r.err
	r.mu.Unlock()

	select {
	case r.next <- job:
	default:
	}
	return err
}

// Next waits for the next recorded job or for ctx to be done.
func (r *RecordingHandler) Next(ctx context.Context) (*Job, error) {
	select {
	case job := <-r.next:
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Jobs returns a copy of the recorded jobs.
func (r *RecordingHandler) Jobs() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*Job, len(r.jobs))
	copy(result, r.jobs)
	return result
}

// Count returns the number of recorded jobs.
func (r *RecordingHandler) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
