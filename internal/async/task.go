// Package async provides Task, the result of an operation that may suspend:
// pending until it completes, then either succeeded or failed with a kind
// from the fragment error taxonomy.
package async

import (
	"context"
	"sync"

	"github.com/alucardeht/mfhost/internal/fragment"
)

type Status int

const (
	Pending Status = iota
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type Task struct {
	done chan struct{}
	once sync.Once
	err  error
}

// Go runs fn on a new goroutine and returns its Task.
func Go(ctx context.Context, fn func(ctx context.Context) error) *Task {
	t := New()
	go func() {
		t.Complete(fn(ctx))
	}()
	return t
}

// New returns a pending task to be completed by the caller.
func New() *Task {
	return &Task{done: make(chan struct{})}
}

// Resolved returns an already completed task.
func Resolved(err error) *Task {
	t := New()
	t.Complete(err)
	return t
}

// Complete settles the task. Only the first call has an effect.
func (t *Task) Complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) Status() Status {
	select {
	case <-t.done:
		if t.err != nil {
			return Failed
		}
		return Succeeded
	default:
		return Pending
	}
}

// Err returns the failure of a completed task, nil while pending or on success.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Kind classifies the failure of a completed task.
func (t *Task) Kind() fragment.Kind {
	return fragment.KindOf(t.Err())
}

// Wait blocks until the task completes or ctx is done. Cancelling ctx stops
// the wait, not the work.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Then runs fn after t completes, on its own goroutine.
func (t *Task) Then(fn func(err error)) {
	go func() {
		<-t.done
		fn(t.err)
	}()
}
