package queue

import (
	"context"
	"sync"

	"github.com/canopy-ai/canopy/internal/model"
)

// Memory is an in-process Queue backed by a buffered channel.
type Memory struct {
	jobs chan model.CheckJob
	done chan struct{}
	once sync.Once
}

// NewMemory creates a Memory queue holding up to size pending jobs.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 1024
	}
	return &Memory{
		jobs: make(chan model.CheckJob, size),
		done: make(chan struct{}),
	}
}

func (q *Memory) Enqueue(ctx context.Context, job model.CheckJob) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Memory) Dequeue(ctx context.Context) (model.CheckJob, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return model.CheckJob{}, ctx.Err()
	case <-q.done:
		// Drain pending jobs before reporting closure.
		select {
		case job := <-q.jobs:
			return job, nil
		default:
			return model.CheckJob{}, ErrClosed
		}
	}
}

// Len reports the number of pending jobs.
func (q *Memory) Len(_ context.Context) (int, error) {
	return len(q.jobs), nil
}

func (q *Memory) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

var _ Queue = (*Memory)(nil)
