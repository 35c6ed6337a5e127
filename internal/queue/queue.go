// Package queue moves check jobs from the collector to the check
// worker. The in-memory queue serves tests and single-process
// deployments; the Redis queue survives restarts and fans out across
// workers.
package queue

import (
	"context"
	"errors"

	"github.com/canopy-ai/canopy/internal/model"
)

// ErrClosed is returned by Dequeue after the queue has been closed and
// drained.
var ErrClosed = errors.New("queue: closed")

// Queue is a FIFO of check jobs.
type Queue interface {
	// Enqueue appends a job. It never blocks on consumers.
	Enqueue(ctx context.Context, job model.CheckJob) error

	// Dequeue blocks until a job is available, the context is
	// cancelled, or the queue is closed (ErrClosed).
	Dequeue(ctx context.Context) (model.CheckJob, error)

	// Close releases resources. Pending Dequeue calls unblock.
	Close() error
}
