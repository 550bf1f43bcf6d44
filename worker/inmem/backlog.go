package inmem

import (
	"context"
	"sync"

	"github.com/fitcoach-ai/fitcoach/worker"
)

// Backlog implements worker.Backlog with an in-memory FIFO, for tests and
// single-node deployments where durability across restarts is not needed.
type Backlog struct {
	mu    sync.Mutex
	tasks []worker.Task
}

// NewBacklog builds an empty backlog.
func NewBacklog() *Backlog {
	return &Backlog{}
}

// Push appends the task.
func (b *Backlog) Push(_ context.Context, task worker.Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = append(b.tasks, task)
	return nil
}

// Pop removes and returns up to limit tasks, oldest first.
func (b *Backlog) Pop(_ context.Context, limit int) ([]worker.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.tasks) {
		limit = len(b.tasks)
	}
	if limit == 0 {
		return nil, nil
	}
	out := make([]worker.Task, limit)
	copy(out, b.tasks[:limit])
	b.tasks = b.tasks[limit:]
	return out, nil
}

// Len returns the number of queued tasks, for tests.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}
