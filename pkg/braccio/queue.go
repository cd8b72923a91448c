package braccio

import (
	"slices"
	"sync"
)

// Queue is a FIFO of pending commands. Any number of goroutines may Enqueue;
// the driver is the only consumer.
type Queue struct {
	mu    sync.Mutex
	items []Command
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends cmd. It never blocks on the consumer.
func (q *Queue) Enqueue(cmd Command) {
	q.mu.Lock()
	q.items = append(q.items, cmd)
	q.mu.Unlock()
}

// TryDequeue removes the oldest command. ok is false when the queue is empty.
func (q *Queue) TryDequeue() (cmd Command, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Command{}, false
	}
	cmd = q.items[0]
	q.items[0] = Command{}
	q.items = q.items[1:]
	return cmd, true
}

// Len returns the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Remove drops the pending command with the given ID. It reports whether
// the command was still queued.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := slices.IndexFunc(q.items, func(c Command) bool { return c.ID == id })
	if i < 0 {
		return false
	}
	q.items = slices.Delete(q.items, i, i+1)
	return true
}
