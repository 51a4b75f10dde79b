package task

import "sync"

// Queue is an unbounded FIFO of download tasks. Producers (a series resolver
// running concurrently with the downloads) never block on Push; the scheduler
// drains it with Pop until Close.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []DownloadTask
	closed bool
}

// NewQueue creates an empty open queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)

	return q
}

// Push appends a task. Pushing to a closed queue is a no-op.
func (q *Queue) Push(t DownloadTask) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.items = append(q.items, t)
	q.cond.Signal()
}

// Pop blocks until a task is available or the queue is closed and drained.
// The second return value is false once the queue is exhausted.
func (q *Queue) Pop() (DownloadTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.items) == 0 {
		return DownloadTask{}, false
	}

	t := q.items[0]
	q.items = q.items[1:]

	return t, true
}

// Close marks the end of the task stream. Queued tasks remain poppable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
