package dispersy

import "sync"

// CallbackQueue is a single-threaded FIFO of pending work. Every
// mutation of a Community's state that originates outside the
// Context's own Iterate tick — a packet handler firing on a transport
// goroutine, a timer — goes through here instead of touching the
// Community directly, so Dispersy's single-threaded execution model
// (spec.md §5) holds even though packets can arrive concurrently.
type CallbackQueue struct {
	mu    sync.Mutex
	tasks []func()
}

// NewCallbackQueue returns an empty queue.
func NewCallbackQueue() *CallbackQueue {
	return &CallbackQueue{}
}

// Enqueue appends task to the queue. Safe to call from any goroutine.
func (q *CallbackQueue) Enqueue(task func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
}

// RunPending drains and executes every task queued so far, in order.
// Tasks enqueued by a running task are not executed until the next
// RunPending call, so one Iterate tick always does bounded work.
func (q *CallbackQueue) RunPending() {
	q.mu.Lock()
	pending := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, task := range pending {
		task()
	}
}

// Len reports how many tasks are currently queued.
func (q *CallbackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
