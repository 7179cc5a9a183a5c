package command

import (
	"errors"
	"sync"
	"time"
)

// ErrQueueFull is returned by Enqueue when the bounded FIFO has no
// remaining capacity.
var ErrQueueFull = errors.New("command queue full")

// QueueFactor is the small constant K in capacity = maxCommandsPerTick * K.
const QueueFactor = 4

// Pending is one validated, queued command awaiting drain.
type Pending struct {
	Name     string
	MatchID  string
	PlayerID string
	Params   map[string]Scalar
}

// ExecutionMetric records one drained command's outcome, nanosecond
// accurate, for per-tick reporting.
type ExecutionMetric struct {
	Name    string
	Nanos   int64
	Success bool
	Err     error
}

// Queue is a bounded FIFO of validated commands for one container.
type Queue struct {
	mu       sync.Mutex
	capacity int
	items    []Pending
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = QueueFactor
	}
	return &Queue{capacity: capacity}
}

// Len reports the number of queued, undrained commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Enqueue appends a pre-validated command, failing ErrQueueFull once
// capacity is reached.
func (q *Queue) Enqueue(p Pending) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, p)
	return nil
}

// Drain pops up to max queued commands in FIFO order, invokes each
// through the registry's registered handler, and returns per-command
// metrics. A handler failure is recorded but never aborts the drain.
func (q *Queue) Drain(reg *Registry, max int) []ExecutionMetric {
	return q.DrainWith(max, func(p Pending) ExecutionMetric {
		d, ok := reg.Lookup(p.Name)
		start := time.Now()
		var err error
		if !ok {
			err = ErrNotFound
		} else if d.Handler != nil {
			err = d.Handler(p.MatchID, p.PlayerID, p.Params)
		}
		return ExecutionMetric{
			Name:    p.Name,
			Nanos:   time.Since(start).Nanoseconds(),
			Success: err == nil,
			Err:     err,
		}
	})
}

// DrainWith pops up to max queued commands in FIFO order and invokes exec
// for each, collecting the metric it returns. It underlies Drain and
// lets callers (the container, which also needs to check a command's
// match still exists before dispatch) interpose extra checks around
// resolution without duplicating the pop-and-batch mechanics.
func (q *Queue) DrainWith(max int, exec func(Pending) ExecutionMetric) []ExecutionMetric {
	q.mu.Lock()
	if max > len(q.items) {
		max = len(q.items)
	}
	batch := q.items[:max]
	q.items = q.items[max:]
	q.mu.Unlock()

	metrics := make([]ExecutionMetric, 0, len(batch))
	for _, p := range batch {
		metrics = append(metrics, exec(p))
	}
	return metrics
}
