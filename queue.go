package pipz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// QueueMode controls dequeue order.
type QueueMode int

const (
	// QueueFIFO dequeues tasks in arrival order.
	QueueFIFO QueueMode = iota
	// QueueLIFO dequeues the most recently arrived task first.
	QueueLIFO
	// QueuePriority dequeues the highest-priority task first, ties broken
	// by arrival order; it is the mode PriorityQueue always runs in.
	QueuePriority
)

// QueueOverflowPolicy controls what happens when a bounded queue is full.
type QueueOverflowPolicy int

const (
	// QueueOverflowError rejects a new task with an error.
	QueueOverflowError QueueOverflowPolicy = iota
	// QueueOverflowDropNew silently discards the new task.
	QueueOverflowDropNew
	// QueueOverflowDropLowestPriority evicts the lowest-priority queued
	// task (FIFO/LIFO treat all tasks as equal priority, so this degrades
	// to dropping the tail of the queue).
	QueueOverflowDropLowestPriority
	// QueueOverflowWaitForSpace blocks the caller until a slot frees up.
	QueueOverflowWaitForSpace
)

// queuedTask is the internal unit of work tracked by Queue/PriorityQueue:
// arguments, optional priority, completion sink, enqueue timestamp, and
// arrival sequence for stable ordering.
type queuedTask[T any] struct {
	arg       T
	priority  int
	enqueued  time.Time
	seq       int
	result    chan error
	effective int
}

// Queue runs enqueued tasks through a fixed-size worker pool, respecting
// the configured dequeue order and overflow policy.
type Queue[T any] struct {
	name            Name
	clock           clockz.Clock
	concurrency     int
	mode            QueueMode
	maxSize         int
	overflow        QueueOverflowPolicy
	starvationGrace time.Duration
	onStarvation    func(arg T)
	handler         func(context.Context, T) error

	mu        sync.Mutex
	tasks     []*queuedTask[T]
	active    int
	nextSeq   int
	closed    bool
	spaceCond *sync.Cond
	wake      chan struct{}
}

// NewQueue creates a Queue with concurrency workers processing tasks with
// handler, dequeuing in FIFO order with no size bound.
func NewQueue[T any](name Name, concurrency int, handler func(context.Context, T) error) *Queue[T] {
	q := &Queue[T]{
		name:        name,
		clock:       clockz.RealClock,
		concurrency: concurrency,
		mode:        QueueFIFO,
		handler:     handler,
		wake:        make(chan struct{}, 1),
	}
	q.spaceCond = sync.NewCond(&q.mu)
	return q
}

// NewPriorityQueue creates a Queue that always dequeues the highest
// priority task first, with starvation prevention: tasks waiting beyond
// grace have their effective priority boosted and the queue re-sorted.
func NewPriorityQueue[T any](name Name, concurrency int, grace time.Duration, handler func(context.Context, T) error) *Queue[T] {
	q := NewQueue(name, concurrency, handler)
	q.mode = QueuePriority
	q.starvationGrace = grace
	return q
}

// WithClock sets the clock used for starvation-boost scheduling. Intended
// for tests.
func (q *Queue[T]) WithClock(clock clockz.Clock) *Queue[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clock = clock
	return q
}

// WithMaxSize bounds the queue, applying policy to new arrivals once full.
func (q *Queue[T]) WithMaxSize(maxSize int, policy QueueOverflowPolicy) *Queue[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxSize = maxSize
	q.overflow = policy
	return q
}

// OnStarvationPrevention registers a callback fired whenever a task's
// effective priority is boosted by the starvation guard.
func (q *Queue[T]) OnStarvationPrevention(fn func(arg T)) *Queue[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onStarvation = fn
	return q
}

// Enqueue submits arg for execution, returning once the task completes,
// is rejected by the overflow policy, or ctx is canceled.
func (q *Queue[T]) Enqueue(ctx context.Context, arg T, priority int) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("queue: closed")
	}
	for q.maxSize > 0 && len(q.tasks) >= q.maxSize {
		switch q.overflow {
		case QueueOverflowError:
			q.mu.Unlock()
			capitan.Warn(ctx, SignalQueueFull, FieldName.Field(string(q.name)))
			return errors.New("queue: full")
		case QueueOverflowDropNew:
			q.mu.Unlock()
			capitan.Warn(ctx, SignalQueueFull, FieldName.Field(string(q.name)))
			return nil
		case QueueOverflowDropLowestPriority:
			q.evictLowestPriority()
		case QueueOverflowWaitForSpace:
			q.spaceCond.Wait()
		}
	}

	task := &queuedTask[T]{
		arg:       arg,
		priority:  priority,
		effective: priority,
		enqueued:  q.clock.Now(),
		seq:       q.nextSeq,
		result:    make(chan error, 1),
	}
	q.nextSeq++
	q.insert(task)
	q.mu.Unlock()

	capitan.Info(ctx, SignalQueueEnqueued, FieldName.Field(string(q.name)), FieldQueueLength.Field(q.QueueLength()))
	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.dispatch(ctx)

	select {
	case err := <-task.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// insert adds task respecting the configured dequeue mode. Caller must hold
// q.mu.
func (q *Queue[T]) insert(task *queuedTask[T]) {
	switch q.mode {
	case QueueLIFO:
		q.tasks = append([]*queuedTask[T]{task}, q.tasks...)
	case QueuePriority:
		i := 0
		for i < len(q.tasks) && q.tasks[i].effective >= task.effective {
			i++
		}
		q.tasks = append(q.tasks, nil)
		copy(q.tasks[i+1:], q.tasks[i:])
		q.tasks[i] = task
	default:
		q.tasks = append(q.tasks, task)
	}
}

func (q *Queue[T]) evictLowestPriority() {
	if len(q.tasks) == 0 {
		return
	}
	worst := len(q.tasks) - 1
	if q.mode == QueuePriority {
		worst = 0
		for i, t := range q.tasks[1:] {
			if t.effective < q.tasks[worst].effective {
				worst = i + 1
			}
		}
	}
	dropped := q.tasks[worst]
	q.tasks = append(q.tasks[:worst], q.tasks[worst+1:]...)
	dropped.result <- errors.New("queue: evicted (lowest priority under pressure)")
}

// dispatch starts workers for queued tasks while active < concurrency.
func (q *Queue[T]) dispatch(ctx context.Context) {
	q.mu.Lock()
	q.applyStarvationBoost()
	for q.active < q.concurrency && len(q.tasks) > 0 {
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.active++
		if q.maxSize > 0 {
			q.spaceCond.Signal()
		}
		go q.run(ctx, task)
	}
	q.mu.Unlock()
}

func (q *Queue[T]) run(ctx context.Context, task *queuedTask[T]) {
	capitan.Info(ctx, SignalQueueDequeued, FieldName.Field(string(q.name)))
	err := q.handler(ctx, task.arg)
	task.result <- err

	q.mu.Lock()
	q.active--
	q.mu.Unlock()
	q.dispatch(ctx)
}

// applyStarvationBoost boosts the effective priority of tasks that have
// waited beyond the configured grace period and re-sorts. Caller must hold
// q.mu.
func (q *Queue[T]) applyStarvationBoost() {
	if q.mode != QueuePriority || q.starvationGrace <= 0 {
		return
	}
	now := q.clock.Now()
	boosted := false
	for _, t := range q.tasks {
		if now.Sub(t.enqueued) >= q.starvationGrace && t.effective == t.priority {
			t.effective = t.priority + 1
			boosted = true
			if q.onStarvation != nil {
				q.onStarvation(t.arg)
			}
			capitan.Info(context.Background(), SignalQueueStarvationBoosted, FieldName.Field(string(q.name)))
		}
	}
	if boosted {
		tasks := q.tasks
		q.tasks = nil
		for _, t := range tasks {
			q.insert(t)
		}
	}
}

// QueueLength returns the number of tasks currently queued (not running).
func (q *Queue[T]) QueueLength() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// ActiveCount returns the number of tasks currently executing.
func (q *Queue[T]) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Close stops accepting new tasks and fails every queued (not yet running)
// task with a cancellation error. Running tasks are allowed to finish.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	q.closed = true
	tasks := q.tasks
	q.tasks = nil
	q.spaceCond.Broadcast()
	q.mu.Unlock()

	for _, t := range tasks {
		t.result <- errors.New("queue: closed while waiting")
	}
	return nil
}
