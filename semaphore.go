package pipz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// errSemaphoreClosed is sent to any waiter still queued when Close runs.
var errSemaphoreClosed = errors.New("semaphore: closed while waiting")

// SemaphoreQueueMode controls which waiter is granted a freed permit first.
type SemaphoreQueueMode int

const (
	// SemaphoreFIFO grants permits in arrival order.
	SemaphoreFIFO SemaphoreQueueMode = iota
	// SemaphoreLIFO grants the most recently arrived waiter first.
	SemaphoreLIFO
	// SemaphorePriority grants the highest-priority waiter first, ties
	// broken by arrival order.
	SemaphorePriority
)

type semWaiter struct {
	grant    chan error
	priority int
	seq      int
}

// Semaphore bounds concurrent access to maxConcurrent permits.
type Semaphore struct {
	name         Name
	clock        clockz.Clock
	mode         SemaphoreQueueMode
	maxConcurent int
	onWaiting    func(position int)

	mu        sync.Mutex
	available int
	waiting   []*semWaiter
	nextSeq   int
}

// NewSemaphore creates a named Semaphore with maxConcurrent permits and
// FIFO wakeup ordering.
func NewSemaphore(name Name, maxConcurrent int) *Semaphore {
	return &Semaphore{
		name:         name,
		clock:        clockz.RealClock,
		mode:         SemaphoreFIFO,
		maxConcurent: maxConcurrent,
		available:    maxConcurrent,
	}
}

// WithClock sets the clock used for timeout waits. Intended for tests.
func (s *Semaphore) WithClock(clock clockz.Clock) *Semaphore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
	return s
}

// WithQueueMode sets the wakeup ordering for waiters.
func (s *Semaphore) WithQueueMode(mode SemaphoreQueueMode) *Semaphore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	return s
}

// OnWaiting registers a callback invoked with a new waiter's 1-based queue
// position at the moment it starts waiting.
func (s *Semaphore) OnWaiting(fn func(position int)) *Semaphore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWaiting = fn
	return s
}

// Acquire decrements available permits, waiting if none are free. priority
// is only meaningful in SemaphorePriority mode.
func (s *Semaphore) Acquire(ctx context.Context, timeout time.Duration, priority int) error {
	s.mu.Lock()
	if s.available > 0 {
		s.available--
		s.mu.Unlock()
		capitan.Info(ctx, SignalSemaphoreAcquired, FieldName.Field(string(s.name)))
		return nil
	}

	w := &semWaiter{grant: make(chan error, 1), priority: priority, seq: s.nextSeq}
	s.nextSeq++
	s.insertWaiter(w)
	position := s.position(w)
	cb := s.onWaiting
	s.mu.Unlock()

	capitan.Info(ctx, SignalSemaphoreWaiting, FieldName.Field(string(s.name)), FieldPosition.Field(position))
	if cb != nil {
		cb(position)
	}

	var timer <-chan time.Time
	if timeout > 0 {
		timer = s.clock.After(timeout)
	}

	select {
	case grantErr := <-w.grant:
		if grantErr != nil {
			return &Error[struct{}]{Err: grantErr, Path: []Name{s.name}, Canceled: true, Timestamp: s.clock.Now()}
		}
		capitan.Info(ctx, SignalSemaphoreAcquired, FieldName.Field(string(s.name)))
		return nil
	case <-timer:
		if !s.removeWaiter(w) {
			if grantErr := <-w.grant; grantErr == nil {
				return nil
			}
		}
		capitan.Warn(ctx, SignalSemaphoreSaturated, FieldName.Field(string(s.name)))
		return &Error[struct{}]{Err: errors.New("semaphore: acquire timed out"), Path: []Name{s.name}, Timeout: true, Timestamp: s.clock.Now()}
	case <-ctx.Done():
		if !s.removeWaiter(w) {
			if grantErr := <-w.grant; grantErr == nil {
				s.Release()
			}
		}
		return &Error[struct{}]{Err: ctx.Err(), Path: []Name{s.name}, Canceled: errors.Is(ctx.Err(), context.Canceled), Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Timestamp: s.clock.Now()}
	}
}

// insertWaiter adds w to the queue respecting the configured queue mode.
// Caller must hold s.mu.
func (s *Semaphore) insertWaiter(w *semWaiter) {
	switch s.mode {
	case SemaphoreLIFO:
		s.waiting = append([]*semWaiter{w}, s.waiting...)
	case SemaphorePriority:
		i := 0
		for i < len(s.waiting) && s.waiting[i].priority >= w.priority {
			i++
		}
		s.waiting = append(s.waiting, nil)
		copy(s.waiting[i+1:], s.waiting[i:])
		s.waiting[i] = w
	default:
		s.waiting = append(s.waiting, w)
	}
}

// position returns w's 1-based position in the queue. Caller must hold s.mu.
func (s *Semaphore) position(w *semWaiter) int {
	for i, c := range s.waiting {
		if c == w {
			return i + 1
		}
	}
	return 0
}

func (s *Semaphore) removeWaiter(w *semWaiter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.waiting {
		if c == w {
			s.waiting = append(s.waiting[:i], s.waiting[i+1:]...)
			return true
		}
	}
	return false
}

// Release increments available permits and wakes the next waiter per the
// configured queue mode, if any are waiting.
func (s *Semaphore) Release() {
	s.mu.Lock()
	if len(s.waiting) > 0 {
		next := s.waiting[0]
		s.waiting = s.waiting[1:]
		s.mu.Unlock()
		next.grant <- nil
		capitan.Info(context.Background(), SignalSemaphoreReleased, FieldName.Field(string(s.name)))
		return
	}
	s.available++
	s.mu.Unlock()
	capitan.Info(context.Background(), SignalSemaphoreReleased, FieldName.Field(string(s.name)))
}

// AvailablePermits returns the number of permits currently free.
func (s *Semaphore) AvailablePermits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// QueueLength returns the number of waiters currently queued.
func (s *Semaphore) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting)
}

// Close fails every queued waiter with a cancellation error.
func (s *Semaphore) Close() error {
	s.mu.Lock()
	waiting := s.waiting
	s.waiting = nil
	s.mu.Unlock()

	for _, w := range waiting {
		w.grant <- errSemaphoreClosed
	}
	return nil
}

// WithSemaphore wraps processor so each call first acquires a permit from
// sem, queued per sem's configured mode and priority, and releases it
// once the call completes.
func WithSemaphore[T any](sem *Semaphore, timeout time.Duration, priority int, processor Chainable[T]) Chainable[T] {
	return &semaphoreChainable[T]{sem: sem, timeout: timeout, priority: priority, processor: processor}
}

type semaphoreChainable[T any] struct {
	sem       *Semaphore
	timeout   time.Duration
	priority  int
	processor Chainable[T]
}

func (c *semaphoreChainable[T]) Process(ctx context.Context, data T) (result T, err error) {
	if err := c.sem.Acquire(ctx, c.timeout, c.priority); err != nil {
		return result, err
	}
	defer c.sem.Release()
	return c.processor.Process(ctx, data)
}

func (c *semaphoreChainable[T]) Name() Name { return c.processor.Name() }

func (c *semaphoreChainable[T]) Close() error { return c.processor.Close() }
