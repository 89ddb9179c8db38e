package pipz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// errLockClosed is sent to any waiter still queued when Close runs.
var errLockClosed = errors.New("lock: closed while waiting")

// Lock is a fair, non-reentrant mutual-exclusion primitive. Waiters are
// granted the lock in strict arrival order (FIFO); a holder that calls
// Acquire again on its own Lock deadlocks, exactly like a plain
// sync.Mutex would — Lock does not support re-entrancy.
type Lock struct {
	name   Name
	clock  clockz.Clock
	mu     sync.Mutex
	locked bool
	queue  []chan error
}

// NewLock creates a named Lock.
func NewLock(name Name) *Lock {
	return &Lock{name: name, clock: clockz.RealClock}
}

// WithClock sets the clock used for timeout waits. Intended for tests.
func (l *Lock) WithClock(clock clockz.Clock) *Lock {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = clock
	return l
}

// Acquire blocks until the lock is held exclusively, ctx is done, or
// timeout elapses (timeout <= 0 means wait indefinitely). A timed-out
// waiter is removed from the queue and fails with a timeout error.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	l.mu.Lock()
	if !l.locked {
		l.locked = true
		l.mu.Unlock()
		capitan.Info(ctx, SignalLockAcquired, FieldName.Field(string(l.name)))
		return nil
	}

	ch := make(chan error, 1)
	l.queue = append(l.queue, ch)
	l.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		timer = l.clock.After(timeout)
	}

	select {
	case grantErr := <-ch:
		if grantErr != nil {
			return &Error[struct{}]{Err: grantErr, Path: []Name{l.name}, Canceled: true, Timestamp: l.clock.Now()}
		}
		capitan.Info(ctx, SignalLockAcquired, FieldName.Field(string(l.name)))
		return nil
	case <-timer:
		if !l.removeWaiter(ch) {
			// Granted concurrently with the timeout firing; honor the grant.
			if grantErr := <-ch; grantErr == nil {
				return nil
			}
		}
		capitan.Warn(ctx, SignalLockTimeout, FieldName.Field(string(l.name)))
		return &Error[struct{}]{Err: errors.New("lock: acquire timed out"), Path: []Name{l.name}, Timeout: true, Timestamp: l.clock.Now()}
	case <-ctx.Done():
		if !l.removeWaiter(ch) {
			if grantErr := <-ch; grantErr == nil {
				l.Release()
			}
		}
		return &Error[struct{}]{Err: ctx.Err(), Path: []Name{l.name}, Canceled: errors.Is(ctx.Err(), context.Canceled), Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Timestamp: l.clock.Now()}
	}
}

// removeWaiter removes ch from the queue. It returns true if ch was found
// still queued (never granted); false means a grant raced the removal.
func (l *Lock) removeWaiter(ch chan error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, w := range l.queue {
		if w == ch {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Release hands the lock to the next waiter in arrival order, or marks it
// free if no one is waiting.
func (l *Lock) Release() {
	l.mu.Lock()
	if len(l.queue) > 0 {
		next := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		next <- nil
		return
	}
	l.locked = false
	l.mu.Unlock()
	capitan.Info(context.Background(), SignalLockReleased, FieldName.Field(string(l.name)))
}

// Synchronized acquires the lock, runs body, and releases the lock on every
// exit path including a panic or error from body.
func (l *Lock) Synchronized(ctx context.Context, timeout time.Duration, body func() error) error {
	if err := l.Acquire(ctx, timeout); err != nil {
		return err
	}
	defer l.Release()
	return body()
}

// IsLocked reports whether the lock is currently held.
func (l *Lock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// QueueLength returns the number of waiters currently queued.
func (l *Lock) QueueLength() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close fails every queued waiter with a cancellation error.
func (l *Lock) Close() error {
	l.mu.Lock()
	queue := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, ch := range queue {
		ch <- errLockClosed
	}
	return nil
}

// WithLock wraps processor so each call runs while lock is held,
// serializing access across every caller sharing lock.
func WithLock[T any](lock *Lock, timeout time.Duration, processor Chainable[T]) Chainable[T] {
	return &lockedChainable[T]{lock: lock, timeout: timeout, processor: processor}
}

type lockedChainable[T any] struct {
	lock      *Lock
	timeout   time.Duration
	processor Chainable[T]
}

func (c *lockedChainable[T]) Process(ctx context.Context, data T) (result T, err error) {
	err = c.lock.Synchronized(ctx, c.timeout, func() error {
		result, err = c.processor.Process(ctx, data)
		return err
	})
	return result, err
}

func (c *lockedChainable[T]) Name() Name { return c.processor.Name() }

func (c *lockedChainable[T]) Close() error { return c.processor.Close() }
