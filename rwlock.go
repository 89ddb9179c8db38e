package pipz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// errRWLockClosed is sent to any waiter still queued when Close runs.
var errRWLockClosed = errors.New("rwlock: closed while waiting")

type rwWaiter struct {
	write bool
	grant chan error
}

// RWLock is a readers-writer lock with writer-preference: once a writer is
// queued, later readers wait behind it so a steady stream of readers can't
// starve a writer.
type RWLock struct {
	name        Name
	clock       clockz.Clock
	mu          sync.Mutex
	readers     int
	writing     bool
	waiting     []*rwWaiter
	pendingWrit int
}

// NewRWLock creates a named RWLock.
func NewRWLock(name Name) *RWLock {
	return &RWLock{name: name, clock: clockz.RealClock}
}

// WithClock sets the clock used for timeout waits. Intended for tests.
func (r *RWLock) WithClock(clock clockz.Clock) *RWLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
	return r
}

// AcquireRead blocks until a read slot is available. A pending writer blocks
// new readers from jumping ahead of it.
func (r *RWLock) AcquireRead(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	if !r.writing && r.pendingWrit == 0 {
		r.readers++
		r.mu.Unlock()
		capitan.Info(ctx, SignalRWLockReadAcquired, FieldName.Field(string(r.name)))
		return nil
	}
	w := &rwWaiter{write: false, grant: make(chan error, 1)}
	r.waiting = append(r.waiting, w)
	r.mu.Unlock()

	return r.wait(ctx, timeout, w, SignalRWLockReadAcquired)
}

// AcquireWrite blocks until the lock is held exclusively against all readers
// and other writers.
func (r *RWLock) AcquireWrite(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	if !r.writing && r.readers == 0 {
		r.writing = true
		r.mu.Unlock()
		capitan.Info(ctx, SignalRWLockWriteAcquired, FieldName.Field(string(r.name)))
		return nil
	}
	w := &rwWaiter{write: true, grant: make(chan error, 1)}
	r.waiting = append(r.waiting, w)
	r.pendingWrit++
	r.mu.Unlock()

	return r.wait(ctx, timeout, w, SignalRWLockWriteAcquired)
}

func (r *RWLock) wait(ctx context.Context, timeout time.Duration, w *rwWaiter, grantedSignal capitan.Signal) error {
	var timer <-chan time.Time
	if timeout > 0 {
		timer = r.clock.After(timeout)
	}

	select {
	case grantErr := <-w.grant:
		if grantErr != nil {
			return &Error[struct{}]{Err: grantErr, Path: []Name{r.name}, Canceled: true, Timestamp: r.clock.Now()}
		}
		capitan.Info(ctx, grantedSignal, FieldName.Field(string(r.name)))
		return nil
	case <-timer:
		if !r.removeWaiter(w) {
			if grantErr := <-w.grant; grantErr == nil {
				return nil
			}
		}
		return &Error[struct{}]{Err: errors.New("rwlock: acquire timed out"), Path: []Name{r.name}, Timeout: true, Timestamp: r.clock.Now()}
	case <-ctx.Done():
		if !r.removeWaiter(w) {
			if grantErr := <-w.grant; grantErr == nil {
				r.release(w.write)
			}
		}
		return &Error[struct{}]{Err: ctx.Err(), Path: []Name{r.name}, Canceled: errors.Is(ctx.Err(), context.Canceled), Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Timestamp: r.clock.Now()}
	}
}

func (r *RWLock) removeWaiter(w *rwWaiter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.waiting {
		if c == w {
			r.waiting = append(r.waiting[:i], r.waiting[i+1:]...)
			if w.write {
				r.pendingWrit--
			}
			return true
		}
	}
	return false
}

// ReleaseRead releases one read hold.
func (r *RWLock) ReleaseRead() {
	r.release(false)
}

// ReleaseWrite releases the write hold.
func (r *RWLock) ReleaseWrite() {
	r.release(true)
}

func (r *RWLock) release(wasWrite bool) {
	r.mu.Lock()
	if wasWrite {
		r.writing = false
	} else {
		r.readers--
	}

	// Wake as many waiters as the new state permits: either one writer, or a
	// run of consecutive readers until a writer is hit.
	var granted []*rwWaiter
	for len(r.waiting) > 0 {
		next := r.waiting[0]
		if next.write {
			if r.readers > 0 || r.writing {
				break
			}
			r.waiting = r.waiting[1:]
			r.pendingWrit--
			r.writing = true
			granted = append(granted, next)
			break
		}
		if r.writing {
			break
		}
		r.waiting = r.waiting[1:]
		r.readers++
		granted = append(granted, next)
	}
	r.mu.Unlock()

	for _, w := range granted {
		w.grant <- nil
	}
	capitan.Info(context.Background(), SignalRWLockReleased, FieldName.Field(string(r.name)))
}

// ReaderCount returns the number of readers currently holding the lock.
func (r *RWLock) ReaderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readers
}

// IsWriting reports whether a writer currently holds the lock.
func (r *RWLock) IsWriting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writing
}

// SynchronizedRead acquires a read hold, runs body, and releases it on every
// exit path including a panic or error from body.
func (r *RWLock) SynchronizedRead(ctx context.Context, timeout time.Duration, body func() error) error {
	if err := r.AcquireRead(ctx, timeout); err != nil {
		return err
	}
	defer r.ReleaseRead()
	return body()
}

// SynchronizedWrite acquires the write hold, runs body, and releases it on
// every exit path including a panic or error from body.
func (r *RWLock) SynchronizedWrite(ctx context.Context, timeout time.Duration, body func() error) error {
	if err := r.AcquireWrite(ctx, timeout); err != nil {
		return err
	}
	defer r.ReleaseWrite()
	return body()
}

// Close fails every queued waiter with a cancellation error.
func (r *RWLock) Close() error {
	r.mu.Lock()
	waiting := r.waiting
	r.waiting = nil
	r.pendingWrit = 0
	r.mu.Unlock()

	for _, w := range waiting {
		w.grant <- errRWLockClosed
	}
	return nil
}

// WithRWLock wraps processor so each call acquires rwlock for reading
// (write=false) or writing (write=true) before running, releasing it
// afterward regardless of outcome.
func WithRWLock[T any](rwlock *RWLock, timeout time.Duration, write bool, processor Chainable[T]) Chainable[T] {
	return &rwLockedChainable[T]{rwlock: rwlock, timeout: timeout, write: write, processor: processor}
}

type rwLockedChainable[T any] struct {
	rwlock    *RWLock
	timeout   time.Duration
	write     bool
	processor Chainable[T]
}

func (c *rwLockedChainable[T]) Process(ctx context.Context, data T) (result T, err error) {
	synchronized := c.rwlock.SynchronizedRead
	if c.write {
		synchronized = c.rwlock.SynchronizedWrite
	}
	err = synchronized(ctx, c.timeout, func() error {
		result, err = c.processor.Process(ctx, data)
		return err
	})
	return result, err
}

func (c *rwLockedChainable[T]) Name() Name { return c.processor.Name() }

func (c *rwLockedChainable[T]) Close() error { return c.processor.Close() }
