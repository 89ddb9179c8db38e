package pipz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// CountdownLatch lets one or more goroutines wait until a set of operations
// being performed elsewhere completes.
type CountdownLatch struct {
	name  Name
	clock clockz.Clock

	mu      sync.Mutex
	count   int
	done    bool
	waiting []chan struct{}
}

// NewCountdownLatch creates a CountdownLatch that opens after count calls
// to CountDown.
func NewCountdownLatch(name Name, count int) *CountdownLatch {
	l := &CountdownLatch{name: name, clock: clockz.RealClock, count: count}
	if count <= 0 {
		l.done = true
	}
	return l
}

// WithClock sets the clock used for timeout waits. Intended for tests.
func (l *CountdownLatch) WithClock(clock clockz.Clock) *CountdownLatch {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = clock
	return l
}

// CountDown decrements the count, waking every waiter once it reaches zero.
// Decrementing below zero is a state error.
func (l *CountdownLatch) CountDown() error {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return errors.New("countdownlatch: already at zero")
	}
	l.count--
	if l.count < 0 {
		l.mu.Unlock()
		return errors.New("countdownlatch: decremented below zero")
	}
	capitan.Info(context.Background(), SignalCountdownLatchDecremented, FieldName.Field(string(l.name)))

	if l.count == 0 {
		l.done = true
		waiting := l.waiting
		l.waiting = nil
		l.mu.Unlock()

		for _, ch := range waiting {
			close(ch)
		}
		capitan.Info(context.Background(), SignalCountdownLatchComplete, FieldName.Field(string(l.name)))
		return nil
	}
	l.mu.Unlock()
	return nil
}

// Await blocks until the count reaches zero or timeout elapses. It returns
// true if the latch opened, false on timeout. A zero or negative timeout
// waits indefinitely.
func (l *CountdownLatch) Await(ctx context.Context, timeout time.Duration) (bool, error) {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return true, nil
	}
	ch := make(chan struct{})
	l.waiting = append(l.waiting, ch)
	l.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		timer = l.clock.After(timeout)
	}

	select {
	case <-ch:
		return true, nil
	case <-timer:
		return false, nil
	case <-ctx.Done():
		return false, &Error[struct{}]{Err: ctx.Err(), Path: []Name{l.name}, Canceled: errors.Is(ctx.Err(), context.Canceled), Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Timestamp: l.clock.Now()}
	}
}

// IsComplete reports whether the latch is open: its count reached zero or
// Close was called.
func (l *CountdownLatch) IsComplete() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Count returns the current remaining count.
func (l *CountdownLatch) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close opens the latch immediately, waking every pending waiter without
// marking it complete via a count reaching zero.
func (l *CountdownLatch) Close() error {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return nil
	}
	l.done = true
	waiting := l.waiting
	l.waiting = nil
	l.mu.Unlock()

	for _, ch := range waiting {
		close(ch)
	}
	return nil
}

// WithCountdownLatch wraps processor so each completed call (success or
// failure) counts latch down once.
func WithCountdownLatch[T any](latch *CountdownLatch, processor Chainable[T]) Chainable[T] {
	return &countdownLatchChainable[T]{latch: latch, processor: processor}
}

type countdownLatchChainable[T any] struct {
	latch     *CountdownLatch
	processor Chainable[T]
}

func (c *countdownLatchChainable[T]) Process(ctx context.Context, data T) (T, error) {
	result, err := c.processor.Process(ctx, data)
	_ = c.latch.CountDown()
	return result, err
}

func (c *countdownLatchChainable[T]) Name() Name { return c.processor.Name() }

func (c *countdownLatchChainable[T]) Close() error { return c.processor.Close() }
