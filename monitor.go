package pipz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Monitor is a condition variable layered on an internal Lock: Synchronized
// runs a body with the lock held, and WaitWhile/WaitUntil release the lock
// while waiting for a predicate to hold, re-acquiring before returning.
type Monitor struct {
	name  Name
	clock clockz.Clock
	lock  *Lock

	cond sync.Cond
	mu   sync.Mutex
}

// NewMonitor creates a named Monitor.
func NewMonitor(name Name) *Monitor {
	m := &Monitor{name: name, clock: clockz.RealClock, lock: NewLock(name + ".monitor-lock")}
	m.cond.L = &m.mu
	return m
}

// WithClock sets the clock used for timeout waits. Intended for tests.
func (m *Monitor) WithClock(clock clockz.Clock) *Monitor {
	m.clock = clock
	m.lock.WithClock(clock)
	return m
}

// Synchronized acquires the monitor's lock, runs body, and releases it on
// every exit path including a panic or error from body.
func (m *Monitor) Synchronized(ctx context.Context, timeout time.Duration, body func() error) error {
	return m.lock.Synchronized(ctx, timeout, body)
}

// WaitWhile blocks, releasing the condition mutex while waiting, as long as
// predicate returns true. It re-checks predicate on every wakeup to tolerate
// spurious wakeups, and returns once predicate returns false or timeout
// elapses.
func (m *Monitor) WaitWhile(ctx context.Context, timeout time.Duration, predicate func() bool) error {
	return m.waitFor(ctx, timeout, func() bool { return !predicate() })
}

// WaitUntil blocks, releasing the condition mutex while waiting, until
// predicate returns true or timeout elapses.
func (m *Monitor) WaitUntil(ctx context.Context, timeout time.Duration, predicate func() bool) error {
	return m.waitFor(ctx, timeout, predicate)
}

// waitFor blocks under m.mu until done() returns true, re-checking on every
// notify to tolerate spurious wakeups.
func (m *Monitor) waitFor(ctx context.Context, timeout time.Duration, done func() bool) error {
	deadline := false
	var timer <-chan time.Time
	if timeout > 0 {
		timer = m.clock.After(timeout)
	}

	woken := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for !done() {
			select {
			case <-stop:
				return
			default:
			}
			m.cond.Wait()
		}
		close(woken)
	}()

	select {
	case <-woken:
		return nil
	case <-timer:
		deadline = true
	case <-ctx.Done():
	}

	m.mu.Lock()
	m.cond.Broadcast()
	m.mu.Unlock()
	close(stop)

	select {
	case <-woken:
		return nil
	default:
	}

	if deadline {
		return &Error[struct{}]{Err: errors.New("monitor: wait timed out"), Path: []Name{m.name}, Timeout: true, Timestamp: m.clock.Now()}
	}
	return &Error[struct{}]{Err: ctx.Err(), Path: []Name{m.name}, Canceled: errors.Is(ctx.Err(), context.Canceled), Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Timestamp: m.clock.Now()}
}

// Notify wakes one waiter. Callers typically hold the monitor's lock or
// otherwise coordinate state change with the wait predicate under m's
// internal mutex via Mutate.
func (m *Monitor) Notify() {
	m.mu.Lock()
	m.cond.Signal()
	m.mu.Unlock()
	capitan.Info(context.Background(), SignalMonitorNotify, FieldName.Field(string(m.name)))
}

// NotifyAll wakes every waiter.
func (m *Monitor) NotifyAll() {
	m.mu.Lock()
	m.cond.Broadcast()
	m.mu.Unlock()
	capitan.Info(context.Background(), SignalMonitorNotifyAll, FieldName.Field(string(m.name)))
}

// Mutate runs fn with the monitor's condition mutex held, the place state
// changes that affect wait predicates belong, then wakes every waiter so
// they re-check.
func (m *Monitor) Mutate(fn func()) {
	m.mu.Lock()
	fn()
	m.mu.Unlock()
	m.cond.Broadcast()
}

// Close fails every goroutine queued on the monitor's internal lock and
// wakes every waiter. A woken waiter re-checks its predicate; if it still
// does not hold, the waiter keeps waiting until its timeout or ctx ends. A
// lock that is currently held stays held.
func (m *Monitor) Close() error {
	m.mu.Lock()
	m.cond.Broadcast()
	m.mu.Unlock()
	return m.lock.Close()
}

// WithMonitor wraps processor so each call runs under monitor's mutual
// exclusion.
func WithMonitor[T any](monitor *Monitor, timeout time.Duration, processor Chainable[T]) Chainable[T] {
	return &monitorChainable[T]{monitor: monitor, timeout: timeout, processor: processor}
}

type monitorChainable[T any] struct {
	monitor   *Monitor
	timeout   time.Duration
	processor Chainable[T]
}

func (c *monitorChainable[T]) Process(ctx context.Context, data T) (result T, err error) {
	err = c.monitor.Synchronized(ctx, c.timeout, func() error {
		result, err = c.processor.Process(ctx, data)
		return err
	})
	return result, err
}

func (c *monitorChainable[T]) Name() Name { return c.processor.Name() }

func (c *monitorChainable[T]) Close() error { return c.processor.Close() }
