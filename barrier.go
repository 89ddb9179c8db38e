package pipz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// errBarrierBroken is returned to every waiter when a timeout or explicit
// Break call trips the barrier before all parties arrive.
var errBarrierBroken = errors.New("barrier: broken before all parties arrived")

// Barrier synchronizes a fixed number of parties at a rendezvous point.
type Barrier struct {
	name    Name
	clock   clockz.Clock
	parties int
	cyclic  bool
	action  func()

	mu         sync.Mutex
	arrived    int
	generation int
	broken     bool
	waiting    []chan error
}

// NewBarrier creates a Barrier requiring parties participants per trip. A
// non-cyclic barrier permanently breaks after its first trip.
func NewBarrier(name Name, parties int, cyclic bool) *Barrier {
	return &Barrier{name: name, clock: clockz.RealClock, parties: parties, cyclic: cyclic}
}

// WithClock sets the clock used for timeout waits. Intended for tests.
func (b *Barrier) WithClock(clock clockz.Clock) *Barrier {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
	return b
}

// WithAction sets a callback run once, under the barrier's lock, when the
// last party arrives and before any waiter is woken.
func (b *Barrier) WithAction(fn func()) *Barrier {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.action = fn
	return b
}

// Await blocks until all parties have arrived, the barrier is broken, or
// timeout elapses (timeout <= 0 means wait indefinitely).
func (b *Barrier) Await(ctx context.Context, timeout time.Duration) error {
	b.mu.Lock()
	if b.broken {
		b.mu.Unlock()
		return &Error[struct{}]{Err: errors.New("barrier: already broken"), Path: []Name{b.name}, Timestamp: b.clock.Now()}
	}

	gen := b.generation
	b.arrived++
	if b.arrived == b.parties {
		if b.action != nil {
			b.action()
		}
		waiting := b.waiting
		b.waiting = nil
		b.arrived = 0
		if b.cyclic {
			b.generation++
		} else {
			b.broken = true
		}
		b.mu.Unlock()

		for _, ch := range waiting {
			ch <- nil
		}
		capitan.Info(ctx, SignalBarrierTripped, FieldName.Field(string(b.name)), FieldGenerationNum.Field(gen))
		return nil
	}

	ch := make(chan error, 1)
	b.waiting = append(b.waiting, ch)
	b.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		timer = b.clock.After(timeout)
	}

	select {
	case err := <-ch:
		return err
	case <-timer:
		b.breakAt(gen, errBarrierBroken)
		return &Error[struct{}]{Err: errors.New("barrier: await timed out"), Path: []Name{b.name}, Timeout: true, Timestamp: b.clock.Now()}
	case <-ctx.Done():
		b.breakAt(gen, ctx.Err())
		return &Error[struct{}]{Err: ctx.Err(), Path: []Name{b.name}, Canceled: errors.Is(ctx.Err(), context.Canceled), Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Timestamp: b.clock.Now()}
	}
}

// breakAt trips the barrier into the broken state if it's still on
// generation gen, failing every current waiter with failErr.
func (b *Barrier) breakAt(gen int, failErr error) {
	b.mu.Lock()
	if b.generation != gen || b.broken {
		b.mu.Unlock()
		return
	}
	b.broken = true
	waiting := b.waiting
	b.waiting = nil
	b.arrived = 0
	b.mu.Unlock()

	for _, ch := range waiting {
		ch <- failErr
	}
	capitan.Warn(context.Background(), SignalBarrierBroken, FieldName.Field(string(b.name)))
}

// Break manually trips the barrier into the broken state, failing every
// current waiter with a state error.
func (b *Barrier) Break() {
	b.mu.Lock()
	gen := b.generation
	b.mu.Unlock()
	b.breakAt(gen, errBarrierBroken)
}

// IsBroken reports whether the barrier is in the broken state.
func (b *Barrier) IsBroken() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broken
}

// ArrivedCount returns the number of parties that have arrived in the
// current generation.
func (b *Barrier) ArrivedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrived
}

// Generation returns the current generation counter.
func (b *Barrier) Generation() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// Close breaks the barrier and fails every pending waiter with a
// cancellation error.
func (b *Barrier) Close() error {
	b.mu.Lock()
	gen := b.generation
	b.mu.Unlock()
	b.breakAt(gen, errors.New("barrier: closed"))
	return nil
}

// WithBarrier wraps processor so each call first rendezvouses at barrier
// before running, letting a fixed number of concurrent callers proceed
// together in lockstep.
func WithBarrier[T any](barrier *Barrier, timeout time.Duration, processor Chainable[T]) Chainable[T] {
	return &barrierChainable[T]{barrier: barrier, timeout: timeout, processor: processor}
}

type barrierChainable[T any] struct {
	barrier   *Barrier
	timeout   time.Duration
	processor Chainable[T]
}

func (c *barrierChainable[T]) Process(ctx context.Context, data T) (T, error) {
	if err := c.barrier.Await(ctx, c.timeout); err != nil {
		var zero T
		return zero, err
	}
	return c.processor.Process(ctx, data)
}

func (c *barrierChainable[T]) Name() Name { return c.processor.Name() }

func (c *barrierChainable[T]) Close() error { return c.processor.Close() }
