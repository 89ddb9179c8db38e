package pipz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// errBulkheadQueueFull is returned when a slot's waiting queue is at
// capacity.
var errBulkheadQueueFull = errors.New("bulkhead: slot queue full")

// Bulkhead isolates concurrent work into a fixed number of independently
// saturated slots, chosen round-robin, so that pressure against one slot
// cannot starve the others.
type Bulkhead struct {
	name      Name
	clock     clockz.Clock
	poolSize  int
	queueSize int

	onIsolationFailure func(error)

	next  atomic.Uint64
	slots []*bulkheadSlot
}

type bulkheadSlot struct {
	mu    sync.Mutex
	busy  bool
	queue []chan error
}

// NewBulkhead creates a named Bulkhead with poolSize slots, each admitting
// one concurrent execution and a waiting queue of up to queueSize.
func NewBulkhead(name Name, poolSize, queueSize int) *Bulkhead {
	b := &Bulkhead{name: name, clock: clockz.RealClock, poolSize: poolSize, queueSize: queueSize}
	b.slots = make([]*bulkheadSlot, poolSize)
	for i := range b.slots {
		b.slots[i] = &bulkheadSlot{}
	}
	return b
}

// WithClock sets the clock used for timeout waits. Intended for tests.
func (b *Bulkhead) WithClock(clock clockz.Clock) *Bulkhead {
	b.clock = clock
	return b
}

// OnIsolationFailure registers a callback invoked when a task times out or
// its slot's queue is full.
func (b *Bulkhead) OnIsolationFailure(fn func(error)) *Bulkhead {
	b.onIsolationFailure = fn
	return b
}

// Execute runs task on one of the pool's slots, chosen round-robin, waiting
// for a free slot if necessary up to timeout (timeout <= 0 waits
// indefinitely bounded by the slot's queue capacity).
func (b *Bulkhead) Execute(ctx context.Context, timeout time.Duration, task func(context.Context) error) error {
	idx := int(b.next.Add(1)-1) % b.poolSize
	slot := b.slots[idx]

	slot.mu.Lock()
	if !slot.busy {
		slot.busy = true
		slot.mu.Unlock()
		capitan.Info(ctx, SignalBulkheadAcquired, FieldName.Field(string(b.name)))
		return b.run(ctx, slot, task)
	}
	if len(slot.queue) >= b.queueSize {
		slot.mu.Unlock()
		err := &Error[struct{}]{Err: errBulkheadQueueFull, Path: []Name{b.name}, Timestamp: b.clock.Now()}
		if b.onIsolationFailure != nil {
			b.onIsolationFailure(err)
		}
		capitan.Warn(ctx, SignalBulkheadRejected, FieldName.Field(string(b.name)))
		return err
	}
	ch := make(chan error, 1)
	slot.queue = append(slot.queue, ch)
	slot.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		timer = b.clock.After(timeout)
	}

	select {
	case grantErr := <-ch:
		if grantErr != nil {
			return &Error[struct{}]{Err: grantErr, Path: []Name{b.name}, Canceled: true, Timestamp: b.clock.Now()}
		}
		capitan.Info(ctx, SignalBulkheadAcquired, FieldName.Field(string(b.name)))
		return b.run(ctx, slot, task)
	case <-timer:
		b.removeFromQueue(slot, ch)
		err := &Error[struct{}]{Err: errors.New("bulkhead: timed out waiting for a slot"), Path: []Name{b.name}, Timeout: true, Timestamp: b.clock.Now()}
		if b.onIsolationFailure != nil {
			b.onIsolationFailure(err)
		}
		return err
	case <-ctx.Done():
		b.removeFromQueue(slot, ch)
		return &Error[struct{}]{Err: ctx.Err(), Path: []Name{b.name}, Canceled: errors.Is(ctx.Err(), context.Canceled), Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Timestamp: b.clock.Now()}
	}
}

func (b *Bulkhead) run(ctx context.Context, slot *bulkheadSlot, task func(context.Context) error) error {
	defer b.release(slot)
	return task(ctx)
}

func (b *Bulkhead) release(slot *bulkheadSlot) {
	slot.mu.Lock()
	if len(slot.queue) > 0 {
		next := slot.queue[0]
		slot.queue = slot.queue[1:]
		slot.mu.Unlock()
		next <- nil
		return
	}
	slot.busy = false
	slot.mu.Unlock()
}

func (b *Bulkhead) removeFromQueue(slot *bulkheadSlot, ch chan error) {
	slot.mu.Lock()
	for i, c := range slot.queue {
		if c == ch {
			slot.queue = append(slot.queue[:i], slot.queue[i+1:]...)
			slot.mu.Unlock()
			return
		}
	}
	slot.mu.Unlock()
	if grantErr := <-ch; grantErr == nil {
		b.release(slot)
	}
}

// ActiveCount returns the number of slots currently occupied.
func (b *Bulkhead) ActiveCount() int {
	n := 0
	for _, s := range b.slots {
		s.mu.Lock()
		if s.busy {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// QueueLength returns the total number of tasks waiting across all slots.
func (b *Bulkhead) QueueLength() int {
	n := 0
	for _, s := range b.slots {
		s.mu.Lock()
		n += len(s.queue)
		s.mu.Unlock()
	}
	return n
}

// Close fails every queued task across every slot with a cancellation
// error.
func (b *Bulkhead) Close() error {
	for _, s := range b.slots {
		s.mu.Lock()
		queue := s.queue
		s.queue = nil
		s.mu.Unlock()
		for _, ch := range queue {
			ch <- errors.New("bulkhead: closed while waiting")
		}
	}
	return nil
}

// WithBulkhead wraps processor so each call runs inside bulkhead's fixed
// pool of slots, isolating it from callers that exhaust other slots.
func WithBulkhead[T any](bulkhead *Bulkhead, timeout time.Duration, processor Chainable[T]) Chainable[T] {
	return &bulkheadChainable[T]{bulkhead: bulkhead, timeout: timeout, processor: processor}
}

type bulkheadChainable[T any] struct {
	bulkhead  *Bulkhead
	timeout   time.Duration
	processor Chainable[T]
}

func (c *bulkheadChainable[T]) Process(ctx context.Context, data T) (result T, err error) {
	err = c.bulkhead.Execute(ctx, c.timeout, func(ctx context.Context) error {
		result, err = c.processor.Process(ctx, data)
		return err
	})
	return result, err
}

func (c *bulkheadChainable[T]) Name() Name { return c.processor.Name() }

func (c *bulkheadChainable[T]) Close() error { return c.processor.Close() }
