package pipz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// DelayMode selects when the delay is applied relative to the wrapped
// call.
type DelayMode int

const (
	// DelayBefore waits duration, then runs the call.
	DelayBefore DelayMode = iota
	// DelayAfter runs the call, then waits duration before resolving.
	DelayAfter
	// DelayBoth waits duration before and after the call.
	DelayBoth
)

// Delay inserts a suspension before, after, or around the wrapped
// processor's execution. The wait is a single suspension point: if
// canceled, both the wait and the wrapped call are abandoned.
type Delay[T any] struct {
	name      Name
	processor Chainable[T]
	duration  time.Duration
	mode      DelayMode
	clock     clockz.Clock
	mu        sync.RWMutex
}

// NewDelay creates a Delay decorator in DelayBefore mode by default.
func NewDelay[T any](name Name, processor Chainable[T], duration time.Duration) *Delay[T] {
	return &Delay[T]{name: name, processor: processor, duration: duration, mode: DelayBefore, clock: clockz.RealClock}
}

// WithMode sets the delay mode.
func (d *Delay[T]) WithMode(mode DelayMode) *Delay[T] {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = mode
	return d
}

// WithClock sets the clock used for waiting. Intended for tests.
func (d *Delay[T]) WithClock(clock clockz.Clock) *Delay[T] {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock = clock
	return d
}

// Process implements the Chainable interface.
func (d *Delay[T]) Process(ctx context.Context, data T) (result T, err error) {
	defer recoverFromPanic(&result, &err, d.name, data)

	d.mu.RLock()
	duration := d.duration
	mode := d.mode
	clock := d.clock
	d.mu.RUnlock()

	if mode == DelayBefore || mode == DelayBoth {
		if err := d.wait(ctx, clock, duration); err != nil {
			var zero T
			return zero, err
		}
	}

	result, err = d.processor.Process(ctx, data)
	if err != nil {
		return result, err
	}

	if mode == DelayAfter || mode == DelayBoth {
		if waitErr := d.wait(ctx, clock, duration); waitErr != nil {
			return result, waitErr
		}
	}

	return result, nil
}

func (d *Delay[T]) wait(ctx context.Context, clock clockz.Clock, duration time.Duration) error {
	select {
	case <-clock.After(duration):
		return nil
	case <-ctx.Done():
		return &Error[struct{}]{Err: ctx.Err(), Path: []Name{d.name}, Canceled: errors.Is(ctx.Err(), context.Canceled), Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Timestamp: clock.Now()}
	}
}

// Name returns the name of this connector.
func (d *Delay[T]) Name() Name {
	return d.name
}

// Close releases the wrapped processor.
func (d *Delay[T]) Close() error {
	return d.processor.Close()
}
