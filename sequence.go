package pipz

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
)

// Sequence modification errors.
var (
	ErrIndexOutOfBounds = errors.New("index out of bounds")
	ErrEmptySequence    = errors.New("sequence is empty")
	ErrInvalidRange     = errors.New("invalid range")
)

// Sequence chains processors so that each one's output becomes the
// next one's input, stopping at the first error. It maintains an
// ordered, mutable list of Chainables, which makes it the primary way
// to build pipelines that need to be reconfigured at runtime.
//
// Sequence is safe for concurrent use: Process takes a read lock over
// a snapshot of the processor list, while the mutation methods
// (Register, Push, Unshift, Remove, ...) take a write lock.
type Sequence[T any] struct {
	name       Name
	processors []Chainable[T]
	mu         sync.RWMutex
	closeOnce  sync.Once
	closeErr   error
}

// NewSequence creates a new Sequence with optional initial processors.
//
//	pipeline := pipz.NewSequence("user-processing",
//	    pipz.Effect("validate", validateUser),
//	    pipz.Apply("enrich", enrichUser),
//	)
func NewSequence[T any](name Name, processors ...Chainable[T]) *Sequence[T] {
	return &Sequence[T]{
		name:       name,
		processors: slices.Clone(processors),
	}
}

// Register appends processors to this Sequence. Safe for concurrent use.
func (c *Sequence[T]) Register(processors ...Chainable[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processors = append(c.processors, processors...)
}

// Process executes all registered processors on the input value, each
// receiving the output of the previous one. The context is checked
// before every step; if it has been canceled, processing stops and a
// timeout/cancellation Error is returned immediately.
func (c *Sequence[T]) Process(ctx context.Context, value T) (result T, err error) {
	defer recoverFromPanic(&result, &err, c.name, value)

	start := time.Now()

	c.mu.RLock()
	processors := make([]Chainable[T], len(c.processors))
	copy(processors, c.processors)
	c.mu.RUnlock()

	if ctx == nil {
		ctx = context.Background()
	}

	result = value

	for _, proc := range processors {
		select {
		case <-ctx.Done():
			return result, &Error[T]{
				Err:       ctx.Err(),
				InputData: value,
				Path:      []Name{c.name},
				Timeout:   errors.Is(ctx.Err(), context.DeadlineExceeded),
				Canceled:  errors.Is(ctx.Err(), context.Canceled),
				Timestamp: time.Now(),
			}
		default:
			result, err = proc.Process(ctx, result)
			if err != nil {
				var pipeErr *Error[T]
				if errors.As(err, &pipeErr) {
					pipeErr.Path = append([]Name{c.name}, pipeErr.Path...)
					return result, pipeErr
				}
				return result, &Error[T]{
					Timestamp: time.Now(),
					InputData: value,
					Err:       err,
					Path:      []Name{c.name},
				}
			}
		}
	}

	capitan.Info(ctx, SignalSequenceCompleted,
		FieldName.Field(c.name),
		FieldProcessorCount.Field(len(processors)),
		FieldDuration.Field(time.Since(start).Seconds()),
	)

	return result, nil
}

// Name implements Chainable.
func (c *Sequence[T]) Name() Name {
	return c.name
}

// Len returns the number of processors in the Sequence.
func (c *Sequence[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.processors)
}

// Clear removes all processors from the Sequence.
func (c *Sequence[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processors = c.processors[:0]
}

// Unshift adds processors to the front of the Sequence (runs first).
func (c *Sequence[T]) Unshift(processors ...Chainable[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processors = slices.Insert(c.processors, 0, processors...)
}

// Push adds processors to the back of the Sequence (runs last).
func (c *Sequence[T]) Push(processors ...Chainable[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processors = append(c.processors, processors...)
}

// Shift removes and returns the first processor.
func (c *Sequence[T]) Shift() (Chainable[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.processors) == 0 {
		var zero Chainable[T]
		return zero, ErrEmptySequence
	}

	processor := c.processors[0]
	c.processors = c.processors[1:]
	return processor, nil
}

// Pop removes and returns the last processor.
func (c *Sequence[T]) Pop() (Chainable[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.processors) == 0 {
		var zero Chainable[T]
		return zero, ErrEmptySequence
	}

	lastIndex := len(c.processors) - 1
	processor := c.processors[lastIndex]
	c.processors = c.processors[:lastIndex]
	return processor, nil
}

// Names returns the names of all processors in order.
func (c *Sequence[T]) Names() []Name {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]Name, len(c.processors))
	for i, proc := range c.processors {
		names[i] = proc.Name()
	}
	return names
}

// Remove removes the first processor with the given name.
func (c *Sequence[T]) Remove(name Name) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, proc := range c.processors {
		if proc.Name() == name {
			c.processors = slices.Delete(c.processors, i, i+1)
			return nil
		}
	}

	return fmt.Errorf("processor %q not found", name)
}

// Replace replaces the first processor with the given name.
func (c *Sequence[T]) Replace(name Name, processor Chainable[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, proc := range c.processors {
		if proc.Name() == name {
			c.processors[i] = processor
			return nil
		}
	}

	return fmt.Errorf("processor %q not found", name)
}

// After inserts processors after the first processor with the given name.
func (c *Sequence[T]) After(afterName Name, processors ...Chainable[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, proc := range c.processors {
		if proc.Name() == afterName {
			c.processors = slices.Insert(c.processors, i+1, processors...)
			return nil
		}
	}

	return fmt.Errorf("processor %q not found", afterName)
}

// Before inserts processors before the first processor with the given name.
func (c *Sequence[T]) Before(beforeName Name, processors ...Chainable[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, proc := range c.processors {
		if proc.Name() == beforeName {
			c.processors = slices.Insert(c.processors, i, processors...)
			return nil
		}
	}

	return fmt.Errorf("processor %q not found", beforeName)
}

// Close gracefully shuts down the sequence and all its child
// processors, in reverse order (LIFO), mirroring typical resource
// cleanup. Close is idempotent.
func (c *Sequence[T]) Close() error {
	c.closeOnce.Do(func() {
		c.mu.RLock()
		defer c.mu.RUnlock()

		var errs []error
		for i := len(c.processors) - 1; i >= 0; i-- {
			if err := c.processors[i].Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
