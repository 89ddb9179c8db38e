package pipz

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// BackpressureStrategy selects how a Backpressure scheduler behaves once
// max_concurrent active executions are in flight.
type BackpressureStrategy int

const (
	// BackpressureDrop fails the new call immediately once at capacity.
	BackpressureDrop BackpressureStrategy = iota
	// BackpressureDropOldest evicts the oldest buffered item (failing it)
	// to make room for the new one, once the buffer itself is full.
	BackpressureDropOldest
	// BackpressureBuffer enqueues once at capacity, failing only once
	// the buffer itself is also full.
	BackpressureBuffer
	// BackpressureSample admits at capacity with probability sampleRate;
	// otherwise rejects.
	BackpressureSample
	// BackpressureThrottle enqueues once at capacity and drains strictly
	// as capacity frees. Its queue is not bounded by bufferSize.
	BackpressureThrottle
	// BackpressureError fails immediately once at capacity, a stricter,
	// semantically-explicit Drop.
	BackpressureError
)

var (
	// ErrBackpressureDropped is returned by BackpressureDrop/Error when
	// a call is rejected at capacity.
	ErrBackpressureDropped = errors.New("backpressure: dropped, at max_concurrent")
	// ErrBackpressureDroppedOldest is returned to a buffered call evicted
	// to make room for a newer one.
	ErrBackpressureDroppedOldest = errors.New("backpressure: dropped as oldest buffered item")
	// ErrBackpressureBufferFull is returned when the buffer itself is at
	// capacity.
	ErrBackpressureBufferFull = errors.New("backpressure: buffer full")
	// ErrBackpressureSampledOut is returned by BackpressureSample when a
	// call is rejected by the sampling roll.
	ErrBackpressureSampledOut = errors.New("backpressure: sampled out")
)

// Observability constants for the Backpressure connector.
const (
	BackpressureAdmittedTotal = metricz.Key("backpressure.admitted.total")
	BackpressureBufferedTotal = metricz.Key("backpressure.buffered.total")
	BackpressureRejectedTotal = metricz.Key("backpressure.rejected.total")

	BackpressureProcessSpan = tracez.Key("backpressure.process")

	BackpressureEventOverflow   = hookz.Key("backpressure.overflow")
	BackpressureEventBufferFull = hookz.Key("backpressure.buffer_full")
)

// BackpressureEvent is emitted on overflow and buffer-full conditions.
type BackpressureEvent struct {
	Name      Name
	Reason    string
	Timestamp time.Time
}

type bpWaiter[T any] struct {
	ctx      context.Context //nolint:containedctx
	data     T
	enqueued time.Time
	result   chan bpOutcome[T]
}

type bpOutcome[T any] struct {
	value T
	err   error
}

// Backpressure interposes on a wrapped processor, governing concurrent
// invocations under one of six configurable strategies. Grounded on
// `bulkhead.go`'s round-robin-slot-plus-bounded-queue shape, generalized
// here to a single shared capacity pool with pluggable overflow
// behavior rather than per-slot isolation.
type Backpressure[T any] struct {
	name          Name
	processor     Chainable[T]
	maxConcurrent int
	bufferSize    int
	sampleRate    float64
	strategy      BackpressureStrategy
	rng           *rand.Rand

	mu     sync.Mutex
	active int
	buffer []*bpWaiter[T]

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[BackpressureEvent]
}

// NewBackpressure creates a Backpressure scheduler. Returns a
// configuration error if maxConcurrent <= 0, bufferSize <= 0, or
// sampleRate is outside [0,1].
func NewBackpressure[T any](name Name, processor Chainable[T], strategy BackpressureStrategy, maxConcurrent, bufferSize int, sampleRate float64) (*Backpressure[T], error) {
	if maxConcurrent <= 0 {
		return nil, fmt.Errorf("backpressure %q: max_concurrent must be > 0, got %d", name, maxConcurrent)
	}
	if bufferSize <= 0 {
		return nil, fmt.Errorf("backpressure %q: buffer_size must be > 0, got %d", name, bufferSize)
	}
	if sampleRate < 0 || sampleRate > 1 {
		return nil, fmt.Errorf("backpressure %q: sample_rate must be in [0,1], got %f", name, sampleRate)
	}

	metrics := metricz.New()
	metrics.Counter(BackpressureAdmittedTotal)
	metrics.Counter(BackpressureBufferedTotal)
	metrics.Counter(BackpressureRejectedTotal)

	return &Backpressure[T]{
		name:          name,
		processor:     processor,
		maxConcurrent: maxConcurrent,
		bufferSize:    bufferSize,
		sampleRate:    sampleRate,
		strategy:      strategy,
		rng:           rand.New(rand.NewSource(1)), //nolint:gosec
		metrics:       metrics,
		tracer:        tracez.New(),
		hooks:         hookz.New[BackpressureEvent](),
	}, nil
}

// OnOverflow registers a hook invoked whenever a call is rejected or
// evicted due to capacity pressure.
func (b *Backpressure[T]) OnOverflow(handler func(context.Context, BackpressureEvent) error) error {
	_, err := b.hooks.Hook(BackpressureEventOverflow, handler)
	return err
}

// OnBufferFull registers a hook invoked whenever the buffer itself is
// at capacity.
func (b *Backpressure[T]) OnBufferFull(handler func(context.Context, BackpressureEvent) error) error {
	_, err := b.hooks.Hook(BackpressureEventBufferFull, handler)
	return err
}

// Process admits, buffers, or rejects the call according to the
// configured strategy.
func (b *Backpressure[T]) Process(ctx context.Context, data T) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = &Error[T]{Path: []Name{b.name}, InputData: data, Err: &panicError{processorName: b.name, sanitized: sanitizePanicMessage(r)}, Timestamp: time.Now()}
		}
	}()

	ctx, span := b.tracer.StartSpan(ctx, BackpressureProcessSpan)
	defer span.Finish()

	b.mu.Lock()
	if b.active < b.maxConcurrent {
		b.active++
		b.mu.Unlock()
		return b.run(ctx, data)
	}

	switch b.strategy {
	case BackpressureDrop, BackpressureError:
		b.mu.Unlock()
		b.reject(ctx, ErrBackpressureDropped, BackpressureEventOverflow)
		var zero T
		return zero, &Error[T]{Path: []Name{b.name}, InputData: data, Err: ErrBackpressureDropped, Timestamp: time.Now()}

	case BackpressureSample:
		if b.rng.Float64() < b.sampleRate {
			b.active++
			b.mu.Unlock()
			return b.run(ctx, data)
		}
		b.mu.Unlock()
		b.reject(ctx, ErrBackpressureSampledOut, BackpressureEventOverflow)
		var zero T
		return zero, &Error[T]{Path: []Name{b.name}, InputData: data, Err: ErrBackpressureSampledOut, Timestamp: time.Now()}

	case BackpressureDropOldest:
		evicted := false
		if len(b.buffer) >= b.bufferSize {
			oldest := b.buffer[0]
			b.buffer = b.buffer[1:]
			oldest.result <- bpOutcome[T]{err: &Error[T]{Path: []Name{b.name}, InputData: oldest.data, Err: ErrBackpressureDroppedOldest, Timestamp: time.Now()}}
			evicted = true
		}
		waiter := b.enqueueLocked(ctx, data)
		b.mu.Unlock()
		if evicted {
			b.reject(ctx, ErrBackpressureDroppedOldest, BackpressureEventOverflow)
		}
		return b.await(waiter)

	case BackpressureBuffer:
		if len(b.buffer) >= b.bufferSize {
			b.mu.Unlock()
			b.reject(ctx, ErrBackpressureBufferFull, BackpressureEventBufferFull)
			var zero T
			return zero, &Error[T]{Path: []Name{b.name}, InputData: data, Err: ErrBackpressureBufferFull, Timestamp: time.Now()}
		}
		waiter := b.enqueueLocked(ctx, data)
		b.mu.Unlock()
		return b.await(waiter)

	default: // BackpressureThrottle
		waiter := b.enqueueLocked(ctx, data)
		b.mu.Unlock()
		return b.await(waiter)
	}
}

func (b *Backpressure[T]) enqueueLocked(ctx context.Context, data T) *bpWaiter[T] {
	waiter := &bpWaiter[T]{ctx: ctx, data: data, enqueued: time.Now(), result: make(chan bpOutcome[T], 1)}
	b.buffer = append(b.buffer, waiter)
	b.metrics.Counter(BackpressureBufferedTotal).Inc()
	return waiter
}

func (b *Backpressure[T]) await(waiter *bpWaiter[T]) (T, error) {
	select {
	case outcome := <-waiter.result:
		return outcome.value, outcome.err
	case <-waiter.ctx.Done():
		var zero T
		return zero, &Error[T]{Path: []Name{b.name}, InputData: waiter.data, Err: waiter.ctx.Err(), Canceled: errors.Is(waiter.ctx.Err(), context.Canceled), Timeout: errors.Is(waiter.ctx.Err(), context.DeadlineExceeded), Timestamp: time.Now()}
	}
}

func (b *Backpressure[T]) reject(ctx context.Context, reason error, kind hookz.Key) {
	b.metrics.Counter(BackpressureRejectedTotal).Inc()
	_ = b.hooks.Emit(ctx, kind, BackpressureEvent{Name: b.name, Reason: reason.Error(), Timestamp: time.Now()}) //nolint:errcheck
}

// run executes data against the wrapped processor and, on completion,
// drains the buffer up to maxConcurrent.
func (b *Backpressure[T]) run(ctx context.Context, data T) (T, error) {
	b.metrics.Counter(BackpressureAdmittedTotal).Inc()
	result, err := b.processor.Process(ctx, data)

	b.mu.Lock()
	b.active--
	b.drainLocked()
	b.mu.Unlock()

	return result, err
}

// drainLocked starts buffered waiters up to maxConcurrent. Caller must
// hold b.mu.
func (b *Backpressure[T]) drainLocked() {
	for b.active < b.maxConcurrent && len(b.buffer) > 0 {
		waiter := b.buffer[0]
		b.buffer = b.buffer[1:]
		b.active++
		go func(w *bpWaiter[T]) {
			result, err := b.processor.Process(w.ctx, w.data)
			b.mu.Lock()
			b.active--
			b.drainLocked()
			b.mu.Unlock()
			w.result <- bpOutcome[T]{value: result, err: err}
		}(waiter)
	}
}

// ActiveExecutions returns the current number of in-flight executions.
func (b *Backpressure[T]) ActiveExecutions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// BufferSize returns the current number of buffered (not yet running)
// calls.
func (b *Backpressure[T]) BufferSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// IsUnderPressure reports whether active executions are currently at
// max_concurrent.
func (b *Backpressure[T]) IsUnderPressure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active >= b.maxConcurrent
}

// Name returns the name of this connector.
func (b *Backpressure[T]) Name() Name { return b.name }

// Close fails every buffered waiter and releases observability
// resources. The wrapped processor is owned by the caller.
func (b *Backpressure[T]) Close() error {
	b.mu.Lock()
	buffer := b.buffer
	b.buffer = nil
	b.mu.Unlock()

	for _, w := range buffer {
		w.result <- bpOutcome[T]{err: errors.New("backpressure: closed while buffered")}
	}
	b.hooks.Close()
	return nil
}
