package pipz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// ErrThrottled is returned by a leading-mode Throttle when a call is
// dropped because it falls within an active window.
var ErrThrottled = errors.New("throttle: call dropped, window active")

// ThrottleMode selects which calls in a window actually execute.
type ThrottleMode int

const (
	// ThrottleLeading executes the first call in a window immediately;
	// later calls within the window are dropped (fail with ErrThrottled).
	ThrottleLeading ThrottleMode = iota
	// ThrottleTrailing executes only the last call of each window, at
	// window end.
	ThrottleTrailing
	// ThrottleBoth executes the leading call immediately and, if a second
	// call arrived during the window, also executes a trailing call at
	// window end.
	ThrottleBoth
)

// Observability constants for the Throttle connector.
const (
	ThrottleProcessedTotal = metricz.Key("throttle.processed.total")
	ThrottleDroppedTotal   = metricz.Key("throttle.dropped.total")
	ThrottleFiredTotal     = metricz.Key("throttle.fired.total")

	ThrottleProcessSpan = tracez.Key("throttle.process")

	ThrottleEventDropped = hookz.Key("throttle.dropped")
)

// ThrottleEvent is emitted whenever a call is dropped by a leading-mode
// Throttle.
type ThrottleEvent struct {
	Name      Name
	Timestamp time.Time
}

type throttleResult[T any] struct {
	value T
	err   error
}

// Throttle bounds how often the wrapped processor actually executes,
// allowing at most one execution per window in leading mode, or a
// trailing execution at window end.
type Throttle[T any] struct {
	name     Name
	duration time.Duration
	mode     ThrottleMode
	clock    clockz.Clock

	processor Chainable[T]

	mu             sync.Mutex
	windowActive   bool
	pendingArg     T
	hasPending     bool
	pendingWaiters []chan throttleResult[T]

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[ThrottleEvent]
}

// NewThrottle creates a Throttle decorator in leading mode by default.
func NewThrottle[T any](name Name, processor Chainable[T], duration time.Duration) *Throttle[T] {
	metrics := metricz.New()
	metrics.Counter(ThrottleProcessedTotal)
	metrics.Counter(ThrottleDroppedTotal)
	metrics.Counter(ThrottleFiredTotal)

	return &Throttle[T]{
		name:      name,
		processor: processor,
		duration:  duration,
		mode:      ThrottleLeading,
		clock:     clockz.RealClock,
		metrics:   metrics,
		tracer:    tracez.New(),
		hooks:     hookz.New[ThrottleEvent](),
	}
}

// WithMode sets the throttle mode.
func (th *Throttle[T]) WithMode(mode ThrottleMode) *Throttle[T] {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.mode = mode
	return th
}

// WithClock sets the clock used for window scheduling. Intended for tests.
func (th *Throttle[T]) WithClock(clock clockz.Clock) *Throttle[T] {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.clock = clock
	return th
}

// Process executes immediately if no window is active, otherwise applies
// the configured mode's drop/coalesce behavior.
func (th *Throttle[T]) Process(ctx context.Context, data T) (result T, err error) {
	defer recoverFromPanic(&result, &err, th.name, data)

	th.metrics.Counter(ThrottleProcessedTotal).Inc()
	ctx, span := th.tracer.StartSpan(ctx, ThrottleProcessSpan)
	defer span.Finish()

	th.mu.Lock()
	if !th.windowActive {
		th.windowActive = true
		th.openWindow(ctx)

		if th.mode == ThrottleLeading || th.mode == ThrottleBoth {
			th.mu.Unlock()
			res, procErr := th.processor.Process(ctx, data)
			th.metrics.Counter(ThrottleFiredTotal).Inc()
			return res, procErr
		}
		// ThrottleTrailing: even the window-opening call waits for window
		// end, like every other call in the window.
	} else if th.mode == ThrottleLeading {
		th.mu.Unlock()
		th.metrics.Counter(ThrottleDroppedTotal).Inc()
		_ = th.hooks.Emit(ctx, ThrottleEventDropped, ThrottleEvent{Name: th.name, Timestamp: th.clock.Now()}) //nolint:errcheck
		var zero T
		return zero, &Error[T]{Err: ErrThrottled, InputData: data, Path: []Name{th.name}, Timestamp: th.clock.Now()}
	}

	th.pendingArg = data
	th.hasPending = true
	ch := make(chan throttleResult[T], 1)
	th.pendingWaiters = append(th.pendingWaiters, ch)
	th.mu.Unlock()

	select {
	case res := <-ch:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		return zero, &Error[T]{Err: ctx.Err(), InputData: data, Path: []Name{th.name}, Canceled: true, Timestamp: th.clock.Now()}
	}
}

// openWindow starts the window-end timer. Caller must hold th.mu.
func (th *Throttle[T]) openWindow(ctx context.Context) {
	duration := th.duration
	go func() {
		<-th.clock.After(duration)
		th.closeWindow(ctx)
	}()
}

func (th *Throttle[T]) closeWindow(ctx context.Context) {
	th.mu.Lock()
	th.windowActive = false
	hasPending := th.hasPending
	data := th.pendingArg
	waiters := th.pendingWaiters
	th.hasPending = false
	th.pendingWaiters = nil
	th.mu.Unlock()

	if !hasPending || len(waiters) == 0 {
		return
	}

	res, procErr := th.processor.Process(ctx, data)
	th.metrics.Counter(ThrottleFiredTotal).Inc()
	for _, ch := range waiters {
		ch <- throttleResult[T]{value: res, err: procErr}
	}
}

// Reset clears all throttle state, allowing the next call to execute
// immediately regardless of any active window.
func (th *Throttle[T]) Reset() {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.windowActive = false
	th.hasPending = false
	th.pendingWaiters = nil
}

// Name returns the name of this connector.
func (th *Throttle[T]) Name() Name {
	return th.name
}

// Metrics returns the metrics registry for this connector.
func (th *Throttle[T]) Metrics() *metricz.Registry {
	return th.metrics
}

// Tracer returns the tracer for this connector.
func (th *Throttle[T]) Tracer() *tracez.Tracer {
	return th.tracer
}

// Close shuts down observability components.
func (th *Throttle[T]) Close() error {
	if th.tracer != nil {
		th.tracer.Close()
	}
	th.hooks.Close()
	return nil
}

// OnDropped registers a handler invoked whenever a call is dropped in
// leading mode.
func (th *Throttle[T]) OnDropped(handler func(context.Context, ThrottleEvent) error) error {
	_, err := th.hooks.Hook(ThrottleEventDropped, handler)
	return err
}
