package pipz

import (
	"context"
	"errors"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Repeat connector.
const (
	RepeatIterationsTotal = metricz.Key("repeat.iterations.total")
	RepeatCompletedTotal  = metricz.Key("repeat.completed.total")
	RepeatProcessSpan     = tracez.Key("repeat.process")
	RepeatEventIteration  = hookz.Key("repeat.iteration")
)

// RepeatEvent is emitted after every iteration of a Repeat connector.
type RepeatEvent[T any] struct {
	Name      Name
	Iteration int
	Result    T
	Error     error
	Timestamp time.Time
}

// Repeat re-invokes a wrapped processor up to a fixed number of times
// against the same input, optionally sleeping between iterations and
// stopping early once an until predicate is satisfied. Grounded on
// `retry.go`'s bounded-attempt loop, generalized from "stop at first
// success" to "run every iteration unless told to stop early," since
// Repeat's purpose is repetition rather than failure recovery.
type Repeat[T any] struct {
	name      Name
	processor Chainable[T]
	times     int
	interval  time.Duration
	until     func(T) bool
	clock     clockz.Clock

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[RepeatEvent[T]]
}

// NewRepeat creates a Repeat connector invoking processor up to times
// iterations.
func NewRepeat[T any](name Name, processor Chainable[T], times int) *Repeat[T] {
	metrics := metricz.New()
	metrics.Counter(RepeatIterationsTotal)
	metrics.Counter(RepeatCompletedTotal)

	return &Repeat[T]{
		name:      name,
		processor: processor,
		times:     times,
		clock:     clockz.RealClock,
		metrics:   metrics,
		tracer:    tracez.New(),
		hooks:     hookz.New[RepeatEvent[T]](),
	}
}

// WithInterval sets a sleep duration between iterations.
func (r *Repeat[T]) WithInterval(interval time.Duration) *Repeat[T] {
	r.interval = interval
	return r
}

// WithUntil sets a predicate checked against each iteration's result;
// once it returns true, Repeat stops early and returns that result.
func (r *Repeat[T]) WithUntil(until func(T) bool) *Repeat[T] {
	r.until = until
	return r
}

// WithClock sets the clock used for interval waits. Intended for tests.
func (r *Repeat[T]) WithClock(clock clockz.Clock) *Repeat[T] {
	r.clock = clock
	return r
}

// OnIteration registers a hook fired after every iteration, whether it
// succeeded, failed, or satisfied the until predicate.
func (r *Repeat[T]) OnIteration(handler func(context.Context, RepeatEvent[T]) error) error {
	_, err := r.hooks.Hook(RepeatEventIteration, handler)
	return err
}

// Process implements the Chainable interface. The last iteration's
// result and error (success or failure) are returned once the loop
// finishes by exhausting times or satisfying until. On context
// cancellation the last iteration's result is returned with a
// cancellation error in place of that iteration's error.
func (r *Repeat[T]) Process(ctx context.Context, data T) (result T, err error) {
	defer recoverFromPanic(&result, &err, r.name, data)

	ctx, span := r.tracer.StartSpan(ctx, RepeatProcessSpan)
	defer span.Finish()

	for i := 1; i <= r.times; i++ {
		if ctx.Err() != nil {
			return result, &Error[T]{Path: []Name{r.name}, InputData: data, Err: ctx.Err(), Canceled: errors.Is(ctx.Err(), context.Canceled), Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Timestamp: time.Now()}
		}

		r.metrics.Counter(RepeatIterationsTotal).Inc()
		result, err = r.processor.Process(ctx, data)

		_ = r.hooks.Emit(ctx, RepeatEventIteration, RepeatEvent[T]{Name: r.name, Iteration: i, Result: result, Error: err, Timestamp: time.Now()}) //nolint:errcheck

		if r.until != nil && err == nil && r.until(result) {
			r.metrics.Counter(RepeatCompletedTotal).Inc()
			return result, nil
		}

		if i < r.times && r.interval > 0 {
			select {
			case <-r.clock.After(r.interval):
			case <-ctx.Done():
				return result, &Error[T]{Path: []Name{r.name}, InputData: data, Err: ctx.Err(), Canceled: true, Timestamp: time.Now()}
			}
		}
	}

	r.metrics.Counter(RepeatCompletedTotal).Inc()
	if err != nil {
		var pipeErr *Error[T]
		if errors.As(err, &pipeErr) {
			pipeErr.Path = append([]Name{r.name}, pipeErr.Path...)
			return result, pipeErr
		}
		return result, &Error[T]{Path: []Name{r.name}, InputData: data, Err: err, Timestamp: time.Now()}
	}
	return result, nil
}

// Name returns the name of this connector.
func (r *Repeat[T]) Name() Name { return r.name }

// Metrics returns the metrics registry for this connector.
func (r *Repeat[T]) Metrics() *metricz.Registry { return r.metrics }

// Tracer returns the tracer for this connector.
func (r *Repeat[T]) Tracer() *tracez.Tracer { return r.tracer }

// Close releases the wrapped processor and observability resources.
func (r *Repeat[T]) Close() error {
	r.tracer.Close()
	r.hooks.Close()
	return r.processor.Close()
}
