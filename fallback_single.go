package pipz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Fallback runs processor, and on failure returns either a configured
// constant value or the result of a configured function — exactly one of
// the two must be set, never both. This is the single-step fallback
// contract; for trying a whole chain of alternative processors in order,
// use FallbackChain instead.
type Fallback[T any] struct {
	processor  Chainable[T]
	name       Name
	constant   *T
	fn         func(context.Context, T, error) (T, error)
	fallbackIf func(error) bool
	onFallback func(context.Context, error)
	mu         sync.RWMutex
	metrics    *metricz.Registry
	tracer     *tracez.Tracer
	hooks      *hookz.Hooks[FallbackEvent]
}

// NewFallbackConstant creates a Fallback that returns value on any failure
// matching fallbackIf (nil fallbackIf means always).
func NewFallbackConstant[T any](name Name, processor Chainable[T], value T) *Fallback[T] {
	v := value
	return newFallbackSingle(name, processor, &v, nil)
}

// NewFallbackFunc creates a Fallback that invokes fn on failure to produce
// the replacement result.
func NewFallbackFunc[T any](name Name, processor Chainable[T], fn func(context.Context, T, error) (T, error)) *Fallback[T] {
	return newFallbackSingle(name, processor, nil, fn)
}

func newFallbackSingle[T any](name Name, processor Chainable[T], constant *T, fn func(context.Context, T, error) (T, error)) *Fallback[T] {
	metrics := metricz.New()
	metrics.Counter(FallbackProcessedTotal)
	metrics.Counter(FallbackSuccessesTotal)
	metrics.Counter(FallbackAllFailedTotal)

	return &Fallback[T]{
		name:      name,
		processor: processor,
		constant:  constant,
		fn:        fn,
		metrics:   metrics,
		tracer:    tracez.New(),
		hooks:     hookz.New[FallbackEvent](),
	}
}

// SetFallbackIf sets the predicate gating which errors trigger the fallback.
// A nil predicate (the default) triggers on every error.
func (f *Fallback[T]) SetFallbackIf(pred func(error) bool) *Fallback[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallbackIf = pred
	return f
}

// SetOnFallback registers a callback fired before the fallback value or
// function is used.
func (f *Fallback[T]) SetOnFallback(fn func(context.Context, error)) *Fallback[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFallback = fn
	return f
}

// Process implements the Chainable interface.
func (f *Fallback[T]) Process(ctx context.Context, data T) (result T, err error) {
	defer recoverFromPanic(&result, &err, f.name, data)

	f.mu.RLock()
	processor := f.processor
	constant := f.constant
	fn := f.fn
	fallbackIf := f.fallbackIf
	onFallback := f.onFallback
	f.mu.RUnlock()

	f.metrics.Counter(FallbackProcessedTotal).Inc()

	ctx, span := f.tracer.StartSpan(ctx, FallbackProcessSpan)
	defer span.Finish()

	result, err = processor.Process(ctx, data)
	if err == nil {
		f.metrics.Counter(FallbackSuccessesTotal).Inc()
		span.SetTag(FallbackTagSuccess, "true")
		return result, nil
	}

	if fallbackIf != nil && !fallbackIf(err) {
		span.SetTag(FallbackTagSuccess, "false")
		return result, err
	}

	if onFallback != nil {
		onFallback(ctx, err)
	}

	if f.hooks.ListenerCount(FallbackEventActivated) > 0 {
		_ = f.hooks.Emit(ctx, FallbackEventActivated, FallbackEvent{ //nolint:errcheck
			Name:          f.name,
			PrimaryFailed: processor.Name(),
			Error:         err,
			Timestamp:     time.Now(),
		})
	}

	var fallbackResult T
	var fallbackErr error
	switch {
	case constant != nil:
		fallbackResult = *constant
	case fn != nil:
		fallbackResult, fallbackErr = fn(ctx, data, err)
	default:
		fallbackErr = errors.New("fallback: neither constant nor function configured")
	}

	if fallbackErr != nil {
		f.metrics.Counter(FallbackAllFailedTotal).Inc()
		span.SetTag(FallbackTagSuccess, "false")
		var pipeErr *Error[T]
		if errors.As(fallbackErr, &pipeErr) {
			pipeErr.Path = append([]Name{f.name}, pipeErr.Path...)
			return fallbackResult, pipeErr
		}
		return fallbackResult, &Error[T]{
			Err:       fallbackErr,
			InputData: data,
			Path:      []Name{f.name},
			Timestamp: time.Now(),
		}
	}

	f.metrics.Counter(FallbackSuccessesTotal).Inc()
	span.SetTag(FallbackTagSuccess, "true")
	return fallbackResult, nil
}

// Name implements Chainable.
func (f *Fallback[T]) Name() Name {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.name
}

// Metrics returns the metrics registry for this connector.
func (f *Fallback[T]) Metrics() *metricz.Registry { return f.metrics }

// Tracer returns the tracer for this connector.
func (f *Fallback[T]) Tracer() *tracez.Tracer { return f.tracer }

// Close implements Chainable.
func (f *Fallback[T]) Close() error {
	if f.tracer != nil {
		f.tracer.Close()
	}
	f.hooks.Close()
	return nil
}

// OnActivated registers a handler fired when the fallback value/function is used.
func (f *Fallback[T]) OnActivated(handler func(context.Context, FallbackEvent) error) error {
	_, err := f.hooks.Hook(FallbackEventActivated, handler)
	return err
}
