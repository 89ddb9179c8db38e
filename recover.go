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

// Metric keys for the Recover connector.
const (
	RecoverAttemptsTotal  = metricz.Key("recover.attempts.total")
	RecoverSuccessesTotal = metricz.Key("recover.successes.total")
)

// Span name for Recover.
const RecoverProcessSpan = tracez.Key("recover.process")

// Hook event keys for Recover.
const (
	RecoverEventRecovered = hookz.Key("recover.recovered")
)

// RecoverEvent is emitted after a recovery action runs.
type RecoverEvent struct {
	Name       Name
	Error      error
	RecoverErr error
	Timestamp  time.Time
}

// Recover runs a recovery action (reconnect, reset external state, ...)
// when the wrapped processor fails, and waits for it to finish. It never substitutes a replacement value
// for the caller — use Fallback for that. By default the original error still
// propagates after recovery runs (rethrowAfterRecovery = true); when set
// false, Recover instead fails with a dedicated "recovery did not produce a
// value" state error, since Recover has no value of its own to return.
type Recover[T any] struct {
	processor            Chainable[T]
	name                 Name
	shouldRecover        func(error) bool
	recoverFn            func(context.Context, error) error
	rethrowAfterRecovery bool
	mu                   sync.RWMutex
	metrics              *metricz.Registry
	tracer               *tracez.Tracer
	hooks                *hookz.Hooks[RecoverEvent]
}

// NewRecover creates a Recover connector. recoverFn runs when processor fails
// and should_recover(err) is true (or should_recover is nil).
func NewRecover[T any](name Name, processor Chainable[T], recoverFn func(context.Context, error) error) *Recover[T] {
	metrics := metricz.New()
	metrics.Counter(RecoverAttemptsTotal)
	metrics.Counter(RecoverSuccessesTotal)

	return &Recover[T]{
		name:                 name,
		processor:            processor,
		recoverFn:            recoverFn,
		rethrowAfterRecovery: true,
		metrics:              metrics,
		tracer:               tracez.New(),
		hooks:                hookz.New[RecoverEvent](),
	}
}

// SetShouldRecover sets the predicate gating which errors trigger recovery.
// A nil predicate (the default) recovers from every error.
func (r *Recover[T]) SetShouldRecover(pred func(error) bool) *Recover[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shouldRecover = pred
	return r
}

// SetRethrowAfterRecovery controls whether the original error still
// propagates once recovery completes. Default true.
func (r *Recover[T]) SetRethrowAfterRecovery(rethrow bool) *Recover[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rethrowAfterRecovery = rethrow
	return r
}

// Process implements the Chainable interface.
func (r *Recover[T]) Process(ctx context.Context, data T) (result T, err error) {
	defer recoverFromPanic(&result, &err, r.name, data)

	r.mu.RLock()
	processor := r.processor
	shouldRecover := r.shouldRecover
	recoverFn := r.recoverFn
	rethrow := r.rethrowAfterRecovery
	r.mu.RUnlock()

	ctx, span := r.tracer.StartSpan(ctx, RecoverProcessSpan)
	defer span.Finish()

	result, err = processor.Process(ctx, data)
	if err == nil {
		return result, nil
	}

	if shouldRecover != nil && !shouldRecover(err) {
		return result, err
	}

	r.metrics.Counter(RecoverAttemptsTotal).Inc()

	var recoverErr error
	if recoverFn != nil {
		recoverErr = recoverFn(ctx, err)
	}
	if recoverErr == nil {
		r.metrics.Counter(RecoverSuccessesTotal).Inc()
	}

	if r.hooks.ListenerCount(RecoverEventRecovered) > 0 {
		_ = r.hooks.Emit(ctx, RecoverEventRecovered, RecoverEvent{ //nolint:errcheck
			Name:       r.name,
			Error:      err,
			RecoverErr: recoverErr,
			Timestamp:  time.Now(),
		})
	}

	if !rethrow {
		msg := "recovery did not produce a value"
		if recoverErr != nil {
			msg = "recovery did not produce a value: " + recoverErr.Error()
		}
		return result, &Error[T]{
			Err:       errors.New(msg),
			InputData: data,
			Path:      []Name{r.name},
			Timestamp: time.Now(),
		}
	}

	var pipeErr *Error[T]
	if errors.As(err, &pipeErr) {
		pipeErr.Path = append([]Name{r.name}, pipeErr.Path...)
		return result, pipeErr
	}
	return result, &Error[T]{
		Err:       err,
		InputData: data,
		Path:      []Name{r.name},
		Timestamp: time.Now(),
	}
}

// Name implements Chainable.
func (r *Recover[T]) Name() Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

// Metrics returns the metrics registry for this connector.
func (r *Recover[T]) Metrics() *metricz.Registry { return r.metrics }

// Tracer returns the tracer for this connector.
func (r *Recover[T]) Tracer() *tracez.Tracer { return r.tracer }

// Close implements Chainable.
func (r *Recover[T]) Close() error {
	if r.tracer != nil {
		r.tracer.Close()
	}
	r.hooks.Close()
	return nil
}

// OnRecovered registers a handler fired after each recovery attempt.
func (r *Recover[T]) OnRecovered(handler func(context.Context, RecoverEvent) error) error {
	_, err := r.hooks.Hook(RecoverEventRecovered, handler)
	return err
}
