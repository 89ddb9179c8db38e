package pipz

import (
	"context"
	"errors"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// ErrGuardPreCondition is wrapped into the returned error when a Guard's
// pre-condition rejects the call.
var ErrGuardPreCondition = errors.New("guard: pre-condition not satisfied")

// ErrGuardPostCondition is wrapped into the returned error when a Guard's
// post-condition rejects the result.
var ErrGuardPostCondition = errors.New("guard: post-condition not satisfied")

// Observability constants for the Guard connector.
const (
	GuardProcessedTotal    = metricz.Key("guard.processed.total")
	GuardPreRejectedTotal  = metricz.Key("guard.pre_rejected.total")
	GuardPostRejectedTotal = metricz.Key("guard.post_rejected.total")
	GuardProcessSpan       = tracez.Key("guard.process")
	GuardEventPreRejected  = hookz.Key("guard.pre_rejected")
	GuardEventPostRejected = hookz.Key("guard.post_rejected")
)

// GuardEvent is emitted whenever a pre- or post-condition rejects a call.
type GuardEvent[T any] struct {
	Name      Name
	Data      T
	Timestamp time.Time
}

// Guard wraps a processor with optional pre- and post-condition checks.
// Grounded on `filter.go`'s predicate-gated execution shape, generalized
// to also check the processor's result rather than only its input.
type Guard[T any] struct {
	name          Name
	processor     Chainable[T]
	preCondition  func(context.Context, T) bool
	postCondition func(context.Context, T) bool

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[GuardEvent[T]]
}

// NewGuard creates a Guard wrapping processor. Pre/post conditions are
// unset (always pass) until configured with WithPreCondition/WithPostCondition.
func NewGuard[T any](name Name, processor Chainable[T]) *Guard[T] {
	metrics := metricz.New()
	metrics.Counter(GuardProcessedTotal)
	metrics.Counter(GuardPreRejectedTotal)
	metrics.Counter(GuardPostRejectedTotal)

	return &Guard[T]{
		name:      name,
		processor: processor,
		metrics:   metrics,
		tracer:    tracez.New(),
		hooks:     hookz.New[GuardEvent[T]](),
	}
}

// WithPreCondition sets a predicate checked against the input before the
// wrapped processor runs. A false result fails the call without invoking
// the processor.
func (g *Guard[T]) WithPreCondition(cond func(context.Context, T) bool) *Guard[T] {
	g.preCondition = cond
	return g
}

// WithPostCondition sets a predicate checked against the processor's
// result. A false result fails the call even though the processor itself
// succeeded.
func (g *Guard[T]) WithPostCondition(cond func(context.Context, T) bool) *Guard[T] {
	g.postCondition = cond
	return g
}

// OnPreRejected registers a hook fired when the pre-condition rejects a call.
func (g *Guard[T]) OnPreRejected(handler func(context.Context, GuardEvent[T]) error) error {
	_, err := g.hooks.Hook(GuardEventPreRejected, handler)
	return err
}

// OnPostRejected registers a hook fired when the post-condition rejects a result.
func (g *Guard[T]) OnPostRejected(handler func(context.Context, GuardEvent[T]) error) error {
	_, err := g.hooks.Hook(GuardEventPostRejected, handler)
	return err
}

// Process implements the Chainable interface.
func (g *Guard[T]) Process(ctx context.Context, data T) (result T, err error) {
	defer recoverFromPanic(&result, &err, g.name, data)

	g.metrics.Counter(GuardProcessedTotal).Inc()
	ctx, span := g.tracer.StartSpan(ctx, GuardProcessSpan)
	defer span.Finish()

	if g.preCondition != nil && !g.preCondition(ctx, data) {
		g.metrics.Counter(GuardPreRejectedTotal).Inc()
		_ = g.hooks.Emit(ctx, GuardEventPreRejected, GuardEvent[T]{Name: g.name, Data: data, Timestamp: time.Now()}) //nolint:errcheck
		return data, &Error[T]{Path: []Name{g.name}, InputData: data, Err: ErrGuardPreCondition, Timestamp: time.Now()}
	}

	result, err = g.processor.Process(ctx, data)
	if err != nil {
		var pipeErr *Error[T]
		if errors.As(err, &pipeErr) {
			pipeErr.Path = append([]Name{g.name}, pipeErr.Path...)
			return result, pipeErr
		}
		return result, &Error[T]{Path: []Name{g.name}, InputData: data, Err: err, Timestamp: time.Now()}
	}

	if g.postCondition != nil && !g.postCondition(ctx, result) {
		g.metrics.Counter(GuardPostRejectedTotal).Inc()
		_ = g.hooks.Emit(ctx, GuardEventPostRejected, GuardEvent[T]{Name: g.name, Data: result, Timestamp: time.Now()}) //nolint:errcheck
		return result, &Error[T]{Path: []Name{g.name}, InputData: data, Err: ErrGuardPostCondition, Timestamp: time.Now()}
	}

	return result, nil
}

// Name returns the name of this connector.
func (g *Guard[T]) Name() Name { return g.name }

// Metrics returns the metrics registry for this connector.
func (g *Guard[T]) Metrics() *metricz.Registry { return g.metrics }

// Tracer returns the tracer for this connector.
func (g *Guard[T]) Tracer() *tracez.Tracer { return g.tracer }

// Close releases the wrapped processor and observability resources.
func (g *Guard[T]) Close() error {
	g.tracer.Close()
	g.hooks.Close()
	return g.processor.Close()
}
