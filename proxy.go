package pipz

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Proxy connector.
const (
	ProxyProcessedTotal = metricz.Key("proxy.processed.total")
	ProxyErrorsTotal    = metricz.Key("proxy.errors.total")
	ProxyProcessSpan    = tracez.Key("proxy.process")
	ProxyEventError     = hookz.Key("proxy.error")
)

// ProxyEvent is emitted whenever the wrapped processor fails, carrying
// the stack trace captured at the time of the error.
type ProxyEvent[T any] struct {
	Name      Name
	Data      T
	Error     error
	Stack     string
	Timestamp time.Time
}

// Proxy intercepts a processor's arguments and result without changing
// its semantics. Grounded on `handle.go`'s error-observation shape,
// generalized with argument transformation and result transformation
// hooks rather than only an error callback.
type Proxy[T any] struct {
	name          Name
	processor     Chainable[T]
	beforeCall    func(context.Context, T)
	transformArgs func(context.Context, T) T
	afterCall     func(context.Context, T) T
	onError       func(context.Context, error, string)

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[ProxyEvent[T]]
}

// NewProxy creates a Proxy wrapping processor. All hooks are optional.
func NewProxy[T any](name Name, processor Chainable[T]) *Proxy[T] {
	metrics := metricz.New()
	metrics.Counter(ProxyProcessedTotal)
	metrics.Counter(ProxyErrorsTotal)

	return &Proxy[T]{
		name:      name,
		processor: processor,
		metrics:   metrics,
		tracer:    tracez.New(),
		hooks:     hookz.New[ProxyEvent[T]](),
	}
}

// WithBeforeCall sets a hook invoked with the arguments before the
// wrapped processor runs.
func (p *Proxy[T]) WithBeforeCall(fn func(context.Context, T)) *Proxy[T] {
	p.beforeCall = fn
	return p
}

// WithTransformArgs sets a hook that rewrites the arguments before the
// wrapped processor runs.
func (p *Proxy[T]) WithTransformArgs(fn func(context.Context, T) T) *Proxy[T] {
	p.transformArgs = fn
	return p
}

// WithAfterCall sets a hook that rewrites the processor's result after a
// successful call.
func (p *Proxy[T]) WithAfterCall(fn func(context.Context, T) T) *Proxy[T] {
	p.afterCall = fn
	return p
}

// WithOnError sets a callback invoked with the error and a captured
// stack trace whenever the wrapped processor fails.
func (p *Proxy[T]) WithOnError(fn func(context.Context, error, string)) *Proxy[T] {
	p.onError = fn
	return p
}

// OnError registers a hook fired whenever the wrapped processor fails,
// in addition to any callback set via WithOnError.
func (p *Proxy[T]) OnError(handler func(context.Context, ProxyEvent[T]) error) error {
	_, err := p.hooks.Hook(ProxyEventError, handler)
	return err
}

// Process implements the Chainable interface.
func (p *Proxy[T]) Process(ctx context.Context, data T) (result T, err error) {
	defer recoverFromPanic(&result, &err, p.name, data)

	p.metrics.Counter(ProxyProcessedTotal).Inc()
	ctx, span := p.tracer.StartSpan(ctx, ProxyProcessSpan)
	defer span.Finish()

	if p.beforeCall != nil {
		p.beforeCall(ctx, data)
	}

	args := data
	if p.transformArgs != nil {
		args = p.transformArgs(ctx, data)
	}

	result, err = p.processor.Process(ctx, args)
	if err != nil {
		p.metrics.Counter(ProxyErrorsTotal).Inc()
		stack := string(debug.Stack())
		if p.onError != nil {
			p.onError(ctx, err, stack)
		}
		_ = p.hooks.Emit(ctx, ProxyEventError, ProxyEvent[T]{Name: p.name, Data: data, Error: err, Stack: stack, Timestamp: time.Now()}) //nolint:errcheck

		var pipeErr *Error[T]
		if errors.As(err, &pipeErr) {
			pipeErr.Path = append([]Name{p.name}, pipeErr.Path...)
			return result, pipeErr
		}
		return result, &Error[T]{Path: []Name{p.name}, InputData: data, Err: err, Timestamp: time.Now()}
	}

	if p.afterCall != nil {
		result = p.afterCall(ctx, result)
	}
	return result, nil
}

// Name returns the name of this connector.
func (p *Proxy[T]) Name() Name { return p.name }

// Metrics returns the metrics registry for this connector.
func (p *Proxy[T]) Metrics() *metricz.Registry { return p.metrics }

// Tracer returns the tracer for this connector.
func (p *Proxy[T]) Tracer() *tracez.Tracer { return p.tracer }

// Close releases the wrapped processor and observability resources.
func (p *Proxy[T]) Close() error {
	p.tracer.Close()
	p.hooks.Close()
	return p.processor.Close()
}
