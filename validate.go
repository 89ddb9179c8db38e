package pipz

import (
	"context"
	"errors"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// ValidationMode selects how a Validate connector treats multiple
// validator failures.
type ValidationMode int

const (
	// ValidateFailFast returns on the first validator error.
	ValidateFailFast ValidationMode = iota
	// ValidateAccumulate runs every validator and aggregates all errors.
	ValidateAccumulate
)

// Validator checks args and returns a descriptive error if invalid, or
// nil if the check passes.
type Validator[T any] func(context.Context, T) error

// Observability constants for the Validate connector.
const (
	ValidateProcessedTotal = metricz.Key("validate.processed.total")
	ValidatePassedTotal    = metricz.Key("validate.passed.total")
	ValidateFailedTotal    = metricz.Key("validate.failed.total")
	ValidateProcessSpan    = tracez.Key("validate.process")
	ValidateEventFailed    = hookz.Key("validate.failed")
)

// ValidationErrors aggregates one or more validator failures.
type ValidationErrors struct {
	Errors []error
}

func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}
	msg := "multiple validation failures: "
	for i, e := range v.Errors {
		if i > 0 {
			msg += "; "
		}
		msg += e.Error()
	}
	return msg
}

// Unwrap exposes the individual validation errors to errors.Is/As.
func (v *ValidationErrors) Unwrap() []error { return v.Errors }

// ValidateEvent is emitted whenever validation fails.
type ValidateEvent[T any] struct {
	Name      Name
	Data      T
	Errors    []error
	Timestamp time.Time
}

// Validate runs a list of validators against the input before optionally
// passing it to a wrapped processor. Grounded on `filter.go`'s
// predicate-gated shape, generalized from a single boolean condition to
// a list of descriptive validators with fail-fast or accumulate modes.
type Validate[T any] struct {
	name       Name
	processor  Chainable[T]
	validators []Validator[T]
	mode       ValidationMode

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[ValidateEvent[T]]
}

// NewValidate creates a Validate connector. If processor is nil,
// validation runs and, on success, the input passes through unchanged.
func NewValidate[T any](name Name, processor Chainable[T], validators ...Validator[T]) *Validate[T] {
	metrics := metricz.New()
	metrics.Counter(ValidateProcessedTotal)
	metrics.Counter(ValidatePassedTotal)
	metrics.Counter(ValidateFailedTotal)

	return &Validate[T]{
		name:       name,
		processor:  processor,
		validators: validators,
		mode:       ValidateFailFast,
		metrics:    metrics,
		tracer:     tracez.New(),
		hooks:      hookz.New[ValidateEvent[T]](),
	}
}

// WithMode sets fail-fast or accumulate behavior across validators.
func (v *Validate[T]) WithMode(mode ValidationMode) *Validate[T] {
	v.mode = mode
	return v
}

// OnValidationError registers a hook fired with every failure before the
// call itself returns an error.
func (v *Validate[T]) OnValidationError(handler func(context.Context, ValidateEvent[T]) error) error {
	_, err := v.hooks.Hook(ValidateEventFailed, handler)
	return err
}

// Process implements the Chainable interface.
func (v *Validate[T]) Process(ctx context.Context, data T) (result T, err error) {
	defer recoverFromPanic(&result, &err, v.name, data)

	v.metrics.Counter(ValidateProcessedTotal).Inc()
	ctx, span := v.tracer.StartSpan(ctx, ValidateProcessSpan)
	defer span.Finish()

	var failures []error
	for _, validator := range v.validators {
		if vErr := validator(ctx, data); vErr != nil {
			failures = append(failures, vErr)
			if v.mode == ValidateFailFast {
				break
			}
		}
	}

	if len(failures) > 0 {
		v.metrics.Counter(ValidateFailedTotal).Inc()
		_ = v.hooks.Emit(ctx, ValidateEventFailed, ValidateEvent[T]{Name: v.name, Data: data, Errors: failures, Timestamp: time.Now()}) //nolint:errcheck
		return data, &Error[T]{Path: []Name{v.name}, InputData: data, Err: &ValidationErrors{Errors: failures}, Timestamp: time.Now()}
	}

	v.metrics.Counter(ValidatePassedTotal).Inc()
	if v.processor == nil {
		return data, nil
	}

	result, err = v.processor.Process(ctx, data)
	if err != nil {
		var pipeErr *Error[T]
		if errors.As(err, &pipeErr) {
			pipeErr.Path = append([]Name{v.name}, pipeErr.Path...)
			return result, pipeErr
		}
		return result, &Error[T]{Path: []Name{v.name}, InputData: data, Err: err, Timestamp: time.Now()}
	}
	return result, nil
}

// Name returns the name of this connector.
func (v *Validate[T]) Name() Name { return v.name }

// Metrics returns the metrics registry for this connector.
func (v *Validate[T]) Metrics() *metricz.Registry { return v.metrics }

// Tracer returns the tracer for this connector.
func (v *Validate[T]) Tracer() *tracez.Tracer { return v.tracer }

// Close releases the wrapped processor (if any) and observability
// resources.
func (v *Validate[T]) Close() error {
	v.tracer.Close()
	v.hooks.Close()
	if v.processor != nil {
		return v.processor.Close()
	}
	return nil
}
