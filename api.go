package pipz

import "context"

// Chainable defines the interface for any component that can process
// values of type T. Every processor and connector in this package
// implements Chainable, which is what makes them freely composable:
// a connector built from Chainables is itself a Chainable.
type Chainable[T any] interface {
	// Process runs the component against data, returning the transformed
	// value or an error. Implementations should respect ctx cancellation
	// for long-running work.
	Process(ctx context.Context, data T) (T, error)

	// Name identifies the component for error paths, tracing, and metrics.
	Name() Name

	// Close releases any resources held by the component (observability
	// registries, background goroutines, child Chainables). Close is
	// idempotent; calling it more than once returns the same result.
	Close() error
}

// Name identifies a processor or connector. Using a named type (rather
// than bare strings everywhere) encourages declaring names as constants.
type Name = string

// Processor wraps a function as a Chainable. It is the concrete type
// returned by the adapter functions (Apply, Transform, Effect, Mutate,
// Enrich) and should not normally be constructed directly.
type Processor[T any] struct {
	fn   func(context.Context, T) (T, *Error[T])
	name Name
}

// Process implements Chainable.
func (p Processor[T]) Process(ctx context.Context, data T) (result T, err error) {
	defer recoverFromPanic(&result, &err, p.name, data)

	res, pipeErr := p.fn(ctx, data)
	if pipeErr != nil {
		return res, pipeErr
	}
	return res, nil
}

// Name implements Chainable.
func (p Processor[T]) Name() Name {
	return p.name
}

// Close implements Chainable. Leaf processors hold no resources of
// their own, so Close is always a no-op.
func (Processor[T]) Close() error {
	return nil
}
