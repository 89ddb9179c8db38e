// Package pipz is an execution-control runtime for Go: it wraps a
// computation of any arity in a Work value and lets callers layer
// concurrency primitives, timing decorators, reliability decorators, and
// performance decorators around it without changing the computation's
// signature.
//
// # Core Concepts
//
// Everything in this package implements Chainable[T]:
//
//	type Chainable[T any] interface {
//	    Process(ctx context.Context, data T) (T, error)
//	    Name() Name
//	    Close() error
//	}
//
// Work0[R], Work1[A, R], and Work2[A, B, R] are thin generic handles over
// a Chainable, one per arity of the wrapped computation. Each exposes
// Call (invoke the computation) and a family of WithXxx methods — one per
// decorator in this package — that layer a decorator over the Work and
// return a new Work of the same arity:
//
//	work := pipz.NewWork1("fetch-user", fetchUser).
//	    WithTimeout("fetch-user.timeout", 2*time.Second).
//	    WithRetry("fetch-user.retry", 3).
//	    WithCircuitBreaker("fetch-user.breaker", 5, 30*time.Second)
//
//	user, err := work.Call(ctx, userID)
//
// Then is the uncommon escape hatch beneath the WithXxx methods, for
// decorators this package doesn't expose a named constructor for.
//
// # Adapter Functions
//
// Apply, Transform, Effect, Mutate, and Enrich wrap a plain function as a
// Chainable[T], the same way NewWork0/NewWork1/NewWork2 wrap a function
// as a Work.
//
// # Decorators
//
// Concurrency primitives: Lock, RWLock, Semaphore, Barrier,
// CountdownLatch, Monitor, Bulkhead — each has both a standalone API
// (Acquire/Release, Await, Synchronized, Execute, ...) and a WithXxx
// package-level function that wraps a Chainable[T] in it.
//
// Timing: Delay, Throttle, Debounce, Timeout.
//
// Reliability: Retry, RetryWithBackoff (with pluggable BackoffStrategy),
// CircuitBreaker, Fallback/FallbackChain, Guard, Validate, Proxy, Recover,
// Repeat.
//
// Performance: Memoize, Once, Share, Deduplicate, WarmUp, Batch,
// Compress/Decompress (bytes and text).
//
// Flow control: Sequence, Switch, RateLimiter and its FixedWindow/
// SlidingWindow/LeakyBucket/TokenBucket variants, Backpressure, Queue and
// PriorityQueue.
//
// # Observability
//
// Every stateful decorator carries a metricz.Registry, a tracez.Tracer,
// and a hookz.Hooks[E] for typed async events, plus capitan structured
// signals for cross-cutting state changes (signals.go). Errors surface as
// *Error[T], accumulating each decorator's Name onto Path as they unwind.
package pipz
