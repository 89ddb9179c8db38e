package pipz

import (
	"context"
	"time"
)

// Work0 wraps a zero-argument computation producing a value of type R.
// It is the arity-0 member of the Work family: a thin, chainable handle
// over a Chainable[R] whose input is always the zero value of R, letting
// every decorator in this package (which all operate on Chainable[T])
// apply uniformly regardless of how many real arguments the underlying
// computation takes.
type Work0[R any] struct {
	inner Chainable[R]
}

// NewWork0 wraps fn as a Work0.
func NewWork0[R any](name Name, fn func(context.Context) (R, error)) Work0[R] {
	return Work0[R]{inner: Apply(name, func(ctx context.Context, _ R) (R, error) {
		return fn(ctx)
	})}
}

// Call invokes the wrapped computation.
func (w Work0[R]) Call(ctx context.Context) (R, error) {
	var zero R
	return w.inner.Process(ctx, zero)
}

// Name returns the name of the outermost Chainable in this Work's chain:
// the Work's own name until a decorator is layered on, then that
// decorator's name.
func (w Work0[R]) Name() Name { return w.inner.Name() }

// Close releases any resources held by the wrapped chain.
func (w Work0[R]) Close() error { return w.inner.Close() }

// Then layers an arbitrary Chainable-to-Chainable decorator onto this Work,
// the uniform composition point every decorator constructor in this package
// is built to be passed to.
func (w Work0[R]) Then(decorate func(Chainable[R]) Chainable[R]) Work0[R] {
	return Work0[R]{inner: decorate(w.inner)}
}

// WithCircuitBreaker layers a CircuitBreaker over this Work.
func (w Work0[R]) WithCircuitBreaker(name Name, failureThreshold int, resetTimeout time.Duration) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] {
		return NewCircuitBreaker(name, c, failureThreshold, resetTimeout)
	})
}

// WithDebounce layers a Debounce over this Work.
func (w Work0[R]) WithDebounce(name Name, duration time.Duration) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] { return NewDebounce(name, c, duration) })
}

// WithDelay layers a Delay over this Work.
func (w Work0[R]) WithDelay(name Name, duration time.Duration) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] { return NewDelay(name, c, duration) })
}

// WithGuard layers a Guard over this Work. configure may be nil.
func (w Work0[R]) WithGuard(name Name, configure func(*Guard[R])) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] {
		g := NewGuard(name, c)
		if configure != nil {
			configure(g)
		}
		return g
	})
}

// WithValidate layers a Validate over this Work.
func (w Work0[R]) WithValidate(name Name, validators ...Validator[R]) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] { return NewValidate(name, c, validators...) })
}

// WithProxy layers a Proxy over this Work. configure may be nil.
func (w Work0[R]) WithProxy(name Name, configure func(*Proxy[R])) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] {
		p := NewProxy(name, c)
		if configure != nil {
			configure(p)
		}
		return p
	})
}

// WithRecover layers a Recover over this Work.
func (w Work0[R]) WithRecover(name Name, recoverFn func(context.Context, error) error) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] { return NewRecover(name, c, recoverFn) })
}

// WithRepeat layers a Repeat over this Work. configure may be nil.
func (w Work0[R]) WithRepeat(name Name, times int, configure func(*Repeat[R])) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] {
		r := NewRepeat(name, c, times)
		if configure != nil {
			configure(r)
		}
		return r
	})
}

// WithRetry layers a Retry over this Work.
func (w Work0[R]) WithRetry(name Name, maxAttempts int) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] { return NewRetry(name, c, maxAttempts) })
}

// WithRetryBackoff layers a Retry using strategy over this Work.
func (w Work0[R]) WithRetryBackoff(name Name, maxAttempts int, strategy BackoffStrategy) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] {
		return NewRetryWithBackoff(name, c, maxAttempts, strategy)
	})
}

// WithThrottle layers a Throttle over this Work.
func (w Work0[R]) WithThrottle(name Name, duration time.Duration) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] { return NewThrottle(name, c, duration) })
}

// WithTimeout layers a Timeout over this Work.
func (w Work0[R]) WithTimeout(name Name, duration time.Duration) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] { return NewTimeout(name, c, duration) })
}

// WithBackpressure layers a Backpressure over this Work. Returns an error
// if strategy or limits are invalid, leaving w unmodified.
func (w Work0[R]) WithBackpressure(name Name, strategy BackpressureStrategy, maxConcurrent, bufferSize int, sampleRate float64) (Work0[R], error) {
	bp, err := NewBackpressure(name, w.inner, strategy, maxConcurrent, bufferSize, sampleRate)
	if err != nil {
		return w, err
	}
	return Work0[R]{inner: bp}, nil
}

// WithFallbackConstant layers a Fallback returning value on failure.
func (w Work0[R]) WithFallbackConstant(name Name, value R) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] { return NewFallbackConstant(name, c, value) })
}

// WithFallbackFunc layers a Fallback invoking fn on failure.
func (w Work0[R]) WithFallbackFunc(name Name, fn func(context.Context, R, error) (R, error)) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] { return NewFallbackFunc(name, c, fn) })
}

// WithFallbackChain layers a FallbackChain trying alternates in order
// after this Work fails.
func (w Work0[R]) WithFallbackChain(name Name, alternates ...Chainable[R]) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] {
		return NewFallbackChain(name, append([]Chainable[R]{c}, alternates...)...)
	})
}

// WithRateLimit layers a token-bucket RateLimiter ahead of this Work.
func (w Work0[R]) WithRateLimit(name Name, ratePerSecond float64, burst int) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] {
		return NewSequence[R](name, NewRateLimiter[R](name, ratePerSecond, burst), c)
	})
}

// WithFixedWindowLimit layers a FixedWindowLimiter ahead of this Work.
func (w Work0[R]) WithFixedWindowLimit(name Name, maxCalls int, window time.Duration) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] {
		return NewSequence[R](name, NewFixedWindowLimiter[R](name, maxCalls, window), c)
	})
}

// WithSlidingWindowLimit layers a SlidingWindowLimiter ahead of this Work.
func (w Work0[R]) WithSlidingWindowLimit(name Name, maxCalls int, window time.Duration) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] {
		return NewSequence[R](name, NewSlidingWindowLimiter[R](name, maxCalls, window), c)
	})
}

// WithLeakyBucketLimit layers a LeakyBucketLimiter ahead of this Work.
func (w Work0[R]) WithLeakyBucketLimit(name Name, maxCalls int, window time.Duration, maxQueue int) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] {
		return NewSequence[R](name, NewLeakyBucketLimiter[R](name, maxCalls, window, maxQueue), c)
	})
}

// WithTokenBucketLimit layers a Go-clock token bucket limiter ahead of
// this Work.
func (w Work0[R]) WithTokenBucketLimit(name Name, ratePerSecond float64, burst int) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] {
		return NewSequence[R](name, NewTokenBucketLimiterFromGo[R](name, ratePerSecond, burst), c)
	})
}

// WithLock serializes calls to this Work behind lock.
func (w Work0[R]) WithLock(lock *Lock, timeout time.Duration) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] { return WithLock[R](lock, timeout, c) })
}

// WithRWLock gates calls to this Work behind rwlock, as a reader or writer.
func (w Work0[R]) WithRWLock(rwlock *RWLock, timeout time.Duration, write bool) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] { return WithRWLock[R](rwlock, timeout, write, c) })
}

// WithSemaphore bounds concurrent calls to this Work using sem.
func (w Work0[R]) WithSemaphore(sem *Semaphore, timeout time.Duration, priority int) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] { return WithSemaphore[R](sem, timeout, priority, c) })
}

// WithMonitor runs this Work's calls under monitor's mutual exclusion.
func (w Work0[R]) WithMonitor(monitor *Monitor, timeout time.Duration) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] { return WithMonitor[R](monitor, timeout, c) })
}

// WithBulkhead isolates this Work's calls behind bulkhead's fixed pool.
func (w Work0[R]) WithBulkhead(bulkhead *Bulkhead, timeout time.Duration) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] { return WithBulkhead[R](bulkhead, timeout, c) })
}

// WithBarrier rendezvouses this Work's calls at barrier before running.
func (w Work0[R]) WithBarrier(barrier *Barrier, timeout time.Duration) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] { return WithBarrier[R](barrier, timeout, c) })
}

// WithCountdownLatch counts latch down once per completed call.
func (w Work0[R]) WithCountdownLatch(latch *CountdownLatch) Work0[R] {
	return w.Then(func(c Chainable[R]) Chainable[R] { return WithCountdownLatch[R](latch, c) })
}

// Work1 wraps a single-argument computation of type A producing R.
type Work1[A, R any] struct {
	inner Chainable[argResult[A, R]]
}

// argResult threads the argument alongside the result so that decorators
// written against Chainable[T] (a single type parameter) can still observe
// the original call argument where needed (Fallback functions, Guard
// pre_condition, Proxy transform_args, ...). It never appears in Work1's
// public surface: every WithXxx method below takes and returns plain A/R
// values and folds them into argResult internally.
type argResult[A, R any] struct {
	Arg    A
	Result R
}

// NewWork1 wraps fn as a Work1.
func NewWork1[A, R any](name Name, fn func(context.Context, A) (R, error)) Work1[A, R] {
	return Work1[A, R]{inner: Apply(name, func(ctx context.Context, in argResult[A, R]) (argResult[A, R], error) {
		result, err := fn(ctx, in.Arg)
		in.Result = result
		return in, err
	})}
}

// Call invokes the wrapped computation with arg.
func (w Work1[A, R]) Call(ctx context.Context, arg A) (R, error) {
	out, err := w.inner.Process(ctx, argResult[A, R]{Arg: arg})
	return out.Result, err
}

// Name returns the name of the outermost Chainable in this Work's chain:
// the Work's own name until a decorator is layered on, then that
// decorator's name.
func (w Work1[A, R]) Name() Name { return w.inner.Name() }

// Close releases any resources held by the wrapped chain.
func (w Work1[A, R]) Close() error { return w.inner.Close() }

// Then layers a decorator expressed over the internal argResult shape.
// Exported for completeness, but only usable from within this package
// since argResult is unexported; external callers use the WithXxx methods.
func (w Work1[A, R]) Then(decorate func(Chainable[argResult[A, R]]) Chainable[argResult[A, R]]) Work1[A, R] {
	return Work1[A, R]{inner: decorate(w.inner)}
}

// WithCircuitBreaker layers a CircuitBreaker over this Work.
func (w Work1[A, R]) WithCircuitBreaker(name Name, failureThreshold int, resetTimeout time.Duration) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		return NewCircuitBreaker(name, c, failureThreshold, resetTimeout)
	})
}

// WithDebounce layers a Debounce over this Work.
func (w Work1[A, R]) WithDebounce(name Name, duration time.Duration) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		return NewDebounce(name, c, duration)
	})
}

// WithDelay layers a Delay over this Work.
func (w Work1[A, R]) WithDelay(name Name, duration time.Duration) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		return NewDelay(name, c, duration)
	})
}

// WithGuard layers a Guard over this Work. Either predicate may be nil.
func (w Work1[A, R]) WithGuard(name Name, preCondition func(context.Context, A) bool, postCondition func(context.Context, A, R) bool) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		g := NewGuard(name, c)
		if preCondition != nil {
			g.WithPreCondition(func(ctx context.Context, in argResult[A, R]) bool { return preCondition(ctx, in.Arg) })
		}
		if postCondition != nil {
			g.WithPostCondition(func(ctx context.Context, in argResult[A, R]) bool {
				return postCondition(ctx, in.Arg, in.Result)
			})
		}
		return g
	})
}

// WithValidate layers a Validate checking the call's argument and result.
func (w Work1[A, R]) WithValidate(name Name, validators ...func(context.Context, A, R) error) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		wrapped := make([]Validator[argResult[A, R]], len(validators))
		for i, v := range validators {
			v := v
			wrapped[i] = func(ctx context.Context, in argResult[A, R]) error { return v(ctx, in.Arg, in.Result) }
		}
		return NewValidate(name, c, wrapped...)
	})
}

// WithProxy layers a Proxy observing this Work's argument and errors.
// Either hook may be nil.
func (w Work1[A, R]) WithProxy(name Name, beforeCall func(context.Context, A), onError func(context.Context, error, string)) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		p := NewProxy(name, c)
		if beforeCall != nil {
			p.WithBeforeCall(func(ctx context.Context, in argResult[A, R]) { beforeCall(ctx, in.Arg) })
		}
		if onError != nil {
			p.WithOnError(onError)
		}
		return p
	})
}

// WithRecover layers a Recover over this Work.
func (w Work1[A, R]) WithRecover(name Name, recoverFn func(context.Context, error) error) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		return NewRecover(name, c, recoverFn)
	})
}

// WithRepeat layers a Repeat over this Work, re-running it times times.
func (w Work1[A, R]) WithRepeat(name Name, times int) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		return NewRepeat(name, c, times)
	})
}

// WithRetry layers a Retry over this Work.
func (w Work1[A, R]) WithRetry(name Name, maxAttempts int) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		return NewRetry(name, c, maxAttempts)
	})
}

// WithRetryBackoff layers a Retry using strategy over this Work.
func (w Work1[A, R]) WithRetryBackoff(name Name, maxAttempts int, strategy BackoffStrategy) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		return NewRetryWithBackoff(name, c, maxAttempts, strategy)
	})
}

// WithThrottle layers a Throttle over this Work.
func (w Work1[A, R]) WithThrottle(name Name, duration time.Duration) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		return NewThrottle(name, c, duration)
	})
}

// WithTimeout layers a Timeout over this Work.
func (w Work1[A, R]) WithTimeout(name Name, duration time.Duration) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		return NewTimeout(name, c, duration)
	})
}

// WithBackpressure layers a Backpressure over this Work. Returns an error
// if strategy or limits are invalid, leaving w unmodified.
func (w Work1[A, R]) WithBackpressure(name Name, strategy BackpressureStrategy, maxConcurrent, bufferSize int, sampleRate float64) (Work1[A, R], error) {
	bp, err := NewBackpressure(name, w.inner, strategy, maxConcurrent, bufferSize, sampleRate)
	if err != nil {
		return w, err
	}
	return Work1[A, R]{inner: bp}, nil
}

// WithFallbackFunc layers a Fallback invoking fn, with access to the
// original argument, on failure.
func (w Work1[A, R]) WithFallbackFunc(name Name, fn func(context.Context, A, error) (R, error)) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		return NewFallbackFunc(name, c, func(ctx context.Context, in argResult[A, R], err error) (argResult[A, R], error) {
			result, ferr := fn(ctx, in.Arg, err)
			in.Result = result
			return in, ferr
		})
	})
}

// WithFallbackChain layers a FallbackChain trying each alternate function
// in order, with the same argument, after this Work fails.
func (w Work1[A, R]) WithFallbackChain(name Name, alternates ...func(context.Context, A) (R, error)) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		chain := make([]Chainable[argResult[A, R]], 0, len(alternates)+1)
		chain = append(chain, c)
		for _, fn := range alternates {
			fn := fn
			chain = append(chain, Apply(name, func(ctx context.Context, in argResult[A, R]) (argResult[A, R], error) {
				result, err := fn(ctx, in.Arg)
				in.Result = result
				return in, err
			}))
		}
		return NewFallbackChain(name, chain...)
	})
}

// WithLock serializes calls to this Work behind lock.
func (w Work1[A, R]) WithLock(lock *Lock, timeout time.Duration) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		return WithLock[argResult[A, R]](lock, timeout, c)
	})
}

// WithSemaphore bounds concurrent calls to this Work using sem.
func (w Work1[A, R]) WithSemaphore(sem *Semaphore, timeout time.Duration, priority int) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		return WithSemaphore[argResult[A, R]](sem, timeout, priority, c)
	})
}

// WithBulkhead isolates this Work's calls behind bulkhead's fixed pool.
func (w Work1[A, R]) WithBulkhead(bulkhead *Bulkhead, timeout time.Duration) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		return WithBulkhead[argResult[A, R]](bulkhead, timeout, c)
	})
}

// WithRateLimit layers a token-bucket RateLimiter ahead of this Work.
func (w Work1[A, R]) WithRateLimit(name Name, ratePerSecond float64, burst int) Work1[A, R] {
	return w.Then(func(c Chainable[argResult[A, R]]) Chainable[argResult[A, R]] {
		return NewSequence[argResult[A, R]](name, NewRateLimiter[argResult[A, R]](name, ratePerSecond, burst), c)
	})
}

// NewWork1Memoized wraps fn as a Work1 whose results are cached per
// argument by a Memoize.
func NewWork1Memoized[A comparable, R any](name Name, fn func(context.Context, A) (R, error)) Work1[A, R] {
	m := NewMemoize(name, fn)
	return Work1[A, R]{inner: Apply(name, func(ctx context.Context, in argResult[A, R]) (argResult[A, R], error) {
		result, err := m.Process(ctx, in.Arg)
		in.Result = result
		return in, err
	})}
}

// NewWork1Shared wraps fn as a Work1 whose concurrent calls for the same
// argument are collapsed by a Share.
func NewWork1Shared[A comparable, R any](name Name, fn func(context.Context, A) (R, error)) Work1[A, R] {
	s := NewShare(name, fn)
	return Work1[A, R]{inner: Apply(name, func(ctx context.Context, in argResult[A, R]) (argResult[A, R], error) {
		result, err := s.Process(ctx, in.Arg)
		in.Result = result
		return in, err
	})}
}

// NewWork1Deduplicated wraps fn as a Work1 whose identical calls within
// window are collapsed by a Deduplicate.
func NewWork1Deduplicated[A comparable, R any](name Name, fn func(context.Context, A) (R, error), window time.Duration) Work1[A, R] {
	d := NewDeduplicate(name, fn, window)
	return Work1[A, R]{inner: Apply(name, func(ctx context.Context, in argResult[A, R]) (argResult[A, R], error) {
		result, err := d.Process(ctx, in.Arg)
		in.Result = result
		return in, err
	})}
}

// NewWork1WarmedUp wraps fn as a Work1 backed by a WarmUp cache.
func NewWork1WarmedUp[A comparable, R any](name Name, fn func(context.Context, A) (R, error)) Work1[A, R] {
	wu := NewWarmUp(name, fn)
	return Work1[A, R]{inner: Apply(name, func(ctx context.Context, in argResult[A, R]) (argResult[A, R], error) {
		result, err := wu.Process(ctx, in.Arg)
		in.Result = result
		return in, err
	})}
}

// NewWork1Once wraps fn as a Work1 that runs fn for a given argument at
// most once, serving every later call for that argument from the first
// outcome.
func NewWork1Once[A comparable, R any](name Name, fn func(context.Context, A) (R, error)) Work1[A, R] {
	o := NewOnce(name, fn)
	return Work1[A, R]{inner: Apply(name, func(ctx context.Context, in argResult[A, R]) (argResult[A, R], error) {
		result, err := o.Process(ctx, in.Arg)
		in.Result = result
		return in, err
	})}
}

// NewWork1Batched wraps executor as a Work1[A, A] whose individual calls
// are coalesced into batches by a Batch.
func NewWork1Batched[A any](name Name, executor BatchExecutor[A], maxSize int, maxWait time.Duration) Work1[A, A] {
	b := NewBatch(name, executor, maxSize, maxWait)
	return Work1[A, A]{inner: Apply(name, func(ctx context.Context, in argResult[A, A]) (argResult[A, A], error) {
		result, err := b.Process(ctx, in.Arg)
		in.Result = result
		return in, err
	})}
}

// Work2 wraps a two-argument computation of types A, B producing R.
type Work2[A, B, R any] struct {
	inner Chainable[arg2Result[A, B, R]]
}

type arg2Result[A, B, R any] struct {
	ArgA   A
	ArgB   B
	Result R
}

// NewWork2 wraps fn as a Work2.
func NewWork2[A, B, R any](name Name, fn func(context.Context, A, B) (R, error)) Work2[A, B, R] {
	return Work2[A, B, R]{inner: Apply(name, func(ctx context.Context, in arg2Result[A, B, R]) (arg2Result[A, B, R], error) {
		result, err := fn(ctx, in.ArgA, in.ArgB)
		in.Result = result
		return in, err
	})}
}

// Call invokes the wrapped computation with a, b.
func (w Work2[A, B, R]) Call(ctx context.Context, a A, b B) (R, error) {
	out, err := w.inner.Process(ctx, arg2Result[A, B, R]{ArgA: a, ArgB: b})
	return out.Result, err
}

// Name returns the name of the outermost Chainable in this Work's chain:
// the Work's own name until a decorator is layered on, then that
// decorator's name.
func (w Work2[A, B, R]) Name() Name { return w.inner.Name() }

// Close releases any resources held by the wrapped chain.
func (w Work2[A, B, R]) Close() error { return w.inner.Close() }

// Then layers a decorator expressed over the internal arg2Result shape.
func (w Work2[A, B, R]) Then(decorate func(Chainable[arg2Result[A, B, R]]) Chainable[arg2Result[A, B, R]]) Work2[A, B, R] {
	return Work2[A, B, R]{inner: decorate(w.inner)}
}

// WithCircuitBreaker layers a CircuitBreaker over this Work.
func (w Work2[A, B, R]) WithCircuitBreaker(name Name, failureThreshold int, resetTimeout time.Duration) Work2[A, B, R] {
	return w.Then(func(c Chainable[arg2Result[A, B, R]]) Chainable[arg2Result[A, B, R]] {
		return NewCircuitBreaker(name, c, failureThreshold, resetTimeout)
	})
}

// WithRetry layers a Retry over this Work.
func (w Work2[A, B, R]) WithRetry(name Name, maxAttempts int) Work2[A, B, R] {
	return w.Then(func(c Chainable[arg2Result[A, B, R]]) Chainable[arg2Result[A, B, R]] {
		return NewRetry(name, c, maxAttempts)
	})
}

// WithRetryBackoff layers a Retry using strategy over this Work.
func (w Work2[A, B, R]) WithRetryBackoff(name Name, maxAttempts int, strategy BackoffStrategy) Work2[A, B, R] {
	return w.Then(func(c Chainable[arg2Result[A, B, R]]) Chainable[arg2Result[A, B, R]] {
		return NewRetryWithBackoff(name, c, maxAttempts, strategy)
	})
}

// WithTimeout layers a Timeout over this Work.
func (w Work2[A, B, R]) WithTimeout(name Name, duration time.Duration) Work2[A, B, R] {
	return w.Then(func(c Chainable[arg2Result[A, B, R]]) Chainable[arg2Result[A, B, R]] {
		return NewTimeout(name, c, duration)
	})
}

// WithGuard layers a Guard over this Work. Either predicate may be nil.
func (w Work2[A, B, R]) WithGuard(name Name, preCondition func(context.Context, A, B) bool, postCondition func(context.Context, A, B, R) bool) Work2[A, B, R] {
	return w.Then(func(c Chainable[arg2Result[A, B, R]]) Chainable[arg2Result[A, B, R]] {
		g := NewGuard(name, c)
		if preCondition != nil {
			g.WithPreCondition(func(ctx context.Context, in arg2Result[A, B, R]) bool {
				return preCondition(ctx, in.ArgA, in.ArgB)
			})
		}
		if postCondition != nil {
			g.WithPostCondition(func(ctx context.Context, in arg2Result[A, B, R]) bool {
				return postCondition(ctx, in.ArgA, in.ArgB, in.Result)
			})
		}
		return g
	})
}

// WithValidate layers a Validate checking the call's arguments and result.
func (w Work2[A, B, R]) WithValidate(name Name, validators ...func(context.Context, A, B, R) error) Work2[A, B, R] {
	return w.Then(func(c Chainable[arg2Result[A, B, R]]) Chainable[arg2Result[A, B, R]] {
		wrapped := make([]Validator[arg2Result[A, B, R]], len(validators))
		for i, v := range validators {
			v := v
			wrapped[i] = func(ctx context.Context, in arg2Result[A, B, R]) error {
				return v(ctx, in.ArgA, in.ArgB, in.Result)
			}
		}
		return NewValidate(name, c, wrapped...)
	})
}

// WithBackpressure layers a Backpressure over this Work. Returns an error
// if strategy or limits are invalid, leaving w unmodified.
func (w Work2[A, B, R]) WithBackpressure(name Name, strategy BackpressureStrategy, maxConcurrent, bufferSize int, sampleRate float64) (Work2[A, B, R], error) {
	bp, err := NewBackpressure(name, w.inner, strategy, maxConcurrent, bufferSize, sampleRate)
	if err != nil {
		return w, err
	}
	return Work2[A, B, R]{inner: bp}, nil
}

// WithSemaphore bounds concurrent calls to this Work using sem.
func (w Work2[A, B, R]) WithSemaphore(sem *Semaphore, timeout time.Duration, priority int) Work2[A, B, R] {
	return w.Then(func(c Chainable[arg2Result[A, B, R]]) Chainable[arg2Result[A, B, R]] {
		return WithSemaphore[arg2Result[A, B, R]](sem, timeout, priority, c)
	})
}

// WithBulkhead isolates this Work's calls behind bulkhead's fixed pool.
func (w Work2[A, B, R]) WithBulkhead(bulkhead *Bulkhead, timeout time.Duration) Work2[A, B, R] {
	return w.Then(func(c Chainable[arg2Result[A, B, R]]) Chainable[arg2Result[A, B, R]] {
		return WithBulkhead[arg2Result[A, B, R]](bulkhead, timeout, c)
	})
}
