package pipz

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// ErrLeakyBucketFull is returned when a LeakyBucketLimiter's bounded queue
// is at capacity.
var ErrLeakyBucketFull = errors.New("ratelimit: leaky bucket queue full")

// FixedWindowLimiter admits up to maxCalls requests per window, resetting
// the counter at each window boundary; excess calls wait for the next
// window.
type FixedWindowLimiter[T any] struct {
	name     Name
	clock    clockz.Clock
	maxCalls int
	window   time.Duration

	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// NewFixedWindowLimiter creates a FixedWindowLimiter admitting maxCalls per
// window.
func NewFixedWindowLimiter[T any](name Name, maxCalls int, window time.Duration) *FixedWindowLimiter[T] {
	clock := clockz.RealClock
	return &FixedWindowLimiter[T]{name: name, clock: clock, maxCalls: maxCalls, window: window, windowStart: clock.Now()}
}

// WithClock sets the clock used for window tracking. Intended for tests.
func (f *FixedWindowLimiter[T]) WithClock(clock clockz.Clock) *FixedWindowLimiter[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = clock
	f.windowStart = clock.Now()
	return f
}

// Process implements the Chainable interface.
func (f *FixedWindowLimiter[T]) Process(ctx context.Context, data T) (result T, err error) {
	defer recoverFromPanic(&result, &err, f.name, data)

	for {
		f.mu.Lock()
		now := f.clock.Now()
		if now.Sub(f.windowStart) >= f.window {
			f.windowStart = now
			f.count = 0
		}
		if f.count < f.maxCalls {
			f.count++
			f.mu.Unlock()
			capitan.Info(ctx, SignalRateLimiterAllowed, FieldName.Field(string(f.name)))
			return data, nil
		}
		wait := f.window - now.Sub(f.windowStart)
		f.mu.Unlock()

		capitan.Warn(ctx, SignalRateLimiterThrottled, FieldName.Field(string(f.name)))
		select {
		case <-f.clock.After(wait):
		case <-ctx.Done():
			return data, &Error[T]{Err: ctx.Err(), InputData: data, Path: []Name{f.name}, Canceled: errors.Is(ctx.Err(), context.Canceled), Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Timestamp: f.clock.Now()}
		}
	}
}

// Name returns the name of this connector.
func (f *FixedWindowLimiter[T]) Name() Name { return f.name }

// Close is a no-op; FixedWindowLimiter holds no background resources.
func (f *FixedWindowLimiter[T]) Close() error { return nil }

// SlidingWindowLimiter admits a call only if fewer than maxCalls recent
// timestamps fall within the trailing window.
type SlidingWindowLimiter[T any] struct {
	name     Name
	clock    clockz.Clock
	maxCalls int
	window   time.Duration

	mu    sync.Mutex
	times *list.List
}

// NewSlidingWindowLimiter creates a SlidingWindowLimiter admitting up to
// maxCalls within any trailing window.
func NewSlidingWindowLimiter[T any](name Name, maxCalls int, window time.Duration) *SlidingWindowLimiter[T] {
	return &SlidingWindowLimiter[T]{name: name, clock: clockz.RealClock, maxCalls: maxCalls, window: window, times: list.New()}
}

// WithClock sets the clock used for window tracking. Intended for tests.
func (s *SlidingWindowLimiter[T]) WithClock(clock clockz.Clock) *SlidingWindowLimiter[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
	return s
}

// Process implements the Chainable interface.
func (s *SlidingWindowLimiter[T]) Process(ctx context.Context, data T) (result T, err error) {
	defer recoverFromPanic(&result, &err, s.name, data)

	for {
		s.mu.Lock()
		now := s.clock.Now()
		s.evictOld(now)

		if s.times.Len() < s.maxCalls {
			s.times.PushBack(now)
			s.mu.Unlock()
			capitan.Info(ctx, SignalRateLimiterAllowed, FieldName.Field(string(s.name)))
			return data, nil
		}

		oldest := s.times.Front().Value.(time.Time) //nolint:forcetypeassert
		wait := s.window - now.Sub(oldest)
		s.mu.Unlock()

		capitan.Warn(ctx, SignalRateLimiterThrottled, FieldName.Field(string(s.name)))
		select {
		case <-s.clock.After(wait):
		case <-ctx.Done():
			return data, &Error[T]{Err: ctx.Err(), InputData: data, Path: []Name{s.name}, Canceled: errors.Is(ctx.Err(), context.Canceled), Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Timestamp: s.clock.Now()}
		}
	}
}

// evictOld removes timestamps that have fallen outside the trailing
// window. Caller must hold s.mu.
func (s *SlidingWindowLimiter[T]) evictOld(now time.Time) {
	for e := s.times.Front(); e != nil; {
		next := e.Next()
		if now.Sub(e.Value.(time.Time)) >= s.window { //nolint:forcetypeassert
			s.times.Remove(e)
		}
		e = next
	}
}

// Name returns the name of this connector.
func (s *SlidingWindowLimiter[T]) Name() Name { return s.name }

// Close is a no-op; SlidingWindowLimiter holds no background resources.
func (s *SlidingWindowLimiter[T]) Close() error { return nil }

// LeakyBucketLimiter admits calls into a bounded FIFO queue and releases
// them at a steady rate of maxCalls/window, independent of burst arrival.
type LeakyBucketLimiter[T any] struct {
	name     Name
	clock    clockz.Clock
	interval time.Duration
	maxQueue int

	mu      sync.Mutex
	queue   []chan error
	running bool
}

// NewLeakyBucketLimiter creates a LeakyBucketLimiter releasing maxCalls per
// window, queuing up to maxQueue pending callers.
func NewLeakyBucketLimiter[T any](name Name, maxCalls int, window time.Duration, maxQueue int) *LeakyBucketLimiter[T] {
	interval := window / time.Duration(maxCalls)
	return &LeakyBucketLimiter[T]{name: name, clock: clockz.RealClock, interval: interval, maxQueue: maxQueue}
}

// WithClock sets the clock used for the leak interval. Intended for tests.
func (l *LeakyBucketLimiter[T]) WithClock(clock clockz.Clock) *LeakyBucketLimiter[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = clock
	return l
}

// Process implements the Chainable interface.
func (l *LeakyBucketLimiter[T]) Process(ctx context.Context, data T) (result T, err error) {
	defer recoverFromPanic(&result, &err, l.name, data)

	l.mu.Lock()
	if l.maxQueue > 0 && len(l.queue) >= l.maxQueue {
		l.mu.Unlock()
		return data, &Error[T]{Err: ErrLeakyBucketFull, InputData: data, Path: []Name{l.name}, Timestamp: l.clock.Now()}
	}
	ch := make(chan error, 1)
	l.queue = append(l.queue, ch)
	if !l.running {
		l.running = true
		go l.drain()
	}
	l.mu.Unlock()

	select {
	case grantErr := <-ch:
		if grantErr != nil {
			return data, &Error[T]{Err: grantErr, InputData: data, Path: []Name{l.name}, Canceled: true, Timestamp: l.clock.Now()}
		}
		capitan.Info(ctx, SignalRateLimiterAllowed, FieldName.Field(string(l.name)))
		return data, nil
	case <-ctx.Done():
		return data, &Error[T]{Err: ctx.Err(), InputData: data, Path: []Name{l.name}, Canceled: errors.Is(ctx.Err(), context.Canceled), Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Timestamp: l.clock.Now()}
	}
}

func (l *LeakyBucketLimiter[T]) drain() {
	for {
		<-l.clock.After(l.interval)
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		next := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		next <- nil
	}
}

// Name returns the name of this connector.
func (l *LeakyBucketLimiter[T]) Name() Name { return l.name }

// Close fails every queued caller with a cancellation error.
func (l *LeakyBucketLimiter[T]) Close() error {
	l.mu.Lock()
	queue := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, ch := range queue {
		ch <- errors.New("ratelimit: closed while waiting")
	}
	return nil
}

// TokenBucketLimiterGo wraps golang.org/x/time/rate.Limiter as an alternate
// TokenBucket implementation, for callers who want the standard library's
// battle-tested limiter rather than the hand-rolled one in ratelimiter.go.
type TokenBucketLimiterGo[T any] struct {
	name    Name
	limiter *rate.Limiter
}

// NewTokenBucketLimiterFromGo creates a TokenBucketLimiterGo backed by
// golang.org/x/time/rate, admitting ratePerSecond sustained with the given
// burst.
func NewTokenBucketLimiterFromGo[T any](name Name, ratePerSecond float64, burst int) *TokenBucketLimiterGo[T] {
	return &TokenBucketLimiterGo[T]{name: name, limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Process implements the Chainable interface.
func (t *TokenBucketLimiterGo[T]) Process(ctx context.Context, data T) (result T, err error) {
	defer recoverFromPanic(&result, &err, t.name, data)

	if err := t.limiter.Wait(ctx); err != nil {
		return data, &Error[T]{Err: err, InputData: data, Path: []Name{t.name}, Canceled: errors.Is(err, context.Canceled), Timeout: errors.Is(err, context.DeadlineExceeded), Timestamp: time.Now()}
	}
	capitan.Info(ctx, SignalRateLimiterAllowed, FieldName.Field(string(t.name)))
	return data, nil
}

// Name returns the name of this connector.
func (t *TokenBucketLimiterGo[T]) Name() Name { return t.name }

// Close is a no-op; the underlying rate.Limiter holds no background
// resources.
func (t *TokenBucketLimiterGo[T]) Close() error { return nil }
