package pipz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
	"golang.org/x/sync/singleflight"
)

// Observability constants for the Once connector.
const (
	OnceExecutedTotal = metricz.Key("once.executed.total")
	OnceReplayedTotal = metricz.Key("once.replayed.total")
	OnceResetTotal    = metricz.Key("once.reset.total")

	OnceProcessSpan = tracez.Key("once.process")

	OnceEventStored = hookz.Key("once.stored")
)

// OnceEvent is emitted when a key's outcome is first stored.
type OnceEvent struct {
	Name      Name
	Timestamp time.Time
}

type onceOutcome[V any] struct {
	value V
	err   error
}

// Once executes fn at most once per key: the first call's outcome
// (value or error) is stored and replayed for every subsequent call with
// that key. An optional resetOn predicate marks specific error outcomes
// as recoverable, evicting them so the next call re-executes. Uses
// `golang.org/x/sync/singleflight.Group` to keep the "at most once"
// guarantee correct under concurrent first calls for the same key, the
// same mechanism `Share` uses for in-flight coalescing — here the stored
// result simply never expires unless explicitly reset.
type Once[K comparable, V any] struct {
	name    Name
	fn      func(context.Context, K) (V, error)
	resetOn func(error) bool
	group   singleflight.Group

	mu     sync.Mutex
	stored map[K]*onceOutcome[V]

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[OnceEvent]
}

// NewOnce creates a Once connector executing fn at most once per key.
func NewOnce[K comparable, V any](name Name, fn func(context.Context, K) (V, error)) *Once[K, V] {
	metrics := metricz.New()
	metrics.Counter(OnceExecutedTotal)
	metrics.Counter(OnceReplayedTotal)
	metrics.Counter(OnceResetTotal)

	return &Once[K, V]{
		name:    name,
		fn:      fn,
		stored:  make(map[K]*onceOutcome[V]),
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[OnceEvent](),
	}
}

// WithResetOn sets a predicate marking specific error outcomes as
// recoverable; a stored error outcome matching the predicate is evicted
// so the next call for that key re-executes.
func (o *Once[K, V]) WithResetOn(predicate func(error) bool) *Once[K, V] {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetOn = predicate
	return o
}

// OnStored registers a hook invoked whenever a key's outcome is first
// stored.
func (o *Once[K, V]) OnStored(handler func(context.Context, OnceEvent) error) error {
	_, err := o.hooks.Hook(OnceEventStored, handler)
	return err
}

// Process returns the stored outcome for key if one exists, otherwise
// executes fn and stores its outcome.
func (o *Once[K, V]) Process(ctx context.Context, key K) (value V, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			value = zero
			err = &Error[K]{Path: []Name{o.name}, InputData: key, Err: &panicError{processorName: o.name, sanitized: sanitizePanicMessage(r)}, Timestamp: time.Now()}
		}
	}()

	ctx, span := o.tracer.StartSpan(ctx, OnceProcessSpan)
	defer span.Finish()

	o.mu.Lock()
	if outcome, ok := o.stored[key]; ok {
		if outcome.err != nil && o.resetOn != nil && o.resetOn(outcome.err) {
			delete(o.stored, key)
		} else {
			o.mu.Unlock()
			o.metrics.Counter(OnceReplayedTotal).Inc()
			return outcome.value, outcome.err
		}
	}
	o.mu.Unlock()

	groupKey := fmt.Sprintf("%v", key)
	result, fnErr, _ := o.group.Do(groupKey, func() (interface{}, error) {
		o.mu.Lock()
		if outcome, ok := o.stored[key]; ok {
			o.mu.Unlock()
			return outcome.value, outcome.err
		}
		o.mu.Unlock()

		v, err := o.fn(ctx, key)

		o.mu.Lock()
		o.stored[key] = &onceOutcome[V]{value: v, err: err}
		o.mu.Unlock()

		o.metrics.Counter(OnceExecutedTotal).Inc()
		_ = o.hooks.Emit(ctx, OnceEventStored, OnceEvent{Name: o.name, Timestamp: time.Now()}) //nolint:errcheck

		return v, err
	})

	if fnErr != nil {
		var zero V
		return zero, fnErr
	}
	return result.(V), nil //nolint:forcetypeassert
}

// Reset evicts the stored outcome for every key.
func (o *Once[K, V]) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stored = make(map[K]*onceOutcome[V])
	o.metrics.Counter(OnceResetTotal).Inc()
}

// ResetKey evicts the stored outcome for a single key, if present.
func (o *Once[K, V]) ResetKey(key K) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.stored, key)
	o.metrics.Counter(OnceResetTotal).Inc()
}

// Name returns the name of this connector.
func (o *Once[K, V]) Name() Name { return o.name }

// Close evicts all stored outcomes and releases observability resources.
func (o *Once[K, V]) Close() error {
	o.Reset()
	o.hooks.Close()
	return nil
}
