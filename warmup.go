package pipz

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// WarmUpTrigger selects when a WarmUp's inner function is first invoked.
type WarmUpTrigger int

const (
	// WarmUpOnFirstCall invokes the inner function on the first external
	// call and caches its result from then on. The default.
	WarmUpOnFirstCall WarmUpTrigger = iota
	// WarmUpOnInit does not invoke the inner function at construction;
	// keys are warmed ahead of use only by calling WarmUpWith or
	// TriggerWarmUp, and Process warms a key with no cached value on its
	// first call, as with WarmUpOnFirstCall.
	WarmUpOnInit
	// WarmUpManual only warms via an explicit TriggerWarmUp/WarmUpWith
	// call; Process never triggers a warm-up itself.
	WarmUpManual
)

// Observability constants for the WarmUp connector.
const (
	WarmUpWarmedTotal    = metricz.Key("warmup.warmed.total")
	WarmUpRefreshedTotal = metricz.Key("warmup.refreshed.total")
	WarmUpFailedTotal    = metricz.Key("warmup.failed.total")

	WarmUpProcessSpan = tracez.Key("warmup.process")

	WarmUpEventWarmed = hookz.Key("warmup.warmed")
)

// WarmUpEvent is emitted whenever a key's value is (re)computed.
type WarmUpEvent struct {
	Name      Name
	Refresh   bool
	Timestamp time.Time
}

type warmEntry[V any] struct {
	value V
	ready bool
}

// WarmUp stores a per-key warmed result and returns it on subsequent
// calls without re-invoking the inner function. If keepFresh is set, a
// background timer re-invokes the inner function for every known key at
// that interval; refresh failures are swallowed (the stale value is
// kept and the next normal call still hits cache, per the contract that
// a normal call never pays for a failed background refresh).
type WarmUp[K comparable, V any] struct {
	name      Name
	fn        func(context.Context, K) (V, error)
	trigger   WarmUpTrigger
	keepFresh time.Duration
	clock     clockz.Clock

	mu      sync.Mutex
	entries map[K]*warmEntry[V]
	stop    chan struct{}

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[WarmUpEvent]
}

// NewWarmUp creates a WarmUp connector with WarmUpOnFirstCall as the
// default trigger.
func NewWarmUp[K comparable, V any](name Name, fn func(context.Context, K) (V, error)) *WarmUp[K, V] {
	metrics := metricz.New()
	metrics.Counter(WarmUpWarmedTotal)
	metrics.Counter(WarmUpRefreshedTotal)
	metrics.Counter(WarmUpFailedTotal)

	return &WarmUp[K, V]{
		name:    name,
		fn:      fn,
		trigger: WarmUpOnFirstCall,
		clock:   clockz.RealClock,
		entries: make(map[K]*warmEntry[V]),
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[WarmUpEvent](),
	}
}

// WithTrigger sets the warm-up trigger.
func (w *WarmUp[K, V]) WithTrigger(trigger WarmUpTrigger) *WarmUp[K, V] {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trigger = trigger
	return w
}

// WithClock sets the clock used for the keepFresh timer. Intended for
// tests.
func (w *WarmUp[K, V]) WithClock(clock clockz.Clock) *WarmUp[K, V] {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clock = clock
	return w
}

// WithKeepFresh starts a background timer that re-invokes the inner
// function for every known key every interval, keeping cached values
// from going stale between calls.
func (w *WarmUp[K, V]) WithKeepFresh(interval time.Duration) *WarmUp[K, V] {
	w.mu.Lock()
	w.keepFresh = interval
	if w.stop != nil {
		close(w.stop)
	}
	w.stop = make(chan struct{})
	stop := w.stop
	w.mu.Unlock()

	go w.refreshLoop(interval, stop)
	return w
}

func (w *WarmUp[K, V]) refreshLoop(interval time.Duration, stop chan struct{}) {
	for {
		select {
		case <-w.clock.After(interval):
		case <-stop:
			return
		}

		w.mu.Lock()
		keys := make([]K, 0, len(w.entries))
		for k := range w.entries {
			keys = append(keys, k)
		}
		w.mu.Unlock()

		for _, k := range keys {
			v, err := w.fn(context.Background(), k)
			if err != nil {
				w.metrics.Counter(WarmUpFailedTotal).Inc()
				continue
			}
			w.mu.Lock()
			w.entries[k] = &warmEntry[V]{value: v, ready: true}
			w.mu.Unlock()
			w.metrics.Counter(WarmUpRefreshedTotal).Inc()
			_ = w.hooks.Emit(context.Background(), WarmUpEventWarmed, WarmUpEvent{Name: w.name, Refresh: true, Timestamp: w.clock.Now()}) //nolint:errcheck
		}
	}
}

// OnWarmed registers a hook invoked whenever a key's value is (re)computed.
func (w *WarmUp[K, V]) OnWarmed(handler func(context.Context, WarmUpEvent) error) error {
	_, err := w.hooks.Hook(WarmUpEventWarmed, handler)
	return err
}

// TriggerWarmUp manually warms a single key, regardless of trigger mode.
func (w *WarmUp[K, V]) TriggerWarmUp(ctx context.Context, key K) error {
	v, err := w.fn(ctx, key)
	if err != nil {
		w.metrics.Counter(WarmUpFailedTotal).Inc()
		return err
	}
	w.mu.Lock()
	w.entries[key] = &warmEntry[V]{value: v, ready: true}
	w.mu.Unlock()
	w.metrics.Counter(WarmUpWarmedTotal).Inc()
	_ = w.hooks.Emit(ctx, WarmUpEventWarmed, WarmUpEvent{Name: w.name, Timestamp: w.clock.Now()}) //nolint:errcheck
	return nil
}

// WarmUpWith is an alias for TriggerWarmUp, matching the "warm_up_with"
// naming from the manual-trigger contract.
func (w *WarmUp[K, V]) WarmUpWith(ctx context.Context, key K) error {
	return w.TriggerWarmUp(ctx, key)
}

// Process returns the cached value for key, warming it first if the
// trigger is WarmUpOnFirstCall and no cached value exists yet. In
// WarmUpManual mode, a call for a key that was never explicitly warmed
// invokes the inner function directly without caching, since the
// contract reserves population to explicit triggers.
func (w *WarmUp[K, V]) Process(ctx context.Context, key K) (value V, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			value = zero
			err = &Error[K]{Path: []Name{w.name}, InputData: key, Err: &panicError{processorName: w.name, sanitized: sanitizePanicMessage(r)}, Timestamp: w.clock.Now()}
		}
	}()

	ctx, span := w.tracer.StartSpan(ctx, WarmUpProcessSpan)
	defer span.Finish()

	w.mu.Lock()
	entry, ok := w.entries[key]
	w.mu.Unlock()

	if ok && entry.ready {
		return entry.value, nil
	}

	if w.trigger == WarmUpManual {
		return w.fn(ctx, key)
	}

	if err := w.TriggerWarmUp(ctx, key); err != nil {
		var zero V
		return zero, err
	}

	w.mu.Lock()
	entry = w.entries[key]
	w.mu.Unlock()
	return entry.value, nil
}

// Name returns the name of this connector.
func (w *WarmUp[K, V]) Name() Name { return w.name }

// Dispose stops the keepFresh timer, if running, and releases
// observability resources.
func (w *WarmUp[K, V]) Dispose() error {
	w.mu.Lock()
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
	w.mu.Unlock()
	w.hooks.Close()
	return nil
}

// Close is an alias for Dispose, matching the Chainable contract.
func (w *WarmUp[K, V]) Close() error { return w.Dispose() }
