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

// Observability constants for the Deduplicate connector.
const (
	DeduplicateFirstTotal = metricz.Key("deduplicate.first.total")
	DeduplicateShareTotal = metricz.Key("deduplicate.shared.total")

	DeduplicateProcessSpan = tracez.Key("deduplicate.process")

	DeduplicateEventWindowOpened = hookz.Key("deduplicate.window_opened")
)

// DeduplicateEvent is emitted when a new dedup window opens for a key.
type DeduplicateEvent struct {
	Name      Name
	Timestamp time.Time
}

type dedupeEntry[V any] struct {
	value     V
	err       error
	expiresAt time.Time
	done      chan struct{}
}

// Deduplicate suppresses repeated invocations for the same key within a
// sliding window: the first call in a window executes and its result is
// handed to every subsequent call for that key that arrives before the
// window closes. Uses the same window-keyed map-of-results shape as
// `memoize.go`'s cache, generalized to a window rather than a permanent
// cache with no eviction policy needed.
type Deduplicate[K comparable, V any] struct {
	name   Name
	fn     func(context.Context, K) (V, error)
	window time.Duration
	clock  clockz.Clock

	mu      sync.Mutex
	entries map[K]*dedupeEntry[V]

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[DeduplicateEvent]
}

// NewDeduplicate creates a Deduplicate connector suppressing repeated
// calls for the same key within window.
func NewDeduplicate[K comparable, V any](name Name, fn func(context.Context, K) (V, error), window time.Duration) *Deduplicate[K, V] {
	metrics := metricz.New()
	metrics.Counter(DeduplicateFirstTotal)
	metrics.Counter(DeduplicateShareTotal)

	return &Deduplicate[K, V]{
		name:    name,
		fn:      fn,
		window:  window,
		clock:   clockz.RealClock,
		entries: make(map[K]*dedupeEntry[V]),
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[DeduplicateEvent](),
	}
}

// WithClock sets the clock used for window expiry. Intended for tests.
func (d *Deduplicate[K, V]) WithClock(clock clockz.Clock) *Deduplicate[K, V] {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock = clock
	return d
}

// OnWindowOpened registers a hook invoked whenever a new dedup window
// opens for a key (i.e. the inner call is about to execute).
func (d *Deduplicate[K, V]) OnWindowOpened(handler func(context.Context, DeduplicateEvent) error) error {
	_, err := d.hooks.Hook(DeduplicateEventWindowOpened, handler)
	return err
}

// Process executes fn for key if no window is open, or returns the
// existing window's result if one is.
func (d *Deduplicate[K, V]) Process(ctx context.Context, key K) (value V, err error) {
	var entry *dedupeEntry[V]
	defer func() {
		if r := recover(); r != nil {
			var zero V
			value = zero
			err = &Error[K]{Path: []Name{d.name}, InputData: key, Err: &panicError{processorName: d.name, sanitized: sanitizePanicMessage(r)}, Timestamp: d.clock.Now()}
			if entry != nil {
				entry.err = err
				close(entry.done)
			}
		}
	}()

	ctx, span := d.tracer.StartSpan(ctx, DeduplicateProcessSpan)
	defer span.Finish()

	now := d.clock.Now()

	d.mu.Lock()
	if existing, ok := d.entries[key]; ok && now.Before(existing.expiresAt) {
		d.mu.Unlock()
		d.metrics.Counter(DeduplicateShareTotal).Inc()
		<-existing.done
		return existing.value, existing.err
	}
	entry = &dedupeEntry[V]{expiresAt: now.Add(d.window), done: make(chan struct{})}
	d.entries[key] = entry
	d.mu.Unlock()

	d.metrics.Counter(DeduplicateFirstTotal).Inc()
	_ = d.hooks.Emit(ctx, DeduplicateEventWindowOpened, DeduplicateEvent{Name: d.name, Timestamp: now}) //nolint:errcheck

	entry.value, entry.err = d.fn(ctx, key)
	close(entry.done)

	return entry.value, entry.err
}

// Reset clears all open dedup windows.
func (d *Deduplicate[K, V]) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[K]*dedupeEntry[V])
}

// ResetArg clears the dedup window for a single key, if open.
func (d *Deduplicate[K, V]) ResetArg(key K) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, key)
}

// Name returns the name of this connector.
func (d *Deduplicate[K, V]) Name() Name { return d.name }

// Close clears all dedup windows and releases observability resources.
func (d *Deduplicate[K, V]) Close() error {
	d.Reset()
	d.hooks.Close()
	return nil
}
