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

// DebounceMode selects which calls in a burst actually execute.
type DebounceMode int

const (
	// DebounceTrailing fires duration after the most recent call in a
	// burst with no newer call; every call in the burst resolves to that
	// trailing result.
	DebounceTrailing DebounceMode = iota
	// DebounceLeading fires immediately on the first call of a burst;
	// later calls within duration coalesce onto the leading result.
	DebounceLeading
	// DebounceBoth fires the leading call immediately and additionally
	// fires a trailing call at burst end if there were two or more calls.
	DebounceBoth
)

// Observability constants for the Debounce connector.
const (
	DebounceProcessedTotal = metricz.Key("debounce.processed.total")
	DebounceCoalescedTotal = metricz.Key("debounce.coalesced.total")
	DebounceFiredTotal     = metricz.Key("debounce.fired.total")

	DebounceProcessSpan = tracez.Key("debounce.process")

	DebounceEventFired = hookz.Key("debounce.fired")
)

// DebounceEvent is emitted each time a burst actually invokes the inner
// processor.
type DebounceEvent struct {
	Name      Name
	CallCount int
	Timestamp time.Time
}

type debounceResult[T any] struct {
	value T
	err   error
}

// Debounce coalesces a burst of calls into one (or two, in DebounceBoth
// mode) execution of the wrapped processor.
type Debounce[T any] struct {
	processor Chainable[T]
	name      Name
	duration  time.Duration
	mode      DebounceMode
	clock     clockz.Clock

	mu      sync.Mutex
	cancel  chan struct{}
	pending T
	waiters []chan debounceResult[T]
	callSeq int
	leading *debounceResult[T]
	inBurst bool

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[DebounceEvent]
}

// NewDebounce creates a Debounce decorator in trailing mode by default.
func NewDebounce[T any](name Name, processor Chainable[T], duration time.Duration) *Debounce[T] {
	metrics := metricz.New()
	metrics.Counter(DebounceProcessedTotal)
	metrics.Counter(DebounceCoalescedTotal)
	metrics.Counter(DebounceFiredTotal)

	return &Debounce[T]{
		name:      name,
		processor: processor,
		duration:  duration,
		mode:      DebounceTrailing,
		clock:     clockz.RealClock,
		metrics:   metrics,
		tracer:    tracez.New(),
		hooks:     hookz.New[DebounceEvent](),
	}
}

// WithMode sets the debounce mode.
func (d *Debounce[T]) WithMode(mode DebounceMode) *Debounce[T] {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = mode
	return d
}

// WithClock sets the clock used for scheduling. Intended for tests.
func (d *Debounce[T]) WithClock(clock clockz.Clock) *Debounce[T] {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock = clock
	return d
}

// Process registers this call in the current burst and blocks until the
// burst resolves.
func (d *Debounce[T]) Process(ctx context.Context, data T) (result T, err error) {
	defer recoverFromPanic(&result, &err, d.name, data)

	d.metrics.Counter(DebounceProcessedTotal).Inc()
	ctx, span := d.tracer.StartSpan(ctx, DebounceProcessSpan)
	defer span.Finish()

	d.mu.Lock()
	d.pending = data
	d.callSeq++

	firstOfBurst := !d.inBurst
	if firstOfBurst {
		d.inBurst = true
	} else {
		d.metrics.Counter(DebounceCoalescedTotal).Inc()
	}

	if firstOfBurst && (d.mode == DebounceLeading || d.mode == DebounceBoth) {
		res, procErr := d.processor.Process(ctx, data)
		lr := debounceResult[T]{value: res, err: procErr}
		d.leading = &lr
		d.metrics.Counter(DebounceFiredTotal).Inc()
		_ = d.hooks.Emit(ctx, DebounceEventFired, DebounceEvent{Name: d.name, CallCount: d.callSeq, Timestamp: d.clock.Now()}) //nolint:errcheck

		if d.mode == DebounceLeading {
			d.scheduleReset()
			d.mu.Unlock()
			return res, procErr
		}
		// DebounceBoth: the leading call's own future resolves now; a
		// trailing fire (if a second call arrives) is for later callers.
		d.scheduleFire(ctx)
		d.mu.Unlock()
		return res, procErr
	}

	if !firstOfBurst && d.mode == DebounceLeading {
		leading := d.leading
		d.scheduleReset()
		d.mu.Unlock()
		return leading.value, leading.err
	}

	ch := make(chan debounceResult[T], 1)
	d.waiters = append(d.waiters, ch)
	d.scheduleFire(ctx)
	d.mu.Unlock()

	select {
	case res := <-ch:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		return zero, &Error[T]{Err: ctx.Err(), InputData: data, Path: []Name{d.name}, Canceled: true, Timestamp: d.clock.Now()}
	}
}

// scheduleFire (re)schedules the trailing timer. Caller must hold d.mu.
func (d *Debounce[T]) scheduleFire(ctx context.Context) {
	if d.cancel != nil {
		close(d.cancel)
	}
	cancel := make(chan struct{})
	d.cancel = cancel
	duration := d.duration

	go func() {
		select {
		case <-d.clock.After(duration):
			d.fire(ctx)
		case <-cancel:
		}
	}()
}

// scheduleReset (re)schedules the burst-end timer used by leading mode.
// Caller must hold d.mu.
func (d *Debounce[T]) scheduleReset() {
	if d.cancel != nil {
		close(d.cancel)
	}
	cancel := make(chan struct{})
	d.cancel = cancel
	duration := d.duration

	go func() {
		select {
		case <-d.clock.After(duration):
			d.mu.Lock()
			d.inBurst = false
			d.leading = nil
			d.callSeq = 0
			d.mu.Unlock()
		case <-cancel:
		}
	}()
}

func (d *Debounce[T]) fire(ctx context.Context) {
	d.mu.Lock()
	callCount := d.callSeq
	data := d.pending
	waiters := d.waiters
	d.waiters = nil
	d.inBurst = false
	d.leading = nil
	d.callSeq = 0
	d.cancel = nil
	d.mu.Unlock()

	if d.mode == DebounceBoth && callCount < 2 {
		// A single-call burst in "both" mode already resolved via the
		// leading branch; nothing further to fire.
		return
	}

	res, err := d.processor.Process(ctx, data)
	d.metrics.Counter(DebounceFiredTotal).Inc()
	_ = d.hooks.Emit(ctx, DebounceEventFired, DebounceEvent{Name: d.name, CallCount: callCount, Timestamp: d.clock.Now()}) //nolint:errcheck

	for _, ch := range waiters {
		ch <- debounceResult[T]{value: res, err: err}
	}
}

// Reset cancels any pending timer and clears burst state.
func (d *Debounce[T]) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		close(d.cancel)
		d.cancel = nil
	}
	d.inBurst = false
	d.leading = nil
	d.callSeq = 0
	d.waiters = nil
}

// Name returns the name of this connector.
func (d *Debounce[T]) Name() Name {
	return d.name
}

// Metrics returns the metrics registry for this connector.
func (d *Debounce[T]) Metrics() *metricz.Registry {
	return d.metrics
}

// Tracer returns the tracer for this connector.
func (d *Debounce[T]) Tracer() *tracez.Tracer {
	return d.tracer
}

// Close cancels any pending timer and shuts down observability components.
func (d *Debounce[T]) Close() error {
	d.Reset()
	if d.tracer != nil {
		d.tracer.Close()
	}
	d.hooks.Close()
	return nil
}

// OnFired registers a handler invoked whenever a burst actually executes
// the inner processor.
func (d *Debounce[T]) OnFired(handler func(context.Context, DebounceEvent) error) error {
	_, err := d.hooks.Hook(DebounceEventFired, handler)
	return err
}
