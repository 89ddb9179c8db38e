package pipz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// ErrBatchCanceled is returned to every pending caller when Cancel is
// called on a Batch.
var ErrBatchCanceled = errors.New("batch: canceled while buffering")

// Observability constants for the Batch connector.
const (
	BatchExecutedTotal = metricz.Key("batch.executed.total")
	BatchItemsTotal    = metricz.Key("batch.items.total")
	BatchFlushedTotal  = metricz.Key("batch.flushed.total")
	BatchCanceledTotal = metricz.Key("batch.canceled.total")

	BatchExecuteSpan = tracez.Key("batch.execute")

	BatchEventExecuted = hookz.Key("batch.executed")
)

// BatchEvent is emitted each time the buffered items are executed.
type BatchEvent struct {
	Name      Name
	ItemCount int
	Timestamp time.Time
}

// batchItem holds one caller's buffered argument plus the channel its
// per-item outcome resolves on. Each item is tagged with a uuid so an
// executor reporting per-item outcomes out of submission order can still
// be matched back to the correct waiting caller.
type batchItem[A any] struct {
	id     uuid.UUID
	arg    A
	result chan error
}

// BatchResult is how a BatchExecutor reports a per-item outcome: items
// that fail independently do not fail the whole batch.
type BatchResult struct {
	ID  uuid.UUID
	Err error
}

// BatchExecutor processes the accumulated arguments of one batch. It
// returns one BatchResult per item (by ID) plus an overall error; if the
// overall error is non-nil, every item in the batch fails with it
// regardless of what's in the results slice.
type BatchExecutor[A any] func(ctx context.Context, ids []uuid.UUID, args []A) ([]BatchResult, error)

// Batch buffers arguments from many calls and executes them together,
// either when the buffer reaches maxSize or when maxWait elapses since
// the first buffered item. Per-item uuids (grounded on the pack's
// worker-queue idiom of tagging work items with `uuid.UUID` for
// completion tracking) let the executor report independent per-item
// failures without one bad item failing the whole batch.
type Batch[A any] struct {
	name     Name
	executor BatchExecutor[A]
	maxSize  int
	maxWait  time.Duration
	clock    clockz.Clock

	mu     sync.Mutex
	buffer []*batchItem[A]
	timer  chan struct{}

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[BatchEvent]
}

// NewBatch creates a Batch connector flushing at maxSize items or
// maxWait elapsed since the first buffered item, whichever comes first.
func NewBatch[A any](name Name, executor BatchExecutor[A], maxSize int, maxWait time.Duration) *Batch[A] {
	metrics := metricz.New()
	metrics.Counter(BatchExecutedTotal)
	metrics.Counter(BatchItemsTotal)
	metrics.Counter(BatchFlushedTotal)
	metrics.Counter(BatchCanceledTotal)

	return &Batch[A]{
		name:     name,
		executor: executor,
		maxSize:  maxSize,
		maxWait:  maxWait,
		clock:    clockz.RealClock,
		metrics:  metrics,
		tracer:   tracez.New(),
		hooks:    hookz.New[BatchEvent](),
	}
}

// WithClock sets the clock used for the maxWait timer. Intended for
// tests.
func (b *Batch[A]) WithClock(clock clockz.Clock) *Batch[A] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
	return b
}

// OnExecuted registers a hook invoked each time the buffer executes.
func (b *Batch[A]) OnExecuted(handler func(context.Context, BatchEvent) error) error {
	_, err := b.hooks.Hook(BatchEventExecuted, handler)
	return err
}

// Process buffers arg and blocks until this item's outcome resolves,
// either via a size/time-triggered batch execution, an explicit Flush,
// or a Cancel.
func (b *Batch[A]) Process(ctx context.Context, arg A) (result A, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero A
			result = zero
			err = &Error[A]{Path: []Name{b.name}, InputData: arg, Err: &panicError{processorName: b.name, sanitized: sanitizePanicMessage(r)}, Timestamp: b.clock.Now()}
		}
	}()

	item := &batchItem[A]{id: uuid.New(), arg: arg, result: make(chan error, 1)}

	b.mu.Lock()
	b.buffer = append(b.buffer, item)
	b.metrics.Counter(BatchItemsTotal).Inc()

	if len(b.buffer) == 1 {
		b.timer = make(chan struct{})
		go b.waitAndExecute(ctx, b.timer)
	}

	trigger := len(b.buffer) >= b.maxSize
	if trigger {
		b.executeLocked(ctx)
	}
	b.mu.Unlock()

	select {
	case itemErr := <-item.result:
		if itemErr != nil {
			return arg, &Error[A]{Path: []Name{b.name}, InputData: arg, Err: itemErr, Timestamp: b.clock.Now()}
		}
		return arg, nil
	case <-ctx.Done():
		return arg, &Error[A]{Path: []Name{b.name}, InputData: arg, Err: ctx.Err(), Canceled: errors.Is(ctx.Err(), context.Canceled), Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Timestamp: b.clock.Now()}
	}
}

func (b *Batch[A]) waitAndExecute(ctx context.Context, myTimer chan struct{}) {
	select {
	case <-b.clock.After(b.maxWait):
	case <-myTimer:
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != myTimer {
		return
	}
	b.executeLocked(ctx)
}

// executeLocked runs the executor over the current buffer and resolves
// every item's result channel. Caller must hold b.mu.
func (b *Batch[A]) executeLocked(ctx context.Context) {
	items := b.buffer
	b.buffer = nil
	if b.timer != nil {
		close(b.timer)
		b.timer = nil
	}
	if len(items) == 0 {
		return
	}

	ctx, span := b.tracer.StartSpan(ctx, BatchExecuteSpan)
	defer span.Finish()

	ids := make([]uuid.UUID, len(items))
	args := make([]A, len(items))
	for i, it := range items {
		ids[i] = it.id
		args[i] = it.arg
	}

	b.metrics.Counter(BatchExecutedTotal).Inc()
	_ = b.hooks.Emit(ctx, BatchEventExecuted, BatchEvent{Name: b.name, ItemCount: len(items), Timestamp: b.clock.Now()}) //nolint:errcheck

	results, overallErr := b.executor(ctx, ids, args)

	if overallErr != nil {
		for _, it := range items {
			it.result <- overallErr
		}
		return
	}

	outcomes := make(map[uuid.UUID]error, len(results))
	for _, r := range results {
		outcomes[r.ID] = r.Err
	}
	for _, it := range items {
		it.result <- outcomes[it.id]
	}
}

// Flush forces immediate execution of whatever is currently buffered.
func (b *Batch[A]) Flush(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.Counter(BatchFlushedTotal).Inc()
	b.executeLocked(ctx)
}

// Cancel fails every pending caller with ErrBatchCanceled and clears the
// buffer.
func (b *Batch[A]) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.buffer
	b.buffer = nil
	if b.timer != nil {
		close(b.timer)
		b.timer = nil
	}
	for _, it := range items {
		b.metrics.Counter(BatchCanceledTotal).Inc()
		it.result <- ErrBatchCanceled
	}
}

// Name returns the name of this connector.
func (b *Batch[A]) Name() Name { return b.name }

// Close cancels any pending items and releases observability resources.
func (b *Batch[A]) Close() error {
	b.Cancel()
	b.hooks.Close()
	return nil
}
