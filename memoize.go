package pipz

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// EvictionPolicy selects which entry a Memoize cache evicts once it is at
// capacity.
type EvictionPolicy int

const (
	// EvictLRU evicts the entry with the oldest last-access time.
	EvictLRU EvictionPolicy = iota
	// EvictLFU evicts the entry with the lowest access count, ties broken
	// by oldest insertion.
	EvictLFU
	// EvictFIFO evicts the entry with the oldest insertion time
	// regardless of access.
	EvictFIFO
)

// Observability constants for the Memoize connector.
const (
	MemoizeHitTotal      = metricz.Key("memoize.hit.total")
	MemoizeMissTotal     = metricz.Key("memoize.miss.total")
	MemoizeEvictionTotal = metricz.Key("memoize.eviction.total")

	MemoizeProcessSpan = tracez.Key("memoize.process")

	MemoizeEventEvicted = hookz.Key("memoize.evicted")
)

// MemoizeEvent is emitted when an entry is evicted from the cache.
type MemoizeEvent struct {
	Name      Name
	Timestamp time.Time
}

// cacheEntry holds a single memoized value plus the bookkeeping every
// eviction policy needs: insertion time (FIFO/TTL), access count (LFU),
// and the list element backing whichever policy's ordering is active.
type cacheEntry[V any] struct {
	value      V
	insertedAt time.Time
	accessedAt time.Time
	accessCnt  int
	seq        int64
	element    *list.Element
}

// Memoize caches the successful results of a wrapped function, keyed by
// argument. A failed call never populates the cache. Grounded on the
// list-backed LRU eviction shape used for graph caching elsewhere in the
// corpus, generalized here to all three eviction policies named by the
// contract.
type Memoize[K comparable, V any] struct {
	name    Name
	fn      func(context.Context, K) (V, error)
	ttl     time.Duration
	maxSize int
	policy  EvictionPolicy
	clock   clockz.Clock

	mu      sync.Mutex
	entries map[K]*cacheEntry[V]
	order   *list.List // front = most-recently-relevant per policy
	seq     int64

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[MemoizeEvent]
}

// NewMemoize creates a Memoize cache with no TTL and unbounded size by
// default; use WithTTL and WithMaxSize to bound it.
func NewMemoize[K comparable, V any](name Name, fn func(context.Context, K) (V, error)) *Memoize[K, V] {
	metrics := metricz.New()
	metrics.Counter(MemoizeHitTotal)
	metrics.Counter(MemoizeMissTotal)
	metrics.Counter(MemoizeEvictionTotal)

	return &Memoize[K, V]{
		name:    name,
		fn:      fn,
		policy:  EvictLRU,
		clock:   clockz.RealClock,
		entries: make(map[K]*cacheEntry[V]),
		order:   list.New(),
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[MemoizeEvent](),
	}
}

// WithTTL sets a per-entry expiry. Zero disables expiry (the default).
func (m *Memoize[K, V]) WithTTL(ttl time.Duration) *Memoize[K, V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl = ttl
	return m
}

// WithMaxSize sets the cache's capacity and eviction policy. A maxSize of
// zero means unbounded (the default).
func (m *Memoize[K, V]) WithMaxSize(maxSize int, policy EvictionPolicy) *Memoize[K, V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxSize = maxSize
	m.policy = policy
	return m
}

// WithClock sets the clock used for TTL expiry. Intended for tests.
func (m *Memoize[K, V]) WithClock(clock clockz.Clock) *Memoize[K, V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
	return m
}

// OnEvicted registers a hook invoked whenever an entry is evicted.
func (m *Memoize[K, V]) OnEvicted(handler func(context.Context, MemoizeEvent) error) error {
	_, err := m.hooks.Hook(MemoizeEventEvicted, handler)
	return err
}

// Metrics returns the metrics registry for this connector.
func (m *Memoize[K, V]) Metrics() *metricz.Registry { return m.metrics }

// Tracer returns the tracer for this connector.
func (m *Memoize[K, V]) Tracer() *tracez.Tracer { return m.tracer }

// Process looks up key in the cache, returning the cached value on a fresh
// hit or invoking fn on a miss or expired entry.
func (m *Memoize[K, V]) Process(ctx context.Context, key K) (value V, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			value = zero
			err = &Error[K]{
				Path:      []Name{m.name},
				InputData: key,
				Err:       &panicError{processorName: m.name, sanitized: sanitizePanicMessage(r)},
				Timestamp: m.clock.Now(),
			}
		}
	}()

	ctx, span := m.tracer.StartSpan(ctx, MemoizeProcessSpan)
	defer span.Finish()

	now := m.clock.Now()

	m.mu.Lock()
	if entry, ok := m.entries[key]; ok {
		if m.ttl == 0 || now.Sub(entry.insertedAt) < m.ttl {
			entry.accessedAt = now
			entry.accessCnt++
			if m.policy == EvictLRU {
				m.order.MoveToFront(entry.element)
			}
			v := entry.value
			m.mu.Unlock()
			m.metrics.Counter(MemoizeHitTotal).Inc()
			return v, nil
		}
		m.removeLocked(key, entry)
	}
	m.mu.Unlock()

	m.metrics.Counter(MemoizeMissTotal).Inc()

	v, fnErr := m.fn(ctx, key)
	if fnErr != nil {
		var zero V
		return zero, fnErr
	}

	m.mu.Lock()
	m.store(key, v, now, ctx)
	m.mu.Unlock()

	return v, nil
}

// store inserts a freshly computed value, evicting per policy if at
// capacity. Caller must hold m.mu.
func (m *Memoize[K, V]) store(key K, value V, now time.Time, ctx context.Context) {
	if m.maxSize > 0 && len(m.entries) >= m.maxSize {
		if _, exists := m.entries[key]; !exists {
			m.evictOne(ctx)
		}
	}

	m.seq++
	entry := &cacheEntry[V]{value: value, insertedAt: now, accessedAt: now, accessCnt: 1, seq: m.seq}
	entry.element = m.order.PushFront(key)
	m.entries[key] = entry
}

// evictOne removes the entry dictated by the active policy. Caller must
// hold m.mu.
func (m *Memoize[K, V]) evictOne(ctx context.Context) {
	var targetKey K
	var found bool

	switch m.policy {
	case EvictLRU, EvictFIFO:
		if back := m.order.Back(); back != nil {
			targetKey = back.Value.(K) //nolint:forcetypeassert
			found = true
		}
	case EvictLFU:
		var lowestCnt int
		var lowestSeq int64
		for k, e := range m.entries {
			if !found || e.accessCnt < lowestCnt || (e.accessCnt == lowestCnt && e.seq < lowestSeq) {
				targetKey = k
				lowestCnt = e.accessCnt
				lowestSeq = e.seq
				found = true
			}
		}
	}

	if found {
		if entry, ok := m.entries[targetKey]; ok {
			m.removeLocked(targetKey, entry)
			m.metrics.Counter(MemoizeEvictionTotal).Inc()
			_ = m.hooks.Emit(ctx, MemoizeEventEvicted, MemoizeEvent{Name: m.name, Timestamp: m.clock.Now()}) //nolint:errcheck
		}
	}
}

// removeLocked deletes an entry from both the map and the ordering list.
// Caller must hold m.mu.
func (m *Memoize[K, V]) removeLocked(key K, entry *cacheEntry[V]) {
	m.order.Remove(entry.element)
	delete(m.entries, key)
}

// Clear removes all cached entries.
func (m *Memoize[K, V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[K]*cacheEntry[V])
	m.order = list.New()
}

// ClearArg removes the cached entry for a single key, if present.
func (m *Memoize[K, V]) ClearArg(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[key]; ok {
		m.removeLocked(key, entry)
	}
}

// Len returns the number of entries currently cached.
func (m *Memoize[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Name returns the name of this connector.
func (m *Memoize[K, V]) Name() Name { return m.name }

// Close clears the cache and releases observability resources. The
// wrapped function is owned by the caller.
func (m *Memoize[K, V]) Close() error {
	m.Clear()
	m.hooks.Close()
	return nil
}
