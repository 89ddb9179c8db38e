package pipz

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
	"golang.org/x/sync/singleflight"
)

// Observability constants for the Share connector.
const (
	ShareLeaderTotal   = metricz.Key("share.leader.total")
	ShareFollowerTotal = metricz.Key("share.follower.total")

	ShareProcessSpan = tracez.Key("share.process")

	ShareEventCoalesced = hookz.Key("share.coalesced")
)

// ShareEvent is emitted whenever a call coalesces onto an in-flight
// execution rather than starting its own.
type ShareEvent struct {
	Name      Name
	Timestamp time.Time
}

// Share coalesces concurrent calls for the same key into a single
// in-flight execution: the first caller runs fn, every concurrent caller
// for the same key subscribes to that result, and once it completes the
// next call starts a fresh execution. No caching across non-overlapping
// calls, unlike Deduplicate. Grounded on
// `golang.org/x/sync/singleflight.Group`, the exact mechanism the pack's
// graph cache uses to deduplicate concurrent cache builds for the same
// key.
type Share[K comparable, V any] struct {
	name  Name
	fn    func(context.Context, K) (V, error)
	group singleflight.Group

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[ShareEvent]
}

// NewShare creates a Share connector coalescing concurrent calls by key.
func NewShare[K comparable, V any](name Name, fn func(context.Context, K) (V, error)) *Share[K, V] {
	metrics := metricz.New()
	metrics.Counter(ShareLeaderTotal)
	metrics.Counter(ShareFollowerTotal)

	return &Share[K, V]{
		name:    name,
		fn:      fn,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[ShareEvent](),
	}
}

// OnCoalesced registers a hook invoked whenever a call coalesces onto an
// in-flight execution instead of starting its own.
func (s *Share[K, V]) OnCoalesced(handler func(context.Context, ShareEvent) error) error {
	_, err := s.hooks.Hook(ShareEventCoalesced, handler)
	return err
}

// Process executes fn for key, or subscribes to an already in-flight
// execution for the same key.
func (s *Share[K, V]) Process(ctx context.Context, key K) (value V, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			value = zero
			err = &Error[K]{Path: []Name{s.name}, InputData: key, Err: &panicError{processorName: s.name, sanitized: sanitizePanicMessage(r)}, Timestamp: time.Now()}
		}
	}()

	ctx, span := s.tracer.StartSpan(ctx, ShareProcessSpan)
	defer span.Finish()

	groupKey := fmt.Sprintf("%v", key)

	leader := false
	result, err, shared := s.group.Do(groupKey, func() (interface{}, error) {
		leader = true
		s.metrics.Counter(ShareLeaderTotal).Inc()
		return s.fn(ctx, key)
	})

	// Do reports shared to the leader too once others joined; only
	// callers that did not run fn count as followers.
	if shared && !leader {
		s.metrics.Counter(ShareFollowerTotal).Inc()
		_ = s.hooks.Emit(ctx, ShareEventCoalesced, ShareEvent{Name: s.name, Timestamp: time.Now()}) //nolint:errcheck
	}

	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil //nolint:forcetypeassert
}

// Name returns the name of this connector.
func (s *Share[K, V]) Name() Name { return s.name }

// Close releases observability resources. The singleflight.Group holds
// no resources beyond in-flight goroutines, which complete on their own.
func (s *Share[K, V]) Close() error {
	s.hooks.Close()
	return nil
}
