package pipz

import (
	"context"
	"sync"
)

// Lazy defers construction of its wrapped processor until the first
// call, for cases where building the inner processor is itself
// expensive (opening a connection, compiling a pattern, loading
// configuration). No caching of results across calls — every call still
// invokes the (now-built) inner processor; only construction is
// deferred.
type Lazy[T any] struct {
	name    Name
	factory func() Chainable[T]

	mu    sync.Mutex
	once  sync.Once
	inner Chainable[T]
}

// NewLazy creates a Lazy decorator that builds its inner processor via
// factory on the first call to Process.
func NewLazy[T any](name Name, factory func() Chainable[T]) *Lazy[T] {
	return &Lazy[T]{name: name, factory: factory}
}

// Process builds the inner processor on first call, then delegates.
func (l *Lazy[T]) Process(ctx context.Context, data T) (T, error) {
	l.once.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.inner = l.factory()
	})

	l.mu.Lock()
	inner := l.inner
	l.mu.Unlock()

	return inner.Process(ctx, data)
}

// Name returns the name of this connector.
func (l *Lazy[T]) Name() Name { return l.name }

// Built reports whether the inner processor has been constructed yet.
func (l *Lazy[T]) Built() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner != nil
}

// Close releases the wrapped processor, if it was ever built. A Lazy
// that was never called has nothing to release.
func (l *Lazy[T]) Close() error {
	l.mu.Lock()
	inner := l.inner
	l.mu.Unlock()
	if inner == nil {
		return nil
	}
	return inner.Close()
}
