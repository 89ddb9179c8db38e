package pipz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestMemoizeCachesSuccessfulResult(t *testing.T) {
	var mu sync.Mutex
	var calls int
	m := NewMemoize("memo", func(_ context.Context, k int) (int, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return k * 2, nil
	})

	for i := 0; i < 3; i++ {
		v, err := m.Process(context.Background(), 5)
		if err != nil || v != 10 {
			t.Fatalf("call %d: v=%d err=%v", i, v, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("inner fn called %d times, want 1", calls)
	}
}

func TestMemoizeDoesNotCacheFailure(t *testing.T) {
	var calls int
	m := NewMemoize("memo", func(_ context.Context, k int) (int, error) {
		calls++
		return 0, errors.New("boom")
	})

	for i := 0; i < 2; i++ {
		if _, err := m.Process(context.Background(), 1); err == nil {
			t.Fatal("expected error from failing inner fn")
		}
	}

	if calls != 2 {
		t.Errorf("failed calls should not be cached, inner fn called %d times, want 2", calls)
	}
}

func TestMemoizeTTLExpiry(t *testing.T) {
	fake := clockz.NewFakeClock()
	var calls int
	m := NewMemoize("memo", func(_ context.Context, k int) (int, error) {
		calls++
		return k, nil
	}).WithTTL(100 * time.Millisecond).WithClock(fake)

	m.Process(context.Background(), 1)
	fake.Advance(50 * time.Millisecond)
	m.Process(context.Background(), 1)
	if calls != 1 {
		t.Fatalf("entry expired too early, calls=%d", calls)
	}

	fake.Advance(60 * time.Millisecond)
	m.Process(context.Background(), 1)
	if calls != 2 {
		t.Errorf("entry should have expired and re-executed, calls=%d", calls)
	}
}

func TestMemoizeLRUEviction(t *testing.T) {
	m := NewMemoize("memo", func(_ context.Context, k int) (int, error) {
		return k, nil
	}).WithMaxSize(2, EvictLRU)

	m.Process(context.Background(), 1) // k1
	m.Process(context.Background(), 2) // k2
	m.Process(context.Background(), 1) // k1 re-accessed, now MRU
	m.Process(context.Background(), 3) // k3 should evict k2 (LRU)

	if m.Len() != 2 {
		t.Fatalf("cache size = %d, want 2", m.Len())
	}
	if _, ok := m.entries[2]; ok {
		t.Error("key 2 should have been evicted as least recently used")
	}
	if _, ok := m.entries[1]; !ok {
		t.Error("key 1 should remain cached")
	}
}

func TestMemoizeClearArg(t *testing.T) {
	var calls int
	m := NewMemoize("memo", func(_ context.Context, k int) (int, error) {
		calls++
		return k, nil
	})

	m.Process(context.Background(), 1)
	m.ClearArg(1)
	m.Process(context.Background(), 1)

	if calls != 2 {
		t.Errorf("calls = %d, want 2 after ClearArg forced a recompute", calls)
	}
}
