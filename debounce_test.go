package pipz

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestDebounceTrailingCoalescesBurst(t *testing.T) {
	fake := clockz.NewFakeClock()
	var mu sync.Mutex
	var calls int

	proc := Apply("inner", func(_ context.Context, n int) (int, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return n, nil
	})

	d := NewDebounce("deb", proc, 50*time.Millisecond).WithClock(fake)

	results := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func(n int) {
			v, _ := d.Process(context.Background(), n)
			results <- v
		}(i)
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(10 * time.Millisecond)
	fake.Advance(50 * time.Millisecond)
	fake.BlockUntilReady()

	for i := 0; i < 3; i++ {
		select {
		case v := <-results:
			if v != 2 {
				t.Errorf("result = %d, want 2 (last call in burst)", v)
			}
		case <-time.After(time.Second):
			t.Fatal("burst never resolved")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("inner processor called %d times, want 1", calls)
	}
}

func TestDebounceLeadingFiresImmediately(t *testing.T) {
	var mu sync.Mutex
	var calls int
	proc := Apply("inner", func(_ context.Context, n int) (int, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return n, nil
	})

	d := NewDebounce("deb", proc, 50*time.Millisecond).WithMode(DebounceLeading)

	v, err := d.Process(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1 {
		t.Errorf("result = %d, want 1", v)
	}

	v2, err := d.Process(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v2 != 1 {
		t.Errorf("coalesced call result = %d, want 1 (leading result)", v2)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("inner processor called %d times, want 1", calls)
	}
}

func TestDebounceReset(t *testing.T) {
	proc := Apply("inner", func(_ context.Context, n int) (int, error) { return n, nil })
	d := NewDebounce("deb", proc, time.Hour)

	go func() { _, _ = d.Process(context.Background(), 1) }()
	time.Sleep(10 * time.Millisecond)
	d.Reset()

	if d.inBurst {
		t.Error("Reset should clear burst state")
	}
}
