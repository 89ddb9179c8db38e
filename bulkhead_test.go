package pipz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestBulkheadRunsWithinPoolSize(t *testing.T) {
	b := NewBulkhead("bh", 2, 1)
	release := make(chan struct{})
	started := make(chan struct{}, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), 0, func(context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}

	time.Sleep(30 * time.Millisecond)
	if b.ActiveCount() != 2 {
		t.Errorf("active count = %d, want 2", b.ActiveCount())
	}
	close(release)
	wg.Wait()
}

func TestBulkheadQueueFullRejects(t *testing.T) {
	b := NewBulkhead("bh", 1, 1)
	release := make(chan struct{})

	go func() {
		_ = b.Execute(context.Background(), 0, func(context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	go func() {
		_ = b.Execute(context.Background(), 0, func(context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	err := b.Execute(context.Background(), 0, func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected queue-full rejection")
	}
	close(release)
}

func TestBulkheadOnIsolationFailureFires(t *testing.T) {
	b := NewBulkhead("bh", 1, 0)
	var fired bool
	b.OnIsolationFailure(func(error) { fired = true })

	release := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), 0, func(context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	err := b.Execute(context.Background(), 0, func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected rejection since the slot's queue has zero capacity")
	}
	if !fired {
		t.Error("expected OnIsolationFailure callback to fire")
	}
	close(release)
}

func TestBulkheadAcquireTimeout(t *testing.T) {
	fake := clockz.NewFakeClock()
	b := NewBulkhead("bh", 1, 1).WithClock(fake)
	release := make(chan struct{})

	go func() {
		_ = b.Execute(context.Background(), 0, func(context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- b.Execute(context.Background(), 50*time.Millisecond, func(context.Context) error { return nil })
	}()

	time.Sleep(10 * time.Millisecond)
	fake.Advance(50 * time.Millisecond)
	fake.BlockUntilReady()

	select {
	case err := <-done:
		var bhErr *Error[struct{}]
		if !errors.As(err, &bhErr) || !bhErr.Timeout {
			t.Fatalf("expected timeout error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("execute did not time out")
	}
	close(release)
}

func TestBulkheadCloseFailsPendingWaiters(t *testing.T) {
	b := NewBulkhead("bh", 1, 1)
	release := make(chan struct{})

	go func() {
		_ = b.Execute(context.Background(), 0, func(context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- b.Execute(context.Background(), 0, func(context.Context) error { return nil })
	}()
	time.Sleep(10 * time.Millisecond)

	if err := b.Close(); err != nil {
		t.Fatalf("unexpected error from Close: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("pending task must fail with a cancellation error when the bulkhead is closed")
		}
	case <-time.After(time.Second):
		t.Fatal("pending task never unblocked after Close")
	}
	close(release)
}
