package pipz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestSemaphoreBasicAcquireRelease(t *testing.T) {
	s := NewSemaphore("sem", 2)
	if err := s.Acquire(context.Background(), 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Acquire(context.Background(), 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.AvailablePermits() != 0 {
		t.Errorf("available = %d, want 0", s.AvailablePermits())
	}
	s.Release()
	if s.AvailablePermits() != 1 {
		t.Errorf("available = %d, want 1", s.AvailablePermits())
	}
}

func TestSemaphoreBlocksWhenSaturated(t *testing.T) {
	s := NewSemaphore("sem", 1)
	if err := s.Acquire(context.Background(), 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Acquire(context.Background(), 0, 0)
	}()

	time.Sleep(20 * time.Millisecond)
	if s.QueueLength() != 1 {
		t.Fatalf("queue length = %d, want 1", s.QueueLength())
	}

	s.Release()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired after release")
	}
}

func TestSemaphorePriorityOrdering(t *testing.T) {
	s := NewSemaphore("sem", 1).WithQueueMode(SemaphorePriority)
	if err := s.Acquire(context.Background(), 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var order []int
	done := make(chan struct{}, 3)
	acquire := func(priority int) {
		_ = s.Acquire(context.Background(), 0, priority)
		order = append(order, priority)
		done <- struct{}{}
	}

	go acquire(1)
	time.Sleep(10 * time.Millisecond)
	go acquire(5)
	time.Sleep(10 * time.Millisecond)
	go acquire(3)
	time.Sleep(10 * time.Millisecond)

	s.Release()
	<-done
	s.Release()
	<-done
	s.Release()
	<-done

	want := []int{5, 3, 1}
	for i, p := range want {
		if order[i] != p {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}
}

func TestSemaphoreOnWaitingPosition(t *testing.T) {
	s := NewSemaphore("sem", 1)
	var positions []int
	s.OnWaiting(func(position int) {
		positions = append(positions, position)
	})
	if err := s.Acquire(context.Background(), 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	go func() { _ = s.Acquire(context.Background(), 0, 0) }()
	time.Sleep(10 * time.Millisecond)
	go func() { _ = s.Acquire(context.Background(), 0, 0) }()
	time.Sleep(10 * time.Millisecond)

	if len(positions) != 2 || positions[0] != 1 || positions[1] != 2 {
		t.Errorf("positions = %v, want [1 2]", positions)
	}
}

func TestSemaphoreAcquireTimeout(t *testing.T) {
	fake := clockz.NewFakeClock()
	s := NewSemaphore("sem", 1).WithClock(fake)
	if err := s.Acquire(context.Background(), 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Acquire(context.Background(), 50*time.Millisecond, 0)
	}()

	time.Sleep(10 * time.Millisecond)
	fake.Advance(50 * time.Millisecond)
	fake.BlockUntilReady()

	select {
	case err := <-done:
		var semErr *Error[struct{}]
		if !errors.As(err, &semErr) || !semErr.Timeout {
			t.Fatalf("expected timeout error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire did not time out")
	}
}

func TestSemaphoreCloseFailsPendingWaiters(t *testing.T) {
	s := NewSemaphore("sem", 1)
	if err := s.Acquire(context.Background(), 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Acquire(context.Background(), 0, 0)
	}()
	time.Sleep(10 * time.Millisecond)

	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error from Close: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("pending waiter must fail with a cancellation error when the semaphore is closed")
		}
	case <-time.After(time.Second):
		t.Fatal("pending waiter never unblocked after Close")
	}
}
