package pipz

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestDelayBeforeWaitsThenRuns(t *testing.T) {
	fake := clockz.NewFakeClock()
	var ran time.Time
	proc := Apply("inner", func(_ context.Context, n int) (int, error) {
		ran = fake.Now()
		return n, nil
	})

	d := NewDelay("delay", proc, 50*time.Millisecond).WithClock(fake)

	done := make(chan int, 1)
	go func() {
		v, _ := d.Process(context.Background(), 1)
		done <- v
	}()

	time.Sleep(10 * time.Millisecond)
	start := fake.Now()
	fake.Advance(50 * time.Millisecond)
	fake.BlockUntilReady()

	select {
	case v := <-done:
		if v != 1 {
			t.Errorf("result = %d, want 1", v)
		}
	case <-time.After(time.Second):
		t.Fatal("delay never resolved")
	}

	if !ran.After(start) {
		t.Error("inner processor should have run only after the delay elapsed")
	}
}

func TestDelayAfterRunsThenWaits(t *testing.T) {
	fake := clockz.NewFakeClock()
	var ranBeforeWait bool
	proc := Apply("inner", func(_ context.Context, n int) (int, error) {
		ranBeforeWait = true
		return n, nil
	})

	d := NewDelay("delay", proc, 50*time.Millisecond).WithMode(DelayAfter).WithClock(fake)

	done := make(chan int, 1)
	go func() {
		v, _ := d.Process(context.Background(), 2)
		done <- v
	}()

	time.Sleep(10 * time.Millisecond)
	if !ranBeforeWait {
		t.Error("inner processor should run before the post-delay in DelayAfter mode")
	}

	fake.Advance(50 * time.Millisecond)
	fake.BlockUntilReady()

	select {
	case v := <-done:
		if v != 2 {
			t.Errorf("result = %d, want 2", v)
		}
	case <-time.After(time.Second):
		t.Fatal("delay never resolved")
	}
}

func TestDelayCanceledAbandonsWait(t *testing.T) {
	proc := Apply("inner", func(_ context.Context, n int) (int, error) { return n, nil })
	d := NewDelay("delay", proc, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := d.Process(ctx, 1)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error when context is canceled during the delay")
		}
	case <-time.After(time.Second):
		t.Fatal("canceled delay never resolved")
	}
}
