package pipz

import (
	"context"
	"testing"
)

func TestLazyDefersConstructionUntilFirstCall(t *testing.T) {
	var built int
	l := NewLazy("lazy", func() Chainable[int] {
		built++
		return Apply("inner", func(_ context.Context, n int) (int, error) { return n + 1, nil })
	})

	if l.Built() {
		t.Fatal("factory should not run before the first call")
	}
	if built != 0 {
		t.Fatalf("built = %d before first call, want 0", built)
	}

	v, err := l.Process(context.Background(), 1)
	if err != nil || v != 2 {
		t.Fatalf("v=%d err=%v", v, err)
	}
	if built != 1 {
		t.Fatalf("built = %d after first call, want 1", built)
	}

	l.Process(context.Background(), 1)
	if built != 1 {
		t.Fatalf("built = %d after second call, want 1 (factory runs once)", built)
	}
}

func TestLazyCloseOnNeverBuiltIsNoOp(t *testing.T) {
	l := NewLazy("lazy", func() Chainable[int] {
		t.Fatal("factory should never run")
		return nil
	})

	if err := l.Close(); err != nil {
		t.Fatalf("Close on a never-built Lazy should be a no-op, got %v", err)
	}
}
