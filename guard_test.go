package pipz

import (
	"context"
	"errors"
	"testing"
)

func TestGuardPreConditionRejectsWithoutCallingProcessor(t *testing.T) {
	called := false
	proc := Apply("inner", func(_ context.Context, n int) (int, error) {
		called = true
		return n, nil
	})
	g := NewGuard("guard", proc).WithPreCondition(func(_ context.Context, n int) bool { return n > 0 })

	_, err := g.Process(context.Background(), -1)
	if err == nil {
		t.Fatal("expected pre-condition rejection")
	}
	if !errors.Is(err, ErrGuardPreCondition) {
		t.Errorf("expected ErrGuardPreCondition, got %v", err)
	}
	if called {
		t.Error("processor should not run when pre-condition fails")
	}
}

func TestGuardPostConditionRejectsAfterProcessorSucceeds(t *testing.T) {
	proc := Apply("inner", func(_ context.Context, n int) (int, error) { return n * 2, nil })
	g := NewGuard("guard", proc).WithPostCondition(func(_ context.Context, n int) bool { return n < 10 })

	_, err := g.Process(context.Background(), 10)
	if !errors.Is(err, ErrGuardPostCondition) {
		t.Fatalf("expected ErrGuardPostCondition, got %v", err)
	}

	v, err := g.Process(context.Background(), 2)
	if err != nil || v != 4 {
		t.Fatalf("expected pass-through success, got v=%d err=%v", v, err)
	}
}

func TestGuardWithNoConditionsAlwaysPasses(t *testing.T) {
	proc := Apply("inner", func(_ context.Context, n int) (int, error) { return n, nil })
	g := NewGuard("guard", proc)

	v, err := g.Process(context.Background(), 42)
	if err != nil || v != 42 {
		t.Fatalf("expected pass-through, got v=%d err=%v", v, err)
	}
}
