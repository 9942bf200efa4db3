package decision

import (
	"context"
	"errors"
	"testing"
)

type fixedIntuition struct {
	result IntuitionResult
	err    error
}

func (f fixedIntuition) Match(ctx context.Context, contextKey string) (IntuitionResult, error) {
	return f.result, f.err
}

type countingEvolver struct{ calls int }

func (c *countingEvolver) RunEvolution(ctx context.Context, contextKey string) error {
	c.calls++
	return nil
}

func TestReflexRegistryRejectsDuplicateName(t *testing.T) {
	r := NewReflexRegistry()
	action := ReflexAction{Name: "greet", Type: "greeting", MinimumConfidence: 0.5,
		Handler: func(ctx context.Context, result IntuitionResult) (bool, error) { return true, nil }}
	if err := r.Register(action); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(action); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestCanExecuteConfidenceThreshold(t *testing.T) {
	a := ReflexAction{MinimumConfidence: 0.8}
	if a.CanExecute(0.7) {
		t.Fatal("expected 0.7 < 0.8 to fail")
	}
	if !a.CanExecute(0.8) {
		t.Fatal("expected 0.8 >= 0.8 to pass")
	}
}

func TestDecideFiresReflexWhenStrongAndConfident(t *testing.T) {
	registry := NewReflexRegistry()
	fired := false
	_ = registry.Register(ReflexAction{
		Name: "handle-greeting", Type: "greeting", MinimumConfidence: 0.5,
		Handler: func(ctx context.Context, result IntuitionResult) (bool, error) {
			fired = true
			return true, nil
		},
	})
	intuition := fixedIntuition{result: IntuitionResult{PatternMatch: "greeting", Confidence: 0.9, Strength: StrengthStrong}}
	gate := New(intuition, registry)
	evolver := &countingEvolver{}

	out, err := gate.Decide(context.Background(), "hello", 0.1, ResourcePlentiful, evolver)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !fired {
		t.Fatal("expected reflex handler to fire")
	}
	if out.System != 1 {
		t.Fatalf("expected System 1, got %d", out.System)
	}
	if evolver.calls != 0 {
		t.Fatal("expected evolution pipeline NOT to run when reflex intercepts")
	}
}

func TestDecideFallsThroughToSystem2WithoutMatchingReflex(t *testing.T) {
	registry := NewReflexRegistry()
	intuition := fixedIntuition{result: IntuitionResult{PatternMatch: "unknown", Confidence: 0.95, Strength: StrengthStrong}}
	gate := New(intuition, registry)
	evolver := &countingEvolver{}

	out, err := gate.Decide(context.Background(), "weird query", 0.1, ResourcePlentiful, evolver)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if out.System != 2 {
		t.Fatalf("expected System 2, got %d", out.System)
	}
	if evolver.calls != 1 {
		t.Fatalf("expected evolution pipeline to run once, got %d", evolver.calls)
	}
}

func TestDecideUncertaintyOverridesStrongIntuition(t *testing.T) {
	registry := NewReflexRegistry()
	fired := false
	_ = registry.Register(ReflexAction{
		Name: "r", Type: "greeting", MinimumConfidence: 0.1,
		Handler: func(ctx context.Context, result IntuitionResult) (bool, error) { fired = true; return true, nil },
	})
	intuition := fixedIntuition{result: IntuitionResult{PatternMatch: "greeting", Confidence: 0.99, Strength: StrengthStrong}}
	gate := New(intuition, registry)
	evolver := &countingEvolver{}

	out, err := gate.Decide(context.Background(), "ctx", 0.8, ResourcePlentiful, evolver)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if out.System != 2 {
		t.Fatalf("expected uncertainty override to force System 2, got %d", out.System)
	}
	if fired {
		t.Fatal("expected reflex handler NOT to fire under uncertainty override")
	}
	if evolver.calls != 1 {
		t.Fatal("expected evolution pipeline to run")
	}
}

func TestDecidePropagatesIntuitionError(t *testing.T) {
	intuition := fixedIntuition{err: errors.New("boom")}
	gate := New(intuition, NewReflexRegistry())
	if _, err := gate.Decide(context.Background(), "x", 0, ResourcePlentiful, nil); err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestDecideEmptyContextKeyDefaultsToIdleState(t *testing.T) {
	intuition := fixedIntuition{result: IntuitionResult{Strength: StrengthWeak, Confidence: 0.1}}
	gate := New(intuition, NewReflexRegistry())
	out, err := gate.Decide(context.Background(), "", 0, ResourcePlentiful, &countingEvolver{})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if out.ContextKey != "system_idle_state" {
		t.Fatalf("expected default context key, got %q", out.ContextKey)
	}
}
