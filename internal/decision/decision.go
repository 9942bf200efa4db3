// Package decision implements the System 1 / System 2 decision gate (§4.8):
// a fast-path reflex registry consulted before falling through to the full
// evolution pipeline, adapted from the teacher's internal/chief arbitration
// style (Chief.ShouldRunCeremony deciding whether a scheduled ceremony
// should fire at all, here deciding whether a registered reflex should
// intercept the tick instead of a ceremony).
package decision

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Strength is the qualitative confidence band an intuition match reports.
type Strength string

const (
	StrengthWeak     Strength = "weak"
	StrengthModerate Strength = "moderate"
	StrengthStrong   Strength = "strong"
)

// IntuitionResult is System 1's read of the current context (§4.8a).
type IntuitionResult struct {
	PatternMatch string
	Confidence   float64
	Strength     Strength
}

// IntuitionSource supplies pattern-matched confidence reads for a context
// key, swappable in tests behind this interface.
type IntuitionSource interface {
	Match(ctx context.Context, contextKey string) (IntuitionResult, error)
}

// ResourceStatus mirrors the §4.8 "ResourceStatus ∈ {scarce, critical}"
// bias input, derived by the caller from cost.Ledger.ExceedsDailyCap and
// nearby thresholds.
type ResourceStatus string

const (
	ResourcePlentiful ResourceStatus = "plentiful"
	ResourceScarce    ResourceStatus = "scarce"
	ResourceCritical  ResourceStatus = "critical"
)

const strongConfidenceThreshold = 0.85
const uncertaintyOverrideThreshold = 0.6

// ReflexAction is a registered fast-path handler (§3 ReflexAction).
type ReflexAction struct {
	Name              string
	Type              string
	MinimumConfidence float64
	Handler           func(ctx context.Context, result IntuitionResult) (bool, error)
}

// CanExecute reports can_execute(c) <=> c >= minimum_confidence (§3).
func (r ReflexAction) CanExecute(confidence float64) bool {
	return confidence >= r.MinimumConfidence
}

// ReflexRegistry is the name-unique table of registered reflexes: a map
// guarded by a sync.RWMutex, so Register, Lookup and Names are safe to call
// from any goroutine.
type ReflexRegistry struct {
	mu       sync.RWMutex
	reflexes map[string]ReflexAction
}

// NewReflexRegistry constructs an empty registry.
func NewReflexRegistry() *ReflexRegistry {
	return &ReflexRegistry{reflexes: make(map[string]ReflexAction)}
}

// Register adds a reflex, rejecting a duplicate name (§3 "name is unique in
// the registry").
func (r *ReflexRegistry) Register(action ReflexAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.reflexes[action.Name]; exists {
		return fmt.Errorf("decision: reflex %q already registered", action.Name)
	}
	r.reflexes[action.Name] = action
	return nil
}

// Lookup returns the reflex registered for typ, if any.
func (r *ReflexRegistry) Lookup(typ string) (ReflexAction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.reflexes {
		if a.Type == typ {
			return a, true
		}
	}
	return ReflexAction{}, false
}

// Names returns the registered reflex names, sorted, for status reporting.
func (r *ReflexRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.reflexes))
	for name := range r.reflexes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Outcome is the gate's verdict for one tick (§4.8).
type Outcome struct {
	System       int // 1 or 2
	ContextKey   string
	Intuition    IntuitionResult
	ReflexFired  string
	ReflexResult bool
	Reason       string
}

// Gate arbitrates between the fast reflex path (System 1) and the full
// evolution pipeline (System 2), grounded on Chief.ShouldRunCeremony's
// schedule-gate shape: a handful of independent veto conditions evaluated
// in a fixed order, any one of which can force System 2.
type Gate struct {
	Intuition IntuitionSource
	Reflexes  *ReflexRegistry
}

// New constructs a Gate.
func New(intuition IntuitionSource, reflexes *ReflexRegistry) *Gate {
	return &Gate{Intuition: intuition, Reflexes: reflexes}
}

// Evolver is the System 2 fallback: the full evolution pipeline, invoked
// when no reflex intercepts the tick.
type Evolver interface {
	RunEvolution(ctx context.Context, contextKey string) error
}

// Decide runs the §4.8 arbitration for one context key and, if System 2 is
// chosen, invokes evolve. uncertaintyScore and resourceStatus are supplied
// by the caller from internal/attention.UncertaintyProfile and the cost
// ledger respectively, since the gate itself holds no state about either.
func (g *Gate) Decide(ctx context.Context, contextKey string, uncertaintyScore float64, resourceStatus ResourceStatus, evolve Evolver) (Outcome, error) {
	if contextKey == "" {
		contextKey = "system_idle_state"
	}

	result, err := g.Intuition.Match(ctx, contextKey)
	if err != nil {
		return Outcome{}, fmt.Errorf("decision: intuition match: %w", err)
	}

	out := Outcome{ContextKey: contextKey, Intuition: result}

	// Uncertainty override: force System 2 regardless of intuition strength.
	if uncertaintyScore >= uncertaintyOverrideThreshold {
		out.System = 2
		out.Reason = "uncertainty override"
		return out, runSystem2(ctx, contextKey, evolve, &out)
	}

	strength := result.Strength
	if resourceStatus == ResourceScarce || resourceStatus == ResourceCritical {
		// §4.8: "gate biases toward System 1 ... when ResourceStatus in
		// {scarce, critical}" — a moderate match is promoted to strong so a
		// matching reflex gets a chance to save an expensive LLM round trip.
		if strength == StrengthModerate {
			strength = StrengthStrong
		}
	}

	if strength == StrengthStrong && result.Confidence >= strongConfidenceThreshold && g.Reflexes != nil {
		if action, ok := g.Reflexes.Lookup(result.PatternMatch); ok && action.CanExecute(result.Confidence) {
			fired, herr := action.Handler(ctx, result)
			if herr != nil {
				return out, fmt.Errorf("decision: reflex %q: %w", action.Name, herr)
			}
			out.ReflexFired = action.Name
			out.ReflexResult = fired
			if fired {
				out.System = 1
				out.Reason = "reflex intercepted tick"
				return out, nil
			}
		}
	}

	out.System = 2
	out.Reason = "no reflex intercepted"
	return out, runSystem2(ctx, contextKey, evolve, &out)
}

func runSystem2(ctx context.Context, contextKey string, evolve Evolver, out *Outcome) error {
	if evolve == nil {
		return nil
	}
	return evolve.RunEvolution(ctx, contextKey)
}
