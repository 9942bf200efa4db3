package meta

import "testing"

func TestEvaluateHighSuccessRateYieldsHighEfficacy(t *testing.T) {
	eval := Evaluate(EvaluatorInput{RecentSuccessRate: 1.0, HasSimilarMemory: true, SimilarMemoryScore: 1.0})
	if eval.Status != HighEfficacy {
		t.Fatalf("expected high_efficacy, got %s (score=%.3f)", eval.Status, eval.EfficacyScore)
	}
}

func TestEvaluateProtectedTargetPenalized(t *testing.T) {
	withoutPenalty := Evaluate(EvaluatorInput{RecentSuccessRate: 0.5})
	withPenalty := Evaluate(EvaluatorInput{RecentSuccessRate: 0.5, TargetIsProtected: true})
	if withPenalty.EfficacyScore >= withoutPenalty.EfficacyScore {
		t.Fatalf("expected protected target penalty to lower score: %.3f vs %.3f", withPenalty.EfficacyScore, withoutPenalty.EfficacyScore)
	}
}

func TestEvaluateLowSuccessRateYieldsLowEfficacy(t *testing.T) {
	eval := Evaluate(EvaluatorInput{RecentSuccessRate: 0.0, TargetIsProtected: true, TargetLineCount: 300})
	if eval.Status != LowEfficacy {
		t.Fatalf("expected low_efficacy, got %s (score=%.3f)", eval.Status, eval.EfficacyScore)
	}
}

func TestAdaptHighComplexityAlwaysDeepReflection(t *testing.T) {
	eval := Evaluate(EvaluatorInput{RecentSuccessRate: 1.0})
	if mode := Adapt(eval, ComplexityHigh, 0); mode != ModeDeepReflection {
		t.Fatalf("expected DEEP_REFLECTION, got %s", mode)
	}
}

func TestAdaptManyErrorsForcesCautious(t *testing.T) {
	eval := Evaluate(EvaluatorInput{RecentSuccessRate: 1.0})
	if mode := Adapt(eval, ComplexityLow, 3); mode != ModeCautious {
		t.Fatalf("expected CAUTIOUS, got %s", mode)
	}
}

func TestAdaptHighEfficacyLowErrorsAccelerates(t *testing.T) {
	eval := Evaluation{EfficacyScore: 0.9}
	if mode := Adapt(eval, ComplexityLow, 1); mode != ModeAccelerated {
		t.Fatalf("expected ACCELERATED, got %s", mode)
	}
}

func TestAdaptLowEfficacyCautious(t *testing.T) {
	eval := Evaluation{EfficacyScore: 0.2}
	if mode := Adapt(eval, ComplexityLow, 0); mode != ModeCautious {
		t.Fatalf("expected CAUTIOUS, got %s", mode)
	}
}

func TestAdaptDefaultNormal(t *testing.T) {
	eval := Evaluation{EfficacyScore: 0.5}
	if mode := Adapt(eval, ComplexityMedium, 0); mode != ModeNormal {
		t.Fatalf("expected NORMAL, got %s", mode)
	}
}

func TestTunerAppliesIntervalMultiplier(t *testing.T) {
	tuner := Tuner{Base: 3600_000_000_000} // 3600s in nanoseconds
	params := tuner.Apply(ModeCautious)
	if params.EvolutionInterval != tuner.Base*3/2 {
		t.Fatalf("expected 1.5x base interval, got %v", params.EvolutionInterval)
	}
	if params.ActiveMode != string(ModeCautious) {
		t.Fatalf("expected active mode recorded, got %q", params.ActiveMode)
	}
}

func TestTuningForUnknownModeDefaultsToNormal(t *testing.T) {
	if got := TuningFor("nonsense"); got != TuningFor(ModeNormal) {
		t.Fatalf("expected unknown mode to fall back to NORMAL tuning, got %+v", got)
	}
}
