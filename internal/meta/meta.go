// Package meta implements the Meta Cycle (§4.9): the Evaluator scores recent
// efficacy, the Adapter maps scores to a StrategyMode by decision table, and
// the Tuner translates the mode into concrete RuntimeParameters for the next
// tick. Grounded on the teacher's internal/learner cycle-worker shape
// (cycle.go), scoring-weights style (quality.go), and decision-table-to-
// output-struct mapping (recommendations.go), narrowed from a portfolio-wide
// learner to this spec's single-engine Evaluator/Adapter/Tuner triad.
package meta

import (
	"time"

	"github.com/antigravity-dev/ain/internal/config"
)

// EfficacyStatus buckets an Evaluator score (§4.9).
type EfficacyStatus string

const (
	HighEfficacy EfficacyStatus = "high_efficacy"
	Uncertain    EfficacyStatus = "uncertain"
	LowEfficacy  EfficacyStatus = "low_efficacy"
)

// Complexity classifies the target file a pending/recent evolution touches,
// feeding both the Evaluator's penalty term and the Adapter's decision
// table.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Evaluation is the Evaluator's {confidence_score, efficacy_score, status,
// factors} output (§4.7 step 4).
type Evaluation struct {
	ConfidenceScore float64
	EfficacyScore   float64
	Status          EfficacyStatus
	Factors         map[string]float64
}

// EvaluatorInput bundles the recent-history signals the Evaluator scores.
type EvaluatorInput struct {
	RecentSuccessRate   float64 // [0,1] over a recent window of evolutions
	HasSimilarMemory    bool    // a qualifying past memory was found in vector search
	SimilarMemoryScore  float64 // [0,1] similarity quality of the best match, if any
	TargetIsProtected   bool
	TargetLineCount     int
	TargetIsNewFile     bool
	ErrorCount          int // errors observed in the current evaluation window
	Complexity          Complexity
}

const (
	successRateWeight = 0.2
	memoryBonusWeight = 0.2

	protectedPenalty = -0.3
	largeFilePenalty = -0.15
	newFileBonus     = 0.1

	largeFileLineThreshold = 200

	highEfficacyThreshold = 0.7
	uncertainThreshold    = 0.4
)

// Evaluate scores recent efficacy per §4.9's weighted combination: recent
// success rate (weight 0.2 on +/-0.2), presence/quality of similar past
// memories (+0.2), and a target-file complexity penalty (protected=-0.3,
// >200 lines=-0.15, new file=+0.1).
func Evaluate(in EvaluatorInput) Evaluation {
	factors := make(map[string]float64, 4)

	// Recent success rate is centered on 0.5 and scaled into the declared
	// +/-0.2 band, matching "weight 0.2 on +/-0.2" (a perfect 0%/100% rate
	// contributes the full -0.2/+0.2, not an unbounded multiple of 0.2).
	successFactor := (in.RecentSuccessRate - 0.5) * 2 * successRateWeight
	factors["success_rate"] = successFactor

	memoryFactor := 0.0
	if in.HasSimilarMemory {
		memoryFactor = memoryBonusWeight * clamp01(in.SimilarMemoryScore)
	}
	factors["similar_memory"] = memoryFactor

	complexityFactor := 0.0
	if in.TargetIsProtected {
		complexityFactor += protectedPenalty
	}
	if in.TargetLineCount > largeFileLineThreshold {
		complexityFactor += largeFilePenalty
	}
	if in.TargetIsNewFile {
		complexityFactor += newFileBonus
	}
	factors["complexity"] = complexityFactor

	efficacy := 0.5 + successFactor + memoryFactor + complexityFactor
	efficacy = clamp01(efficacy)

	confidence := efficacy
	if in.ErrorCount > 0 {
		confidence = clamp01(confidence - float64(in.ErrorCount)*0.05)
	}

	status := Uncertain
	switch {
	case efficacy >= highEfficacyThreshold:
		status = HighEfficacy
	case efficacy < uncertainThreshold:
		status = LowEfficacy
	}

	return Evaluation{
		ConfidenceScore: confidence,
		EfficacyScore:   efficacy,
		Status:          status,
		Factors:         factors,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// StrategyMode is the named operating point the Adapter selects.
type StrategyMode string

const (
	ModeNormal          StrategyMode = "NORMAL"
	ModeAccelerated     StrategyMode = "ACCELERATED"
	ModeCautious        StrategyMode = "CAUTIOUS"
	ModeDeepReflection   StrategyMode = "DEEP_REFLECTION"
)

// Adapt maps an Evaluation + complexity + error count into a StrategyMode by
// the §4.9 decision table, evaluated top-down, first match wins:
//
//	complexity=high          -> DEEP_REFLECTION
//	error_count >= 3         -> CAUTIOUS
//	efficacy >= 0.75, errors<=1 -> ACCELERATED
//	efficacy <= 0.4          -> CAUTIOUS
//	else                     -> NORMAL
func Adapt(eval Evaluation, complexity Complexity, errorCount int) StrategyMode {
	switch {
	case complexity == ComplexityHigh:
		return ModeDeepReflection
	case errorCount >= 3:
		return ModeCautious
	case eval.EfficacyScore >= 0.75 && errorCount <= 1:
		return ModeAccelerated
	case eval.EfficacyScore <= 0.4:
		return ModeCautious
	default:
		return ModeNormal
	}
}

// Tuning is the fixed set of runtime parameters each StrategyMode maps to
// (§4.9 "Each mode maps to fixed tuning params").
type Tuning struct {
	IntervalMultiplier float64
	Temperature        float64
	BurstLimit         int
	ValidationLevel    int
	MonologueInterval  time.Duration
}

var tuningTable = map[StrategyMode]Tuning{
	ModeNormal:         {IntervalMultiplier: 1.0, Temperature: 0.7, BurstLimit: 3, ValidationLevel: 2, MonologueInterval: 15 * time.Minute},
	ModeAccelerated:    {IntervalMultiplier: 0.5, Temperature: 0.85, BurstLimit: 6, ValidationLevel: 1, MonologueInterval: 10 * time.Minute},
	ModeCautious:       {IntervalMultiplier: 1.5, Temperature: 0.4, BurstLimit: 1, ValidationLevel: 3, MonologueInterval: 20 * time.Minute},
	ModeDeepReflection: {IntervalMultiplier: 2.0, Temperature: 0.3, BurstLimit: 1, ValidationLevel: 3, MonologueInterval: 30 * time.Minute},
}

// TuningFor returns the fixed tuning parameters for mode, defaulting to
// ModeNormal's tuning for an unrecognized mode.
func TuningFor(mode StrategyMode) Tuning {
	if t, ok := tuningTable[mode]; ok {
		return t
	}
	return tuningTable[ModeNormal]
}

// Tuner publishes RuntimeParameters atomically (§3 RuntimeParameters,
// §4.9 "Tuner: publishes RuntimeParameters atomically; scheduler picks them
// up on next tick"). It composes Tuning with the config-declared base
// interval rather than owning scheduling state itself — the scheduler reads
// only the most recently published copy via config.RuntimeParamsManager's
// Get, which the caller publishes the result into.
type Tuner struct {
	Base time.Duration // the configured baseline evolution_interval
}

// Apply composes mode's fixed tuning with the Tuner's base interval into a
// concrete RuntimeParameters-shaped result.
func (t Tuner) Apply(mode StrategyMode) config.RuntimeParameters {
	tuning := TuningFor(mode)
	interval := time.Duration(float64(t.Base) * tuning.IntervalMultiplier)
	return config.RuntimeParameters{
		EvolutionInterval: interval,
		Temperature:       tuning.Temperature,
		BurstLimit:        tuning.BurstLimit,
		ValidationLevel:   tuning.ValidationLevel,
		MonologueInterval: tuning.MonologueInterval,
		ActiveMode:        string(mode),
	}
}
