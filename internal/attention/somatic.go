package attention

import "time"

// SomaticState is the small typed record feeding the decision gate's
// System-1 bias and the consciousness monologue's "mood" framing (§3, §3A).
// The pre-distillation original (engine/somatosensory.py) models a richer
// five-channel SomaticState; this module keeps only the four fields the
// distilled spec names, since nothing downstream of this repo consumes the
// finer-grained channels.
type SomaticState struct {
	Tension float64 // [0,1] — system load / resource pressure
	Energy  float64 // [0,1] — available resource headroom
	Valence float64 // [-1,1] — positive/negative affect
	Clarity float64 // [0,1] — confidence in the current read of the system
}

// Clamp returns s with every field restricted to its declared range.
func (s SomaticState) Clamp() SomaticState {
	return SomaticState{
		Tension: clamp01(s.Tension),
		Energy:  clamp01(s.Energy),
		Valence: clampSigned(s.Valence),
		Clarity: clamp01(s.Clarity),
	}
}

// DeriveSomaticState converts raw resource/error/pace readings into a
// SomaticState, following the weighting shape of the original's
// process_proprioception/process_nociception (error→tension, headroom→
// energy) collapsed into the distilled four-field record.
func DeriveSomaticState(tokenUsageRatio, budgetUsageRatio, recentErrorRate, subjectivePace float64) SomaticState {
	energy := 1.0 - (tokenUsageRatio*0.5 + budgetUsageRatio*0.5)
	tension := recentErrorRate*0.6 + maxFloat(0, subjectivePace-1.0)*0.4
	valence := (1.0 - tension) - recentErrorRate
	clarity := 1.0 - recentErrorRate*0.5

	return SomaticState{Tension: tension, Energy: energy, Valence: valence, Clarity: clarity}.Clamp()
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// TemporalPhase buckets uptime into the engine's subjective life-stages
// (engine/temporal.py's TemporalPhase).
type TemporalPhase string

const (
	PhaseNascent   TemporalPhase = "nascent"
	PhaseAwakening TemporalPhase = "awakening"
	PhaseActive    TemporalPhase = "active"
	PhaseSustained TemporalPhase = "sustained"
	PhaseMature    TemporalPhase = "mature"
)

// TemporalState is the scheduler's per-tick time-awareness record (§4.7
// temporal_tick, §3A).
type TemporalState struct {
	BootTime           time.Time
	Uptime             time.Duration
	CycleCount         int64
	AvgCycleDuration   time.Duration
	SubjectivePace     float64
	Phase              TemporalPhase
}

// ReferencePace is the baseline cycle duration subjective_pace is measured
// against (engine/temporal.py's REFERENCE_PACE, 5 minutes).
const ReferencePace = 300 * time.Second

// DeriveTemporalState computes the phase and subjective pace for the given
// uptime and average recent cycle duration.
func DeriveTemporalState(boot time.Time, uptime time.Duration, cycleCount int64, avgCycleDuration time.Duration) TemporalState {
	pace := 1.0
	if avgCycleDuration > 0 {
		pace = float64(ReferencePace) / float64(avgCycleDuration)
	}

	return TemporalState{
		BootTime:         boot,
		Uptime:           uptime,
		CycleCount:       cycleCount,
		AvgCycleDuration: avgCycleDuration,
		SubjectivePace:   pace,
		Phase:            phaseForUptime(uptime),
	}
}

func phaseForUptime(uptime time.Duration) TemporalPhase {
	switch {
	case uptime < 5*time.Minute:
		return PhaseNascent
	case uptime < 30*time.Minute:
		return PhaseAwakening
	case uptime < 4*time.Hour:
		return PhaseActive
	case uptime < 24*time.Hour:
		return PhaseSustained
	default:
		return PhaseMature
	}
}

// KnowledgeState classifies how well-understood the current context is
// (engine/uncertainty_quantifier.py's KnowledgeState).
type KnowledgeState string

const (
	KnowledgeKnown   KnowledgeState = "known"
	KnowledgeFrontier KnowledgeState = "frontier"
	KnowledgeUnknown  KnowledgeState = "unknown"
	KnowledgeAnomaly  KnowledgeState = "anomaly"
)

// UncertaintyProfile is the decision gate's epistemic-uncertainty read
// (§3A, §4.8).
type UncertaintyProfile struct {
	Score         float64
	State         KnowledgeState
	PrimaryFactor string
	Reasoning     string
	Factors       map[string]float64
}

const (
	uncertaintyWeightFamiliarity = 0.5
	uncertaintyWeightComplexity  = 0.3
	uncertaintyWeightConflict    = 0.2

	thresholdKnown   = 0.3
	thresholdFrontier = 0.6
	thresholdUnknown  = 0.85

	conflictAmplifier = 1.5
)

// QuantifyUncertainty computes an UncertaintyProfile from familiarity,
// complexity, and conflict-rate inputs, following
// engine/uncertainty_quantifier.py's weighted-sum-plus-conflict-boost model.
func QuantifyUncertainty(familiarity, complexity, conflictRate float64) UncertaintyProfile {
	familiarity = clamp01(familiarity)
	complexity = clamp01(complexity)
	conflict := clamp01(conflictRate)
	unfamiliarity := 1.0 - familiarity

	score := unfamiliarity*uncertaintyWeightFamiliarity +
		complexity*uncertaintyWeightComplexity +
		conflict*uncertaintyWeightConflict

	if conflict > 0.5 {
		boost := (conflict - 0.5) * conflictAmplifier * uncertaintyWeightConflict
		score = minFloat(1.0, score+boost)
	}

	factors := map[string]float64{
		"unfamiliarity": unfamiliarity * uncertaintyWeightFamiliarity,
		"complexity":    complexity * uncertaintyWeightComplexity,
		"conflict":      conflict * uncertaintyWeightConflict,
	}
	primary := dominantFactor(factors)

	state, reason := classifyUncertainty(score, conflict, primary)

	return UncertaintyProfile{
		Score:         score,
		State:         state,
		PrimaryFactor: primary,
		Reasoning:     reason,
		Factors:       factors,
	}
}

func dominantFactor(factors map[string]float64) string {
	best, bestVal := "", -1.0
	for _, name := range []string{"unfamiliarity", "complexity", "conflict"} {
		if v := factors[name]; v > bestVal {
			best, bestVal = name, v
		}
	}
	return best
}

func classifyUncertainty(score, conflict float64, primary string) (KnowledgeState, string) {
	if conflict > 0.7 {
		return KnowledgeAnomaly, "high conflict rate indicates contradictory information"
	}
	switch {
	case score < thresholdKnown:
		return KnowledgeKnown, "high familiarity and low complexity, safe for system 1"
	case score < thresholdFrontier:
		return KnowledgeFrontier, "knowledge boundary detected (" + primary + "), verification recommended"
	case score < thresholdUnknown:
		return KnowledgeUnknown, "unfamiliar territory (" + primary + "), system 2 required"
	default:
		return KnowledgeAnomaly, "critical uncertainty level, multiple factors contribute"
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
