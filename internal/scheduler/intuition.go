package scheduler

import (
	"context"
	"strings"

	"github.com/antigravity-dev/ain/internal/decision"
	"github.com/antigravity-dev/ain/internal/vectormem"
)

// patternKeywords mirrors original_source/engine/intuition.py's
// _PATTERN_KEYWORDS table (Korean success/failure/caution keyword sets),
// translated to English since this repo's memory text is English.
var patternKeywords = map[string][]string{
	"success": {"completed", "success", "resolved", "implemented", "improved"},
	"failure": {"failed", "error", "bug", "broke", "problem"},
	"caution": {"warning", "risky", "careful", "verify", "unstable"},
}

const (
	intuitionMemoryLimit        = 5
	intuitionMinConfidence      = 0.3
	intuitionStrongThreshold    = 0.7
	intuitionModerateThreshold  = 0.4
	intuitionDominanceThreshold = 0.4
)

// Embedder converts text to a fixed-length vector for similarity search.
// The embedding provider is out of scope (§1 "also out of scope ... the
// embedding provider"); this is the interface boundary at which a real
// provider plugs in.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIntuition implements decision.IntuitionSource by retrieving similar
// past memories from vector storage and pattern-matching their text,
// porting original_source/engine/intuition.py's get_intuition: retrieve ->
// analyze_memory_patterns -> calculate_confidence -> determine_strength.
type VectorIntuition struct {
	Store    *vectormem.Store
	Embedder Embedder
}

// Match implements decision.IntuitionSource.
func (v *VectorIntuition) Match(ctx context.Context, contextKey string) (decision.IntuitionResult, error) {
	contextKey = strings.TrimSpace(contextKey)
	if contextKey == "" {
		return decision.IntuitionResult{PatternMatch: "no situation", Strength: decision.StrengthWeak}, nil
	}

	if v.Store == nil || v.Embedder == nil {
		return decision.IntuitionResult{PatternMatch: "new situation", Confidence: 0.1, Strength: decision.StrengthWeak}, nil
	}

	vec, err := v.Embedder.Embed(ctx, contextKey)
	if err != nil {
		return decision.IntuitionResult{PatternMatch: "new situation", Confidence: 0.1, Strength: decision.StrengthWeak}, nil
	}

	matches, err := v.Store.Search(vec, "", intuitionMemoryLimit)
	if err != nil || len(matches) == 0 {
		return decision.IntuitionResult{PatternMatch: "new situation", Confidence: 0.1, Strength: decision.StrengthWeak}, nil
	}

	dominant, ratio := dominantPattern(matches)
	confidence := intuitionConfidence(matches)
	strength := intuitionStrength(confidence)

	pattern := dominant
	if ratio < intuitionDominanceThreshold {
		pattern = "mixed pattern"
	}

	return decision.IntuitionResult{
		PatternMatch: pattern,
		Confidence:   confidence,
		Strength:     strength,
	}, nil
}

func dominantPattern(matches []vectormem.Match) (string, float64) {
	counts := map[string]int{"success": 0, "failure": 0, "caution": 0, "neutral": 0}
	for _, m := range matches {
		text := strings.ToLower(m.Record.Text)
		matched := ""
		for kind, keywords := range patternKeywords {
			for _, kw := range keywords {
				if strings.Contains(text, kw) {
					matched = kind
					break
				}
			}
			if matched != "" {
				break
			}
		}
		if matched == "" {
			matched = "neutral"
		}
		counts[matched]++
	}

	best, bestCount, total := "neutral", -1, 0
	for kind, c := range counts {
		total += c
		if c > bestCount {
			best, bestCount = kind, c
		}
	}
	if total == 0 {
		return "neutral", 0
	}
	return best, float64(bestCount) / float64(total)
}

func intuitionConfidence(matches []vectormem.Match) float64 {
	if len(matches) == 0 {
		return 0
	}
	baseConfidence := minFloat(float64(len(matches))/intuitionMemoryLimit, 1.0) * 0.5

	var sumSimilarity float64
	for _, m := range matches {
		sumSimilarity += clamp01(m.Score)
	}
	avgSimilarity := sumSimilarity / float64(len(matches))

	return minFloat(baseConfidence+avgSimilarity*0.5, 1.0)
}

func intuitionStrength(confidence float64) decision.Strength {
	switch {
	case confidence >= intuitionStrongThreshold:
		return decision.StrengthStrong
	case confidence >= intuitionModerateThreshold:
		return decision.StrengthModerate
	case confidence >= intuitionMinConfidence:
		return decision.StrengthWeak
	default:
		return decision.StrengthWeak
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

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
