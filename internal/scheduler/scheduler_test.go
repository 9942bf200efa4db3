package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/antigravity-dev/ain/internal/config"
	"github.com/antigravity-dev/ain/internal/meta"
	"github.com/antigravity-dev/ain/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewDispatchLimiterDefaultsWhenUnconfigured(t *testing.T) {
	l := NewDispatchLimiter(config.RateLimits{})
	if l.Burst() != 1 {
		t.Fatalf("expected default burst 1, got %d", l.Burst())
	}
}

func TestNewDispatchLimiterHonorsConfiguredBurst(t *testing.T) {
	l := NewDispatchLimiter(config.RateLimits{RatePerMinute: 60, Burst: 5})
	if l.Burst() != 5 {
		t.Fatalf("expected burst 5, got %d", l.Burst())
	}
}

func TestFallbackEmbedderIsDeterministic(t *testing.T) {
	e := FallbackEmbedder{Dimension: 16}
	a, _ := e.Embed(context.Background(), "hello world")
	b, _ := e.Embed(context.Background(), "hello world")
	if len(a) != 16 {
		t.Fatalf("expected 16-dim vector, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic embedding, differed at %d", i)
		}
	}
}

func TestVectorIntuitionWithoutStoreReturnsWeakNewSituation(t *testing.T) {
	vi := &VectorIntuition{}
	result, err := vi.Match(context.Background(), "some situation")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if result.PatternMatch != "new situation" {
		t.Fatalf("expected new situation, got %q", result.PatternMatch)
	}
}

func TestVectorIntuitionEmptyContextKeyReturnsNoSituation(t *testing.T) {
	vi := &VectorIntuition{}
	result, err := vi.Match(context.Background(), "")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if result.PatternMatch != "no situation" {
		t.Fatalf("expected no situation, got %q", result.PatternMatch)
	}
}

func TestIntuitionStrengthThresholds(t *testing.T) {
	cases := []struct {
		confidence float64
		want       string
	}{
		{0.9, "strong"},
		{0.5, "moderate"},
		{0.35, "weak"},
		{0.1, "weak"},
	}
	for _, c := range cases {
		if got := string(intuitionStrength(c.confidence)); got != c.want {
			t.Fatalf("confidence %.2f: expected %s, got %s", c.confidence, c.want, got)
		}
	}
}

func TestEngineEnterBurstPersistsState(t *testing.T) {
	e := New()
	if err := e.EnterBurst(context.Background(), 60, time.Hour); err != nil {
		t.Fatalf("enter burst: %v", err)
	}
	if !e.burst.active {
		t.Fatalf("expected burst active")
	}
	if e.burst.currentIntervalSeconds != 60 {
		t.Fatalf("expected interval 60, got %d", e.burst.currentIntervalSeconds)
	}
}

func TestEngineLoadBurstStateFallsBackWithoutKV(t *testing.T) {
	e := New()
	e.LoadBurstState(context.Background(), 3600)
	if e.burst.active {
		t.Fatalf("expected inactive burst on fresh load")
	}
	if e.burst.currentIntervalSeconds != 3600 {
		t.Fatalf("expected fallback interval 3600, got %d", e.burst.currentIntervalSeconds)
	}
}

func TestEngineCheckBurstExpiryRestoresDefault(t *testing.T) {
	e := New()
	e.burst = burstState{active: true, currentIntervalSeconds: 60, endTime: time.Now().Add(-time.Second)}
	e.checkBurstExpiry(context.Background(), 3600)
	if e.burst.active {
		t.Fatalf("expected burst to have expired")
	}
	if e.burst.currentIntervalSeconds != 3600 {
		t.Fatalf("expected restored default interval, got %d", e.burst.currentIntervalSeconds)
	}
}

func TestEngineRecordOutcomeTracksStreak(t *testing.T) {
	e := New()
	e.recordOutcome(false)
	e.recordOutcome(false)
	if e.errorStreak != 2 {
		t.Fatalf("expected error streak 2, got %d", e.errorStreak)
	}
	e.recordOutcome(true)
	if e.errorStreak != 0 {
		t.Fatalf("expected error streak reset to 0, got %d", e.errorStreak)
	}
	if got := e.successRateLocked(); got != 1.0/3.0 {
		t.Fatalf("expected success rate 1/3, got %.3f", got)
	}
}

func TestDominantPatternHandlesEmptyMatches(t *testing.T) {
	pattern, ratio := dominantPattern(nil)
	if pattern != "neutral" || ratio != 0 {
		t.Fatalf("expected neutral/0 for no matches, got %s/%.2f", pattern, ratio)
	}
}

func TestClassifyComplexityProtectedAlwaysHigh(t *testing.T) {
	if got := classifyComplexity(true, 5, false); got != meta.ComplexityHigh {
		t.Fatalf("expected ComplexityHigh for protected file, got %s", got)
	}
}

func TestClassifyComplexityLargeFileIsMedium(t *testing.T) {
	if got := classifyComplexity(false, largeFileLineThreshold+1, false); got != meta.ComplexityMedium {
		t.Fatalf("expected ComplexityMedium for large file, got %s", got)
	}
}

func TestClassifyComplexitySmallFileIsLow(t *testing.T) {
	if got := classifyComplexity(false, 10, false); got != meta.ComplexityLow {
		t.Fatalf("expected ComplexityLow for small file, got %s", got)
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	e := New()
	e.Journal = st
	e.Logger = discardLogger()
	e.ConfigMgr = config.NewRWMutexManager(&config.Config{})
	e.Params = config.NewRuntimeParamsManager(config.RuntimeParameters{})
	return e
}

func TestRunMetaCycleOnlyJournalsOnModeChange(t *testing.T) {
	e := newTestEngine(t)

	e.runMetaCycle()
	events, err := e.Journal.RecentEvents(10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	firstCount := len(events)
	if firstCount == 0 {
		t.Fatalf("expected a meta_cycle journal entry on first run")
	}

	e.runMetaCycle()
	events, err = e.Journal.RecentEvents(10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != firstCount {
		t.Fatalf("expected no new journal entry when mode is unchanged, had %d now %d", firstCount, len(events))
	}
}

func TestIntrospectEmptyQueryIsNoop(t *testing.T) {
	e := newTestEngine(t)
	reply, err := e.Introspect(context.Background(), "   ")
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	if reply != "" {
		t.Fatalf("expected empty reply for blank query, got %q", reply)
	}
}

func TestIntrospectWithoutVecMemJournalsQuery(t *testing.T) {
	e := newTestEngine(t)
	reply, err := e.Introspect(context.Background(), "what is the roadmap?")
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	if reply == "" {
		t.Fatalf("expected a non-empty reply")
	}
	events, err := e.Journal.RecentEvents(10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	found := false
	for _, ev := range events {
		if ev.Action == "introspect" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an introspect journal entry, got %v", events)
	}
}
