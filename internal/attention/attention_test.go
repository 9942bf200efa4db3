package attention

import (
	"testing"
	"time"
)

func TestSalienceFormula(t *testing.T) {
	sig := Signal{Urgency: 0.5, Importance: 1.0}
	got := sig.Salience()
	want := 0.6*0.5 + 0.4*1.0
	if got != want {
		t.Errorf("Salience() = %v, want %v", got, want)
	}
}

func TestExpiredSignalAbsentFromRankedSet(t *testing.T) {
	m := NewManager()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	id := m.Add(Signal{Source: SourceSystem, Urgency: 0.9, Importance: 0.9, CreatedAt: now, TTL: time.Minute})

	ranked := m.Ranked()
	if len(ranked) != 1 || ranked[0].ID != id {
		t.Fatalf("expected signal present before expiry, got %+v", ranked)
	}

	removed := m.CleanupExpired(now.Add(2 * time.Minute))
	if removed != 1 {
		t.Errorf("CleanupExpired removed = %d, want 1", removed)
	}

	ranked = m.Ranked()
	if len(ranked) != 0 {
		t.Errorf("expected no signals after expiry, got %+v", ranked)
	}
}

func TestRankedOrdersBySalienceThenID(t *testing.T) {
	m := NewManager()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	m.Add(Signal{ID: "b", Source: SourceGoal, Urgency: 0.5, Importance: 0.5, CreatedAt: now, TTL: time.Hour})
	m.Add(Signal{ID: "a", Source: SourceGoal, Urgency: 0.5, Importance: 0.5, CreatedAt: now, TTL: time.Hour})
	m.Add(Signal{ID: "high", Source: SourceExternal, Urgency: 1.0, Importance: 1.0, CreatedAt: now, TTL: time.Hour})

	ranked := m.Ranked()
	if len(ranked) != 3 {
		t.Fatalf("len(ranked) = %d, want 3", len(ranked))
	}
	if ranked[0].ID != "high" {
		t.Errorf("ranked[0].ID = %q, want high", ranked[0].ID)
	}
	if ranked[1].ID != "a" || ranked[2].ID != "b" {
		t.Errorf("tie-break order = [%s %s], want [a b]", ranked[1].ID, ranked[2].ID)
	}
}

func TestElectFocusWinnerTakeAllAndHistory(t *testing.T) {
	m := NewManager()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	m.Add(Signal{ID: "low", Source: SourceSystem, Urgency: 0.1, Importance: 0.1, CreatedAt: now, TTL: time.Hour})
	winner, ok, changed := m.ElectFocus(now)
	if !ok || !changed || winner.ID != "low" {
		t.Fatalf("first election = %+v ok=%v changed=%v, want low/true/true", winner, ok, changed)
	}

	m.Add(Signal{ID: "high", Source: SourceExternal, Urgency: 0.9, Importance: 0.9, CreatedAt: now, TTL: time.Hour})
	winner, ok, changed = m.ElectFocus(now)
	if !ok || !changed || winner.ID != "high" {
		t.Fatalf("second election = %+v ok=%v changed=%v, want high/true/true", winner, ok, changed)
	}

	_, _, changed = m.ElectFocus(now)
	if changed {
		t.Errorf("re-electing the same winner should not record a focus change")
	}

	hist := m.History()
	if len(hist) != 2 {
		t.Fatalf("len(History()) = %d, want 2", len(hist))
	}
	if hist[1].ToID != "high" || hist[1].FromID != "low" {
		t.Errorf("history[1] = %+v, want FromID=low ToID=high", hist[1])
	}
}

func TestFocusHistoryIsBoundedToTwenty(t *testing.T) {
	m := NewManager()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 30; i++ {
		id := string(rune('a' + i%26))
		m.Add(Signal{ID: id + "-" + time.Duration(i).String(), Source: SourceSystem, Urgency: float64(i%2) + 0.1, Importance: 0.5, CreatedAt: now, TTL: time.Hour})
		m.ElectFocus(now)
	}

	if len(m.History()) > maxFocusHistory {
		t.Errorf("len(History()) = %d, want <= %d", len(m.History()), maxFocusHistory)
	}
}

func TestGetAttentionContextMarksCurrentFocus(t *testing.T) {
	m := NewManager()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	m.Add(Signal{ID: "a", Source: SourceGoal, Urgency: 0.9, Importance: 0.9, CreatedAt: now, TTL: time.Hour, Content: "finish roadmap step"})
	m.ElectFocus(now)

	ctx := m.GetAttentionContext(5)
	if ctx == "" {
		t.Fatal("GetAttentionContext returned empty string with an active signal")
	}
}

func TestGetAttentionContextEmptyWhenNoSignals(t *testing.T) {
	m := NewManager()
	ctx := m.GetAttentionContext(5)
	if ctx != "no active attention signals" {
		t.Errorf("GetAttentionContext() = %q, want the no-signals message", ctx)
	}
}
