// Package attention implements the engine's attention economy (§4.10):
// ranked AttentionSignal bids for focus, Winner-Take-All focus election, and
// the small somatic/temporal/uncertainty state records that feed it and the
// decision gate (§3A).
package attention

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source identifies what produced an AttentionSignal.
type Source string

const (
	SourceExternal  Source = "external"
	SourceIntuition Source = "intuition"
	SourceTemporal  Source = "temporal"
	SourceGoal      Source = "goal"
	SourceMeta      Source = "meta"
	SourceSystem    Source = "system"
)

// Signal is an ephemeral bid for focus (§3 AttentionSignal).
type Signal struct {
	ID         string
	Source     Source
	Urgency    float64
	Importance float64
	Content    string
	CreatedAt  time.Time
	TTL        time.Duration
}

// Salience is the derived ranking score: salience = 0.6*urgency + 0.4*importance.
func (s Signal) Salience() float64 {
	return 0.6*clamp01(s.Urgency) + 0.4*clamp01(s.Importance)
}

// Expired reports whether now - created_at >= ttl.
func (s Signal) Expired(now time.Time) bool {
	if s.TTL <= 0 {
		return false
	}
	return now.Sub(s.CreatedAt) >= s.TTL
}

// FocusChange records one Winner-Take-All focus transition.
type FocusChange struct {
	At       time.Time
	FromID   string
	ToID     string
	Salience float64
}

const maxFocusHistory = 20

// Manager owns the live AttentionSignal set and current-focus election. It
// is single-loop-owned by the scheduler (§5), but the mutex keeps the status
// API's read-only access (§4.10, §6) safe.
type Manager struct {
	mu           sync.Mutex
	signals      map[string]Signal
	currentFocus string
	history      []FocusChange
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{signals: make(map[string]Signal)}
}

// Add enqueues a new signal, assigning an id via google/uuid if none was set,
// and returns the id.
func (m *Manager) Add(sig Signal) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now()
	}
	m.signals[sig.ID] = sig
	return sig.ID
}

// CleanupExpired removes every signal whose ttl has elapsed as of now.
func (m *Manager) CleanupExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, sig := range m.signals {
		if sig.Expired(now) {
			delete(m.signals, id)
			removed++
		}
	}
	return removed
}

// Ranked returns the live signals sorted by salience desc, ties broken by id
// ascending, matching §5's "focus election is deterministic" rule.
func (m *Manager) Ranked() []Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rankedLocked()
}

func (m *Manager) rankedLocked() []Signal {
	out := make([]Signal, 0, len(m.signals))
	for _, sig := range m.signals {
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].Salience(), out[j].Salience()
		if si != sj {
			return si > sj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ElectFocus runs cleanup, re-ranks, and sets the current focus to the
// top-ranked signal (Winner-Take-All). If the focus changed, it appends a
// bounded (last 20) FocusChange entry and returns true.
func (m *Manager) ElectFocus(now time.Time) (Signal, bool, bool) {
	m.CleanupExpired(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	ranked := m.rankedLocked()
	if len(ranked) == 0 {
		changed := m.currentFocus != ""
		if changed {
			m.recordChange(now, m.currentFocus, "", 0)
			m.currentFocus = ""
		}
		return Signal{}, false, changed
	}

	winner := ranked[0]
	changed := winner.ID != m.currentFocus
	if changed {
		m.recordChange(now, m.currentFocus, winner.ID, winner.Salience())
		m.currentFocus = winner.ID
	}
	return winner, true, changed
}

func (m *Manager) recordChange(now time.Time, from, to string, salience float64) {
	m.history = append(m.history, FocusChange{At: now, FromID: from, ToID: to, Salience: salience})
	if len(m.history) > maxFocusHistory {
		m.history = m.history[len(m.history)-maxFocusHistory:]
	}
}

// History returns a copy of the bounded focus-change history, oldest first.
func (m *Manager) History() []FocusChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FocusChange, len(m.history))
	copy(out, m.history)
	return out
}

// CurrentFocusID returns the id of the signal currently holding focus, or
// "" if nothing currently holds it.
func (m *Manager) CurrentFocusID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentFocus
}

// GetAttentionContext emits a short textual block summarizing the top
// signals, used as a prompt fragment (§4.10).
func (m *Manager) GetAttentionContext(limit int) string {
	ranked := m.Ranked()
	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}
	if limit == 0 {
		return "no active attention signals"
	}

	var b strings.Builder
	b.WriteString("active attention signals (ranked by salience):\n")
	for i, sig := range ranked[:limit] {
		marker := "  "
		if sig.ID == m.CurrentFocusID() {
			marker = "->"
		}
		fmt.Fprintf(&b, "%s %d. [%s] salience=%.2f %s\n", marker, i+1, sig.Source, sig.Salience(), sig.Content)
	}
	return b.String()
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

func clampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
