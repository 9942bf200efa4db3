package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/antigravity-dev/ain/internal/attention"
	"github.com/antigravity-dev/ain/internal/store"
	"github.com/antigravity-dev/ain/internal/vectormem"
)

// runMonologue produces the periodic "consciousness" self-reflection (§4.7
// step 3, §3A): a short situational narration derived from the somatic and
// temporal state, journaled and written to vector memory as a consciousness
// record, separate from evolution outcomes so the monologue cadence can run
// independently of whether any evolution fired this cycle.
func (e *Engine) runMonologue(ctx context.Context, temporal attention.TemporalState) {
	_ = ctx

	input, output, costUSD, calls := 0, 0, 0.0, 0
	if e.Ledger != nil {
		input, output, costUSD, calls = e.Ledger.Snapshot()
	}
	tokenRatio := 0.0
	if e.ConfigMgr != nil {
		cfg := e.ConfigMgr.Get()
		if cfg.RateLimits.DailyTokenCap > 0 {
			tokenRatio = float64(input+output) / float64(cfg.RateLimits.DailyTokenCap)
		}
	}

	e.mu.Lock()
	errStreak := e.errorStreak
	successRate := e.successRateLocked()
	e.mu.Unlock()

	somatic := attention.DeriveSomaticState(tokenRatio, 0, 1.0-successRate, temporal.SubjectivePace)

	text := fmt.Sprintf(
		"phase=%s uptime=%s pace=%.2f tension=%.2f energy=%.2f valence=%.2f clarity=%.2f cost=$%.4f calls=%d error_streak=%d",
		temporal.Phase, temporal.Uptime.Round(time.Second), temporal.SubjectivePace,
		somatic.Tension, somatic.Energy, somatic.Valence, somatic.Clarity, costUSD, calls, errStreak,
	)

	if e.Journal != nil {
		_, _ = e.Journal.AppendEvent(store.Event{
			Timestamp:   time.Now(),
			Kind:        "reflection",
			Action:      "monologue",
			Description: text,
			Status:      "success",
		})
	}

	if e.VecMem != nil {
		vec := embedFallback(text, e.VecMem.Dimension())
		_, _ = e.VecMem.Insert(vectormem.Record{
			Text:       text,
			Vector:     vec,
			MemoryType: vectormem.TypeConsciousness,
			Source:     "scheduler",
			Timestamp:  time.Now(),
		})
	}
}
