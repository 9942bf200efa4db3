package scheduler

import (
	"context"
	"time"

	"github.com/antigravity-dev/ain/internal/kv"
)

// burstState mirrors kv.BurstState in scheduler-local field names. The
// default interval is not stored here: callers pass it in from config
// (§4.7 "a restart mid-burst resumes correctly" names only
// active/current_interval/end_time as persisted).
type burstState struct {
	active                 bool
	currentIntervalSeconds int
	endTime                time.Time
}

// LoadBurstState restores burst state from the KV store at startup,
// falling back to the configured default interval when no state is
// present (fresh install, or KV unavailable).
func (e *Engine) LoadBurstState(ctx context.Context, defaultIntervalSeconds int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.KV == nil {
		e.burst = burstState{currentIntervalSeconds: defaultIntervalSeconds}
		return
	}
	st, ok := e.KV.LoadBurstState(ctx)
	if !ok {
		e.burst = burstState{currentIntervalSeconds: defaultIntervalSeconds}
		return
	}
	e.burst = burstState{active: st.Active, currentIntervalSeconds: st.CurrentInterval, endTime: st.BurstEndTime}
	if e.burst.currentIntervalSeconds == 0 {
		e.burst.currentIntervalSeconds = defaultIntervalSeconds
	}
}

// EnterBurst switches to the accelerated burst interval for duration,
// persisting the transition so a restart mid-burst resumes it.
func (e *Engine) EnterBurst(ctx context.Context, intervalSeconds int, duration time.Duration) error {
	e.mu.Lock()
	e.burst = burstState{active: true, currentIntervalSeconds: intervalSeconds, endTime: time.Now().Add(duration)}
	st := e.burst
	e.mu.Unlock()
	return e.saveBurstState(ctx, st)
}

// checkBurstExpiry ends burst mode once endTime has passed, restoring the
// configured default interval.
func (e *Engine) checkBurstExpiry(ctx context.Context, defaultIntervalSeconds int) {
	e.mu.Lock()
	if !e.burst.active || time.Now().Before(e.burst.endTime) {
		e.mu.Unlock()
		return
	}
	e.burst = burstState{currentIntervalSeconds: defaultIntervalSeconds}
	st := e.burst
	e.mu.Unlock()
	_ = e.saveBurstState(ctx, st)
}

func (e *Engine) saveBurstState(ctx context.Context, st burstState) error {
	if e.KV == nil {
		return nil
	}
	return e.KV.SaveBurstState(ctx, kv.BurstState{
		Active:          st.active,
		CurrentInterval: st.currentIntervalSeconds,
		BurstEndTime:    st.endTime,
	})
}
