// Package scheduler implements the Cognitive Scheduler (§4.7, §5): the
// engine's single tick loop, its burst-mode sub-state-machine, and the
// RunEvolution path the decision gate falls through to on System 2. It
// replaces the teacher's internal/scheduler Temporal-workflow dispatcher
// (tier-based ceremony/cadence logic over a bead queue) with a single
// in-process loop, since this spec has one engine evolving one working
// tree rather than many beads dispatched across workers; the teacher's
// shape that does carry over is the struct-plus-tick()-plus-ticker.Reset
// idiom, not its workflow content.
package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/antigravity-dev/ain/internal/applier"
	"github.com/antigravity-dev/ain/internal/attention"
	"github.com/antigravity-dev/ain/internal/config"
	"github.com/antigravity-dev/ain/internal/cost"
	"github.com/antigravity-dev/ain/internal/decision"
	"github.com/antigravity-dev/ain/internal/factcore"
	"github.com/antigravity-dev/ain/internal/gitsync"
	"github.com/antigravity-dev/ain/internal/kv"
	"github.com/antigravity-dev/ain/internal/meta"
	"github.com/antigravity-dev/ain/internal/messaging"
	"github.com/antigravity-dev/ain/internal/pipeline"
	"github.com/antigravity-dev/ain/internal/store"
	"github.com/antigravity-dev/ain/internal/vectormem"
	"golang.org/x/time/rate"
)

// walkPersistInterval is the §5 "persist the FactCore and Roadmap to disk
// every 300 seconds regardless of cadence" rule.
const walkPersistInterval = 300 * time.Second

// Engine owns every long-lived component the tick loop touches. One Engine
// per process; cmd/ain-engine constructs and drives it.
type Engine struct {
	ConfigMgr *config.RWMutexManager
	Params    *config.RuntimeParamsManager

	Journal   *store.Store
	VecMem    *vectormem.Store
	Core      *factcore.Core
	Roadmap   *factcore.Roadmap
	Attn      *attention.Manager
	Ledger    *cost.Ledger
	Gate      *decision.Gate
	Pipeline  *pipeline.Pipeline
	Applier   *applier.Applier
	Syncer    *gitsync.Syncer
	KV        *kv.Store
	Inbox     *messaging.Inbox
	Router    *messaging.Router
	Limiter   *rate.Limiter
	Logger    *slog.Logger

	mu                 sync.Mutex
	boot               time.Time
	cycleCount         int64
	lastCycleEnd       time.Time
	avgCycleDuration   time.Duration
	lastWalkPersist    time.Time
	lastMonologue      time.Time
	lastMeta           time.Time
	lastMetaMode       meta.StrategyMode
	lastEvolution      time.Time
	recentOutcomes     []bool // bounded ring of recent evolution successes
	errorStreak        int
	burst              burstState
}

// New constructs an Engine with boot time set to now. Every field above is
// expected to be populated by the caller (cmd/ain-engine's wiring) before
// the first Tick.
func New() *Engine {
	return &Engine{boot: time.Now(), lastWalkPersist: time.Now()}
}

// Tick runs one full scheduler cycle (§4.7, §5):
//  1. poll the messaging inbox, preempting cadence for any inbound message
//  2. advance temporal state (uptime, subjective pace, life-stage phase)
//  3. fire the consciousness monologue on its cadence
//  4. fire the meta-cognition cycle on its cadence, republishing RuntimeParameters
//  5. persist the FactCore/Roadmap every walkPersistInterval regardless of cadence
//  6. on the evolution cadence (or burst interval while bursting), run the decision gate
//  7. update cycle bookkeeping for the next tick's temporal/meta reads
func (e *Engine) Tick(ctx context.Context) error {
	now := time.Now()
	params := e.Params.Get()

	if err := e.pollMessages(ctx); err != nil {
		e.Logger.Warn("messaging poll failed", "error", err)
	}

	temporal := attention.DeriveTemporalState(e.boot, now.Sub(e.boot), e.cycleCount, e.avgCycleDuration)
	e.Attn.Add(attention.Signal{Source: attention.SourceTemporal, Importance: 0.1, Content: string(temporal.Phase)})

	if e.lastMonologue.IsZero() || now.Sub(e.lastMonologue) >= params.MonologueInterval {
		e.runMonologue(ctx, temporal)
		e.lastMonologue = now
	}

	metaInterval := e.ConfigMgr.Get().Cadence.MetaInterval.Duration
	if metaInterval <= 0 {
		metaInterval = 15 * time.Minute
	}
	if e.lastMeta.IsZero() || now.Sub(e.lastMeta) >= metaInterval {
		e.runMetaCycle()
		e.lastMeta = now
	}

	if now.Sub(e.lastWalkPersist) >= walkPersistInterval {
		if err := e.persistWalk(); err != nil {
			e.Logger.Warn("walk persistence failed", "error", err)
		}
		e.lastWalkPersist = now
	}

	cfg := e.ConfigMgr.Get()
	e.checkBurstExpiry(ctx, int(cfg.Cadence.EvolutionInterval.Duration.Seconds()))

	interval := e.evolutionInterval(params)
	if e.lastEvolution.IsZero() || now.Sub(e.lastEvolution) >= interval {
		if err := e.runDecisionGate(ctx); err != nil {
			e.Logger.Error("decision gate tick failed", "error", err)
		}
		e.lastEvolution = now
	}

	e.mu.Lock()
	if !e.lastCycleEnd.IsZero() {
		d := now.Sub(e.lastCycleEnd)
		if e.avgCycleDuration == 0 {
			e.avgCycleDuration = d
		} else {
			e.avgCycleDuration = (e.avgCycleDuration + d) / 2
		}
	}
	e.lastCycleEnd = now
	e.cycleCount++
	e.mu.Unlock()

	return nil
}

// pollMessages drains the inbox and routes each message, preempting the
// periodic cadence as §4.7 step 1 describes.
func (e *Engine) pollMessages(ctx context.Context) error {
	if e.Inbox == nil {
		return nil
	}
	timeout := e.ConfigMgr.Get().Messaging.PollTimeout.Duration
	msgs, err := e.Inbox.Poll(ctx, timeout)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		reply, err := e.Router.Dispatch(ctx, m.Text)
		if err != nil {
			e.Logger.Warn("command dispatch failed", "text", m.Text, "error", err)
			continue
		}
		if reply == "" {
			continue
		}
		if sendErr := sendReply(ctx, e.Inbox, reply); sendErr != nil {
			e.Logger.Warn("reply send failed", "error", sendErr)
		}
	}
	return nil
}

func sendReply(ctx context.Context, in *messaging.Inbox, text string) error {
	return in.Client.SendMessage(ctx, in.ChatID, text, "")
}

// evolutionInterval returns the burst interval while bursting, else the
// configured evolution interval.
func (e *Engine) evolutionInterval(params config.RuntimeParameters) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.burst.active {
		return time.Duration(e.burst.currentIntervalSeconds) * time.Second
	}
	if params.EvolutionInterval > 0 {
		return params.EvolutionInterval
	}
	return e.ConfigMgr.Get().Cadence.EvolutionInterval.Duration
}

// persistWalk flushes the FactCore and Roadmap snapshots to disk.
func (e *Engine) persistWalk() error {
	if e.Core != nil {
		if err := e.Core.Persist(); err != nil {
			return fmt.Errorf("scheduler: persist fact core: %w", err)
		}
	}
	if e.Roadmap != nil {
		if err := e.Roadmap.Persist(); err != nil {
			return fmt.Errorf("scheduler: persist roadmap: %w", err)
		}
	}
	return nil
}

// runDecisionGate builds the current context key from the roadmap focus and
// defers to the decision gate, which either fires a reflex inline or falls
// through to RunEvolution (System 2).
func (e *Engine) runDecisionGate(ctx context.Context) error {
	contextKey := ""
	if e.Roadmap != nil {
		if step, ok := e.Roadmap.CurrentStep(); ok {
			contextKey = step.Desc
		}
	}

	uncertainty := e.currentUncertaintyScore()
	resourceStatus := e.currentResourceStatus()

	outcome, err := e.Gate.Decide(ctx, contextKey, uncertainty, resourceStatus, evolverFunc(e.RunEvolution))
	if err != nil {
		return err
	}

	if e.Journal != nil {
		_, _ = e.Journal.AppendEvent(store.Event{
			Timestamp:   time.Now(),
			Kind:        "reflex",
			Action:      outcome.ReflexFired,
			Description: outcome.Reason,
			Status:      statusFor(outcome),
		})
	}

	if e.VecMem != nil && outcome.System == 1 && outcome.ReflexFired != "" {
		text := fmt.Sprintf("reflex=%s context=%s reason=%s", outcome.ReflexFired, contextKey, outcome.Reason)
		vec := embedFallback(text, e.VecMem.Dimension())
		if _, err := e.VecMem.Insert(vectormem.Record{
			Text:       text,
			Vector:     vec,
			MemoryType: vectormem.TypeReflex,
			Source:     "scheduler",
			Timestamp:  time.Now(),
		}); err != nil {
			e.Logger.Warn("vector memory insert failed", "error", err)
		}
	}
	return nil
}

func statusFor(o decision.Outcome) string {
	if o.System == 1 {
		if o.ReflexResult {
			return "success"
		}
		return "skipped"
	}
	return "success"
}

// evolverFunc adapts a plain function to the decision.Evolver interface.
type evolverFunc func(ctx context.Context, contextKey string) error

func (f evolverFunc) RunEvolution(ctx context.Context, contextKey string) error { return f(ctx, contextKey) }

func (e *Engine) currentUncertaintyScore() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	successRate := e.successRateLocked()
	profile := attention.QuantifyUncertainty(successRate, 0.5, float64(e.errorStreak)/10.0)
	return profile.Score
}

func (e *Engine) successRateLocked() float64 {
	if len(e.recentOutcomes) == 0 {
		return 0.5
	}
	successes := 0
	for _, ok := range e.recentOutcomes {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(e.recentOutcomes))
}

func (e *Engine) currentResourceStatus() decision.ResourceStatus {
	if e.Ledger == nil {
		return decision.ResourcePlentiful
	}
	cfg := e.ConfigMgr.Get()
	if e.Ledger.ExceedsDailyCap(cfg.RateLimits.DailyTokenCap, cfg.RateLimits.DailyCostCapUSD) {
		return decision.ResourceCritical
	}
	input, output, costUSD, _ := e.Ledger.Snapshot()
	if cfg.RateLimits.DailyTokenCap > 0 && float64(input+output) > 0.8*float64(cfg.RateLimits.DailyTokenCap) {
		return decision.ResourceScarce
	}
	if cfg.RateLimits.DailyCostCapUSD > 0 && costUSD > 0.8*cfg.RateLimits.DailyCostCapUSD {
		return decision.ResourceScarce
	}
	return decision.ResourcePlentiful
}

func (e *Engine) recordOutcome(ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentOutcomes = append(e.recentOutcomes, ok)
	if len(e.recentOutcomes) > 20 {
		e.recentOutcomes = e.recentOutcomes[len(e.recentOutcomes)-20:]
	}
	if ok {
		e.errorStreak = 0
	} else {
		e.errorStreak++
	}
}

// metaSimilarityThreshold is the minimum cosine score a vector-memory match
// against the evolving target must clear to count as a "similar past
// memory" for the §4.9 Evaluator's memory bonus.
const metaSimilarityThreshold = 0.5

// runMetaCycle evaluates recent performance, adapts the strategy mode, and
// republishes RuntimeParameters (§4.9 Evaluator -> Adapter -> Tuner). Only
// when the resulting mode differs from the previous cycle's does it
// dual-write a meta-journal entry (§4.7 step 4: "if the mode changed
// materially, a meta-journal entry is dual-written"), mirroring
// RunEvolution's dualWrite but against TypeMetaJournal.
func (e *Engine) runMetaCycle() {
	e.mu.Lock()
	successRate := e.successRateLocked()
	errCount := e.errorStreak
	e.mu.Unlock()

	protected, lineCount, isNew, targetPath := e.evolutionTargetStats()
	hasSimilar, similarScore := e.similarMemoryFor(targetPath)
	complexity := classifyComplexity(protected, lineCount, isNew)

	eval := meta.Evaluate(meta.EvaluatorInput{
		RecentSuccessRate:  successRate,
		HasSimilarMemory:   hasSimilar,
		SimilarMemoryScore: similarScore,
		TargetIsProtected:  protected,
		TargetLineCount:    lineCount,
		TargetIsNewFile:    isNew,
		ErrorCount:         errCount,
		Complexity:         complexity,
	})
	mode := meta.Adapt(eval, complexity, errCount)

	cfg := e.ConfigMgr.Get()
	base := cfg.Cadence.EvolutionInterval.Duration
	if base <= 0 {
		base = time.Hour
	}
	tuner := meta.Tuner{Base: base}
	params := tuner.Apply(mode)
	e.Params.Publish(params)

	e.mu.Lock()
	changed := mode != e.lastMetaMode
	e.lastMetaMode = mode
	e.mu.Unlock()
	if !changed {
		return
	}

	text := fmt.Sprintf("mode=%s efficacy=%.2f confidence=%.2f complexity=%s target=%s", mode, eval.EfficacyScore, eval.ConfidenceScore, complexity, targetPath)

	if e.Journal != nil {
		_, _ = e.Journal.AppendEvent(store.Event{
			Timestamp:   time.Now(),
			Kind:        "reflection",
			Action:      "meta_cycle",
			Description: text,
			Status:      "success",
		})
	}
	if e.VecMem != nil {
		vec := embedFallback(text, e.VecMem.Dimension())
		if _, err := e.VecMem.Insert(vectormem.Record{
			Text:       text,
			Vector:     vec,
			MemoryType: vectormem.TypeMetaJournal,
			Source:     "scheduler",
			Timestamp:  time.Now(),
		}); err != nil {
			e.Logger.Warn("vector memory insert failed", "error", err)
		}
	}
}

// evolutionTargetStats reports whether the roadmap's current-focus file is
// protected, its on-disk line count, and whether it doesn't exist yet,
// following the same "current step's Criteria.FilePath" resolution
// RunEvolution's readOriginalFiles uses.
func (e *Engine) evolutionTargetStats() (protected bool, lineCount int, isNew bool, path string) {
	if e.Roadmap == nil {
		return false, 0, false, ""
	}
	step, ok := e.Roadmap.CurrentStep()
	if !ok || step.Criteria.FilePath == "" {
		return false, 0, false, ""
	}
	path = step.Criteria.FilePath

	if e.Pipeline != nil && e.Pipeline.Protected[path] {
		protected = true
	}

	full := filepath.Join(e.Applier.Root, path)
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return protected, 0, true, path
		}
		return protected, 0, false, path
	}
	return protected, bytes.Count(data, []byte("\n")) + 1, false, path
}

// similarMemoryFor runs a vector-memory similarity search against the
// target path's name (a stand-in query since no dreamer intent has been
// drafted yet this cycle) and reports the best evolution-memory match, if
// any clears metaSimilarityThreshold.
func (e *Engine) similarMemoryFor(targetPath string) (found bool, score float64) {
	if e.VecMem == nil || targetPath == "" {
		return false, 0
	}
	vec := embedFallback(targetPath, e.VecMem.Dimension())
	matches, err := e.VecMem.Search(vec, vectormem.TypeEvolution, 1)
	if err != nil || len(matches) == 0 {
		return false, 0
	}
	best := matches[0].Score
	return best >= metaSimilarityThreshold, best
}

// classifyComplexity buckets the evolving target into the Adapter's
// decision-table complexity tiers: a protected file is always high
// complexity, a large file is medium, everything else (including brand new
// files) is low.
func classifyComplexity(protected bool, lineCount int, isNew bool) meta.Complexity {
	switch {
	case protected:
		return meta.ComplexityHigh
	case lineCount > largeFileLineThreshold:
		return meta.ComplexityMedium
	case isNew:
		return meta.ComplexityLow
	default:
		return meta.ComplexityLow
	}
}

// largeFileLineThreshold mirrors meta.largeFileLineThreshold so the
// complexity classification and the Evaluator's own large-file penalty
// agree on what counts as large.
const largeFileLineThreshold = 200
