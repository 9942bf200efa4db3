package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/antigravity-dev/ain/internal/applier"
	"github.com/antigravity-dev/ain/internal/stageerr"
	"github.com/antigravity-dev/ain/internal/store"
	"github.com/antigravity-dev/ain/internal/vectormem"
)

// RunEvolution implements decision.Evolver: one full evolve-apply-test-
// commit-record cycle (§4.4-§4.6), run from the decision gate's System 2
// fallthrough. contextKey carries the roadmap step description the gate
// resolved, passed to the dreamer as the current roadmap step.
func (e *Engine) RunEvolution(ctx context.Context, contextKey string) error {
	if e.Limiter != nil {
		if err := e.Limiter.Wait(ctx); err != nil {
			return stageerr.New("evolution", stageerr.Timeout, err)
		}
	}

	snapshot, err := e.Pipeline.BuildSnapshot()
	if err != nil {
		return stageerr.New("snapshot", stageerr.ExternalUnavailable, err)
	}

	roadmapStep := contextKey
	recentSummaries := e.recentMemorySummaries(5)

	intent, noEvolution, reason, err := e.Pipeline.Dream(ctx, snapshot, roadmapStep, recentSummaries)
	if err != nil {
		e.recordOutcome(false)
		return stageerr.New("dream", stageerr.ExternalUnavailable, err)
	}
	if noEvolution {
		e.recordJournal(store.Event{Kind: "evolution", Action: "no_evolution", Description: reason, Status: "skipped"})
		return nil
	}

	originalFiles, err := e.readOriginalFiles(intent)
	if err != nil {
		return stageerr.New("code", stageerr.ExternalUnavailable, err)
	}

	updates, err := e.Pipeline.Code(ctx, intent, originalFiles, nil)
	if err != nil {
		e.recordOutcome(false)
		e.recordJournal(store.Event{Kind: "evolution", Action: "code_rejected", Description: err.Error(), Status: "failed", Error: err.Error()})
		return stageerr.New("code", stageerr.SanityFailure, err)
	}

	applierUpdates := make([]applier.Update, 0, len(updates))
	paths := make([]string, 0, len(updates))
	for _, u := range updates {
		applierUpdates = append(applierUpdates, applier.Update{Filename: u.Filename, Content: u.Code})
		paths = append(paths, u.Filename)
	}

	applied, err := e.Applier.ApplyAll(applierUpdates)
	if err != nil {
		e.recordOutcome(false)
		return stageerr.New("apply", stageerr.SanityFailure, err)
	}
	if len(applied) == 0 {
		e.recordJournal(store.Event{Kind: "evolution", Action: "no_change", Description: "all updates matched on-disk content", Status: "skipped"})
		return nil
	}

	testPaths, err := applier.DiscoverTests(e.Applier.Root)
	if err != nil {
		testPaths = nil
	}
	var summary applier.SweepSummary
	if e.ConfigMgr != nil && e.ConfigMgr.Get().Workspace.SandboxTests {
		summary, err = applier.RunSweepSandboxed(ctx, e.Applier.Root, testPaths)
		if err != nil {
			e.Logger.Warn("sandboxed test sweep failed, falling back to host subprocesses", "error", err)
			summary = applier.RunSweep(ctx, e.Applier.Root, testPaths)
		}
	} else {
		summary = applier.RunSweep(ctx, e.Applier.Root, testPaths)
	}
	if !summary.Success {
		if rollbackErr := e.Applier.Rollback(applied); rollbackErr != nil {
			e.Logger.Error("rollback after failed test sweep also failed", "error", rollbackErr)
		}
		failed, total := countOutcomes(summary)
		e.recordOutcome(false)
		e.recordJournal(store.Event{Kind: "evolution", Action: "test_failure", Description: fmt.Sprintf("%d/%d tests failed", failed, total), Status: "failed"})
		return stageerr.New("test", stageerr.TestFailure, fmt.Errorf("%d of %d tests failed", failed, total))
	}

	var sha string
	if e.Syncer != nil {
		if sha, err = e.Syncer.Sync(fmt.Sprintf("ain: %s", intent)); err != nil {
			e.recordOutcome(false)
			e.recordJournal(store.Event{Kind: "evolution", Action: "push_rejected", Description: err.Error(), Status: "failed", Error: err.Error()})
			return stageerr.New("commit", stageerr.PushRejected, err)
		}
	}

	e.recordOutcome(true)
	e.dualWrite(intent, paths, sha)

	if e.Roadmap != nil {
		if advanced, advErr := e.Roadmap.CheckAndAdvance(e.Applier.Root); advErr == nil && advanced {
			e.commitRoadmapAdvance()
		}
	}

	return nil
}

// commitRoadmapAdvance renders the advanced roadmap to ROADMAP.md, persists
// the roadmap snapshot, and emits a second commit for the advance itself
// (§3 "current_focus advances to the declared next step and a git commit is
// emitted") — separate from the evolution's own commit, since the roadmap
// can advance on a cycle whose file changes already landed in an earlier
// commit.
func (e *Engine) commitRoadmapAdvance() {
	rendered := e.Roadmap.Render()

	if err := os.WriteFile(filepath.Join(e.Applier.Root, "ROADMAP.md"), []byte(rendered), 0o644); err != nil {
		e.Logger.Warn("failed to write ROADMAP.md", "error", err)
	}
	if err := e.Roadmap.Persist(); err != nil {
		e.Logger.Warn("failed to persist roadmap snapshot", "error", err)
	}

	var sha string
	var syncErr error
	if e.Syncer != nil {
		sha, syncErr = e.Syncer.Sync("ain: roadmap advance")
	}
	if syncErr != nil {
		e.recordJournal(store.Event{Kind: "evolution", Action: "roadmap_advance", Description: rendered, Status: "failed", Error: syncErr.Error()})
		return
	}
	desc := rendered
	if sha != "" {
		desc = fmt.Sprintf("commit %s\n%s", sha, rendered)
	}
	e.recordJournal(store.Event{Kind: "evolution", Action: "roadmap_advance", Description: desc, Status: "success"})
}

// readOriginalFiles loads the on-disk content (if any) of every file the
// dreamer's intent is likely to touch, approximated here as the current
// roadmap step's Criteria.FilePath when set, and otherwise an empty map
// (so Code treats every proposed file as a fresh write).
func (e *Engine) readOriginalFiles(intent string) (map[string]string, error) {
	out := make(map[string]string)
	if e.Roadmap == nil {
		return out, nil
	}
	step, ok := e.Roadmap.CurrentStep()
	if !ok || step.Criteria.FilePath == "" {
		return out, nil
	}
	full := filepath.Join(e.Applier.Root, step.Criteria.FilePath)
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	out[step.Criteria.FilePath] = string(data)
	return out, nil
}

// recentMemorySummaries fetches the last n journaled evolution outcomes as
// short text summaries, fed to the dreamer as recent-history context.
func (e *Engine) recentMemorySummaries(n int) []string {
	if e.Journal == nil {
		return nil
	}
	events, err := e.Journal.RecentEventsByKind("evolution", n)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, fmt.Sprintf("[%s] %s: %s", ev.Status, ev.Action, ev.Description))
	}
	return out
}

// dualWrite records the completed evolution to both the Journal and Vector
// Memory (§3 "every evolution event is written to both the Journal and
// Vector Memory in the same transaction boundary" — approximated here as
// sequential writes since the two stores are different engines).
func (e *Engine) dualWrite(intent string, paths []string, sha string) {
	text := fmt.Sprintf("evolved %v: %s (commit %s)", paths, intent, sha)

	e.recordJournal(store.Event{
		Kind:        "evolution",
		Action:      "applied",
		TargetPath:  fmt.Sprint(paths),
		Description: text,
		Status:      "success",
	})

	if e.VecMem == nil {
		return
	}
	vec := embedFallback(text, e.VecMem.Dimension())
	if _, err := e.VecMem.Insert(vectormem.Record{
		Text:       text,
		Vector:     vec,
		MemoryType: vectormem.TypeEvolution,
		Source:     "scheduler",
		Timestamp:  time.Now(),
	}); err != nil {
		e.Logger.Warn("vector memory insert failed", "error", err)
	}
}

func (e *Engine) recordJournal(ev store.Event) {
	if e.Journal == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if _, err := e.Journal.AppendEvent(ev); err != nil {
		e.Logger.Warn("journal append failed", "error", err)
	}
}

// embedFallback derives a deterministic pseudo-embedding from text length
// and byte histogram when no real embedding provider is wired (§1 "the
// embedding provider" is out of scope) — good enough to keep cosine search
// self-consistent within a single deployment's declared dimension.
func embedFallback(text string, dim int) []float32 {
	if dim <= 0 {
		dim = 8
	}
	vec := make([]float32, dim)
	for i, b := range []byte(text) {
		vec[i%dim] += float32(b) / 255.0
	}
	return vec
}

func countOutcomes(summary applier.SweepSummary) (failed, total int) {
	for _, r := range summary.Results {
		total++
		if r.Outcome == applier.TestFailed {
			failed++
		}
	}
	return failed, total
}
