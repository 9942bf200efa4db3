package factcore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAddFactAndGetFact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.json")
	c := New(path)

	if err := c.AddFact("mood", "curious"); err != nil {
		t.Fatalf("AddFact: %v", err)
	}
	if got := c.GetFact([]string{"mood"}, nil); got != "curious" {
		t.Errorf("GetFact(mood) = %v, want curious", got)
	}

	if err := c.AddFact("profile", map[string]any{"name": "ain", "version": float64(1)}); err != nil {
		t.Fatalf("AddFact nested: %v", err)
	}
	if got := c.GetFact([]string{"profile", "name"}, nil); got != "ain" {
		t.Errorf("GetFact(profile, name) = %v, want ain", got)
	}
	if got := c.GetFact([]string{"profile", "missing"}, "fallback"); got != "fallback" {
		t.Errorf("GetFact(profile, missing) = %v, want fallback", got)
	}

	if n := c.Node("profile"); n == nil || n.Data["name"] != "ain" {
		t.Errorf("Node(profile) = %+v, want data.name=ain", n)
	}
}

func TestPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.json")
	c := New(path)
	if err := c.AddFact("k", "v"); err != nil {
		t.Fatalf("AddFact: %v", err)
	}
	if err := c.AddEdge("a", "relates_to", "b", 0.5); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := reloaded.GetFact([]string{"k"}, nil); got != "v" {
		t.Errorf("reloaded GetFact(k) = %v, want v", got)
	}
	n := reloaded.Node("a")
	if n == nil || len(n.Edges) != 1 || n.Edges[0].Target != "b" {
		t.Errorf("reloaded Node(a) = %+v, want one edge to b", n)
	}
}

func TestLoadMissingFileYieldsEmptyCore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
	if len(c.Facts) != 0 || len(c.Nodes) != 0 {
		t.Errorf("Load missing file should yield empty core, got %+v", c)
	}
}

func TestLoadRecoversFromTruncatedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.json")
	c := New(path)
	if err := c.AddFact("k1", "v1"); err != nil {
		t.Fatalf("AddFact: %v", err)
	}
	if err := c.AddFact("k2", "v2"); err != nil {
		t.Fatalf("AddFact: %v", err)
	}

	good, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	// Simulate a crash mid-write: truncate partway through, leaving trailing
	// garbage after the last complete closing brace.
	cut := len(good) - 5
	corrupted := append(append([]byte{}, good[:cut]...), []byte(`xyz`)...)
	if err := os.WriteFile(path, corrupted, 0o644); err != nil {
		t.Fatalf("write corrupted snapshot: %v", err)
	}

	recovered, err := Load(path)
	if err != nil {
		t.Fatalf("Load corrupted: %v", err)
	}
	if got := recovered.GetFact([]string{"k1"}, nil); got != "v1" {
		t.Errorf("recovered GetFact(k1) = %v, want v1", got)
	}
}

func TestDeleteFactRemovesNode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.json")
	c := New(path)
	if err := c.AddFact("x", map[string]any{"a": 1.0}); err != nil {
		t.Fatalf("AddFact: %v", err)
	}
	if err := c.DeleteFact("x"); err != nil {
		t.Fatalf("DeleteFact: %v", err)
	}
	if got := c.GetFact([]string{"x"}, "gone"); got != "gone" {
		t.Errorf("GetFact after delete = %v, want gone", got)
	}
	if n := c.Node("x"); n != nil {
		t.Errorf("Node after delete = %+v, want nil", n)
	}
}

func TestRoadmapAdvanceAtMostOnce(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "progress.txt"), []byte("phase one done"), 0o644); err != nil {
		t.Fatalf("write progress file: %v", err)
	}

	r := NewRoadmap(filepath.Join(root, "roadmap.json"))
	r.AddStep("genesis", "step_one", Step{
		Name:      "bootstrap",
		Desc:      "stand up the substrate",
		Status:    StepInProgress,
		Criteria:  CompletionCriteria{FilePath: "progress.txt", Substring: "phase one done"},
		NextPhase: "genesis",
		NextStep:  "step_two",
	})
	r.AddStep("genesis", "step_two", Step{
		Name:   "expand",
		Desc:   "grow the roadmap",
		Status: StepPending,
	})
	r.CurrentFocus = Focus{Phase: "genesis", Step: "step_one"}

	first, err := r.CheckAndAdvance(root)
	if err != nil {
		t.Fatalf("CheckAndAdvance first call: %v", err)
	}
	if !first {
		t.Fatalf("first CheckAndAdvance = false, want true (criteria already met)")
	}
	if r.CurrentFocus != (Focus{Phase: "genesis", Step: "step_two"}) {
		t.Errorf("CurrentFocus after advance = %+v, want step_two", r.CurrentFocus)
	}

	second, err := r.CheckAndAdvance(root)
	if err != nil {
		t.Fatalf("CheckAndAdvance second call: %v", err)
	}
	if second {
		t.Errorf("second CheckAndAdvance = true, want false (already advanced once)")
	}
}

func TestRoadmapCurrentStepMatchesStepByPath(t *testing.T) {
	r := NewRoadmap(filepath.Join(t.TempDir(), "roadmap.json"))
	r.AddStep("genesis", "step_one", Step{Name: "bootstrap", Status: StepInProgress})
	r.CurrentFocus = Focus{Phase: "genesis", Step: "step_one"}

	viaFocus, ok := r.CurrentStep()
	if !ok {
		t.Fatalf("CurrentStep: not found")
	}
	viaPath, ok := r.StepByPath("genesis", "step_one")
	if !ok {
		t.Fatalf("StepByPath: not found")
	}
	if *viaFocus != *viaPath {
		t.Errorf("CurrentStep() = %+v, StepByPath() = %+v, want equal", viaFocus, viaPath)
	}
}

func TestRoadmapPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roadmap.json")
	r := NewRoadmap(path)
	r.AddStep("genesis", "step_one", Step{Name: "bootstrap", Desc: "first step", Status: StepInProgress})
	r.CurrentFocus = Focus{Phase: "genesis", Step: "step_one"}

	if err := r.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}

	loaded, err := LoadRoadmap(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	step, ok := loaded.CurrentStep()
	if !ok {
		t.Fatalf("expected current step to survive round trip")
	}
	if step.Name != "bootstrap" || step.Desc != "first step" {
		t.Fatalf("unexpected step after round trip: %+v", step)
	}
}

func TestLoadRoadmapMissingFileYieldsEmptyRoadmap(t *testing.T) {
	r, err := LoadRoadmap(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := r.CurrentStep(); ok {
		t.Fatalf("expected no current step on fresh roadmap")
	}
}
