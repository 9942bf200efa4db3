package factcore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// StepStatus is one of the three roadmap step lifecycle states (§3).
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

// CompletionCriteria names a file+substring pair that, when both are
// present in the working tree, marks a step's work as done (§3 "When the
// active step's completion criteria ... are met").
type CompletionCriteria struct {
	FilePath  string `json:"file_path"`
	Substring string `json:"substring"`
}

// Step is one {name, desc, status, phase} roadmap entry, plus the criteria
// and successor pointer this module adds to make advancement mechanical.
type Step struct {
	Name       string              `json:"name"`
	Desc       string              `json:"desc"`
	Status     StepStatus          `json:"status"`
	Phase      string              `json:"phase"`
	Criteria   CompletionCriteria  `json:"criteria,omitempty"`
	NextPhase  string              `json:"next_phase,omitempty"`
	NextStep   string              `json:"next_step,omitempty"`
}

// Focus identifies the current_focus pointer as a (phase, step) pair.
type Focus struct {
	Phase string `json:"phase"`
	Step  string `json:"step"`
}

// Roadmap is the nested {phase -> {step_key -> Step}} structure from §3,
// with a current_focus pointer.
type Roadmap struct {
	mu           sync.RWMutex
	path         string
	Phases       map[string]map[string]*Step `json:"phases"`
	CurrentFocus Focus                       `json:"current_focus"`
}

// NewRoadmap constructs an empty roadmap persisted at path.
func NewRoadmap(path string) *Roadmap {
	return &Roadmap{path: path, Phases: make(map[string]map[string]*Step)}
}

// LoadRoadmap hydrates a Roadmap from path, the same "missing file means
// fresh start" idiom factcore.Load uses for the Core snapshot. The roadmap
// is kept in its own file, separate from the Core snapshot.
func LoadRoadmap(path string) (*Roadmap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRoadmap(path), nil
		}
		return nil, fmt.Errorf("factcore: read roadmap %s: %w", path, err)
	}
	r := NewRoadmap(path)
	if len(data) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("factcore: parse roadmap %s: %w", path, err)
	}
	if r.Phases == nil {
		r.Phases = make(map[string]map[string]*Step)
	}
	return r, nil
}

// Persist atomically writes the roadmap snapshot to its path.
func (r *Roadmap) Persist() error {
	r.mu.RLock()
	data, err := json.MarshalIndent(r, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("factcore: marshal roadmap: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("factcore: write roadmap %s: %w", tmp, err)
	}
	return os.Rename(tmp, r.path)
}

// AddStep registers a step under phase/stepKey, creating the phase map if
// needed.
func (r *Roadmap) AddStep(phase, stepKey string, step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Phases[phase] == nil {
		r.Phases[phase] = make(map[string]*Step)
	}
	step.Phase = phase
	r.Phases[phase][stepKey] = &step
}

// CurrentStep resolves current_focus via direct nested dict access.
func (r *Roadmap) CurrentStep() (*Step, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stepLocked(r.CurrentFocus.Phase, r.CurrentFocus.Step)
}

// StepByPath resolves a step via the "phase_*" traversal form — §8's second
// lookup path, which must agree with CurrentStep's direct-access path for
// any non-empty current_focus.
func (r *Roadmap) StepByPath(phase, step string) (*Step, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stepLocked(phase, step)
}

func (r *Roadmap) stepLocked(phase, step string) (*Step, bool) {
	if phase == "" || step == "" {
		return nil, false
	}
	steps, ok := r.Phases[phase]
	if !ok {
		return nil, false
	}
	s, ok := steps[step]
	if !ok || s == nil {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// CheckAndAdvance evaluates the current focus's completion criteria against
// root (the working tree); if met and the step isn't already completed, it
// marks the step completed, advances current_focus to its declared
// successor, and returns true. Calling it twice in a row without new commits
// in between advances at most once (§8 "Roadmap advance ... applying the
// completion criteria check twice in a row advances at most once") because
// the second call either sees the same step already completed (no declared
// successor) or evaluates the successor's own criteria.
func (r *Roadmap) CheckAndAdvance(root string) (advanced bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.stepLocked(r.CurrentFocus.Phase, r.CurrentFocus.Step)
	if !ok || cur.Status == StepCompleted {
		return false, nil
	}

	met, err := criteriaMet(root, cur.Criteria)
	if err != nil {
		return false, err
	}
	if !met {
		return false, nil
	}

	r.Phases[cur.Phase][r.CurrentFocus.Step].Status = StepCompleted
	if cur.NextPhase != "" && cur.NextStep != "" {
		r.CurrentFocus = Focus{Phase: cur.NextPhase, Step: cur.NextStep}
		if next, nok := r.Phases[cur.NextPhase][cur.NextStep]; nok {
			next.Status = StepInProgress
		}
	}
	return true, nil
}

func criteriaMet(root string, c CompletionCriteria) (bool, error) {
	if c.FilePath == "" {
		return false, nil
	}
	data, err := os.ReadFile(filepath.Join(root, c.FilePath))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("factcore: read completion file %s: %w", c.FilePath, err)
	}
	if c.Substring == "" {
		return true, nil
	}
	return strings.Contains(string(data), c.Substring), nil
}

// Render produces the auto-generated ROADMAP.md contents (§6 on-disk
// layout).
func (r *Roadmap) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("# Roadmap\n\n")
	for phase, steps := range r.Phases {
		fmt.Fprintf(&b, "## %s\n\n", phase)
		for key, step := range steps {
			marker := " "
			switch step.Status {
			case StepCompleted:
				marker = "x"
			case StepInProgress:
				marker = "~"
			}
			focus := ""
			if r.CurrentFocus.Phase == phase && r.CurrentFocus.Step == key {
				focus = " ← current focus"
			}
			fmt.Fprintf(&b, "- [%s] **%s**: %s%s\n", marker, step.Name, step.Desc, focus)
		}
		b.WriteString("\n")
	}
	return b.String()
}
