// Package pipeline sequences the dreamer/coder evolution pipeline (§4.4):
// snapshot compression, dreamer intent, coder code, and update parsing, each
// a plain Go function called in turn by scheduler.Engine.RunEvolution (Code
// calls ParseUpdates itself), structurally grounded on the
// teacher's internal/temporal/workflow.go phase sequence (PLAN/EXECUTE/
// REVIEW) but with retries as plain for-loops instead of activity policies.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/antigravity-dev/ain/internal/factcore"
	"github.com/antigravity-dev/ain/internal/llm"
	"github.com/antigravity-dev/ain/internal/sanitize"
)

const (
	dreamerMaxAttempts = 3
	coderMaxAttempts   = 5
	minDreamerReplyLen = 50

	coreFileByteBudget   = 10000
	engineFileByteBudget = 4000
	defaultByteBudget    = 1000
)

// Update is one proposed whole-file replacement extracted from the coder's
// response.
type Update struct {
	Filename string
	Code     string
}

// Result is the pipeline's outcome for one evolution tick.
type Result struct {
	Intent      string
	Updates     []Update
	NoEvolution bool
	Reason      string
}

// Pipeline wires together the two LLM roles, the fact core, and the working
// tree path needed to run one evolution cycle.
type Pipeline struct {
	Dreamer     *llm.Client
	Coder       *llm.Client
	Core        *factcore.Core
	Root        string
	Protected   map[string]bool
	PrimeDirective string
	Validator   *sanitize.Validator
	Logger      *slog.Logger
}

// FileBudget classifies a path into the §4.4 per-file byte budget: core
// files (engine entrypoints) get the largest allowance, engine-package files
// a middle one, everything else the smallest.
func FileBudget(path string) int {
	switch {
	case strings.HasPrefix(path, "main.") || strings.Contains(path, "/core/"):
		return coreFileByteBudget
	case strings.Contains(path, "/engine/") || strings.Contains(path, "internal/"):
		return engineFileByteBudget
	default:
		return defaultByteBudget
	}
}

// BuildSnapshot assembles the {role, file, truncated-content} blocks for the
// dreamer/coder prompts from Snapshot() plus per-file budgets.
func (p *Pipeline) BuildSnapshot() (string, error) {
	raw, err := factcore.Snapshot(p.Root, p.Protected)
	if err != nil {
		return "", fmt.Errorf("pipeline: snapshot: %w", err)
	}
	return truncatePerFileBlocks(raw), nil
}

var fileBlockRe = regexp.MustCompile(`(?s)--- FILE: (.+?) ---\n(.*?)(?:\n--- FILE:|\z)`)

func truncatePerFileBlocks(snapshot string) string {
	return fileBlockRe.ReplaceAllStringFunc(snapshot, func(block string) string {
		m := fileBlockRe.FindStringSubmatch(block)
		if m == nil {
			return block
		}
		path, content := m[1], m[2]
		budget := FileBudget(path)
		if len(content) > budget {
			content = content[:budget] + "\n... [truncated]"
		}
		return fmt.Sprintf("--- FILE: %s ---\n%s", path, content)
	})
}

var (
	systemIntentRe = regexp.MustCompile(`(?mi)^SYSTEM_INTENT:\s*(.+)$`)
	intentTagRe    = regexp.MustCompile(`(?mi)^(?:INTENT|GOAL|NEXT_STEP):\s*(.+)$`)
	noEvolutionRe  = regexp.MustCompile(`(?mi)^NO_EVOLUTION_NEEDED:\s*(.*)$`)
)

// Dream calls the dreamer model up to dreamerMaxAttempts times with an
// escalating-brevity system prompt, extracting the declared intent by a
// regex cascade (§4.4 step 2).
func (p *Pipeline) Dream(ctx context.Context, snapshot, roadmapStep string, recentSummaries []string) (intent string, noEvolution bool, reason string, err error) {
	userPrompt := buildDreamerPrompt(snapshot, roadmapStep, recentSummaries, p.PrimeDirective)

	var lastErr error
	for attempt := 1; attempt <= dreamerMaxAttempts; attempt++ {
		sys := dreamerSystemPrompt(attempt)
		resp, callErr := p.Dreamer.Complete(ctx, sys, userPrompt)
		if callErr != nil {
			lastErr = callErr
			continue
		}
		if m := noEvolutionRe.FindStringSubmatch(resp.Content); m != nil {
			return "", true, strings.TrimSpace(m[1]), nil
		}
		if len(strings.TrimSpace(resp.Content)) < minDreamerReplyLen {
			lastErr = fmt.Errorf("pipeline: dreamer reply too short (%d chars)", len(resp.Content))
			continue
		}
		return extractIntent(resp.Content), false, "", nil
	}
	return "", false, "", fmt.Errorf("pipeline: dreamer exhausted %d attempts: %w", dreamerMaxAttempts, lastErr)
}

func dreamerSystemPrompt(attempt int) string {
	base := "You are the dreamer. Reply with a line starting 'SYSTEM_INTENT:' naming the single most valuable next change."
	if attempt == 1 {
		return base
	}
	return fmt.Sprintf("%s Be brief: prior attempt(s) failed (%d so far); respond in one sentence.", base, attempt-1)
}

func buildDreamerPrompt(snapshot, roadmapStep string, recentSummaries []string, primeDirective string) string {
	var b strings.Builder
	if primeDirective != "" {
		fmt.Fprintf(&b, "Prime directive: %s\n\n", primeDirective)
	}
	if roadmapStep != "" {
		fmt.Fprintf(&b, "Current roadmap step: %s\n\n", roadmapStep)
	}
	if len(recentSummaries) > 0 {
		b.WriteString("Last evolution summaries:\n")
		for _, s := range recentSummaries {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}
	b.WriteString(snapshot)
	return b.String()
}

// extractIntent applies the §4.4 regex cascade: SYSTEM_INTENT: -> tag
// variants -> first meaningful line -> cleaned whole text.
func extractIntent(text string) string {
	if m := systemIntentRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := intentTagRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return strings.TrimSpace(text)
}

// sanitizeRulesPrompt is embedded verbatim in the coder prompt per §4.4 step
// 3 ("sanitizer rules verbatim: no diff, no omissions, whole-file output").
const sanitizeRulesPrompt = `Output rules: reply with complete file contents only, never a diff or patch.
Do not use '+'/'-' line prefixes. Do not omit any code with comments like
"# ... existing". Wrap each file in a fenced code block preceded by a line
"FILE: <relative/path>". If no change is warranted, reply with a single line
"NO_EVOLUTION_NEEDED:<reason>" instead.`

// Code calls the coder model up to coderMaxAttempts times, sanitizing and
// validating each attempt before accepting it (§4.4 step 3). rejectionFeed
// carries the previous attempt's rejection reason into the next attempt's
// system prompt.
func (p *Pipeline) Code(ctx context.Context, intent string, originalFiles map[string]string, errorHints []string) ([]Update, error) {
	userPrompt := buildCoderPrompt(intent, originalFiles, errorHints)

	var rejection string
	var lastErr error
	for attempt := 1; attempt <= coderMaxAttempts; attempt++ {
		sys := sanitizeRulesPrompt
		if rejection != "" {
			sys += "\n\nYour previous attempt was rejected: " + rejection
		}
		resp, callErr := p.Coder.Complete(ctx, sys, userPrompt)
		if callErr != nil {
			lastErr = callErr
			rejection = callErr.Error()
			continue
		}

		clean, report := sanitize.Sanitize(resp.Content)
		if report.HasConflict || report.HasDiff {
			rejection = "residual conflict markers or diff-format lines"
			lastErr = fmt.Errorf("pipeline: %s", rejection)
			continue
		}

		updates, parseErr := ParseUpdates(clean, intent)
		if parseErr != nil {
			rejection = parseErr.Error()
			lastErr = parseErr
			continue
		}
		if len(updates) == 0 {
			rejection = "no FILE blocks found"
			lastErr = fmt.Errorf("pipeline: %s", rejection)
			continue
		}

		rejected := false
		for _, u := range updates {
			onDisk := originalFiles[u.Filename]
			if p.Validator != nil {
				if _, verr := p.Validator.Validate(sanitize.Update{Filename: u.Filename, Content: u.Code}, onDisk); verr != nil {
					rejection = verr.Error()
					lastErr = verr
					rejected = true
					break
				}
			}
		}
		if rejected {
			continue
		}

		return updates, nil
	}
	return nil, fmt.Errorf("pipeline: coder exhausted %d attempts: %w", coderMaxAttempts, lastErr)
}

func buildCoderPrompt(intent string, originalFiles map[string]string, errorHints []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dreamer intent: %s\n\n", intent)
	for path, content := range originalFiles {
		budget := FileBudget(path)
		if len(content) > budget {
			continue // only embed original contents for files <= the large threshold
		}
		fmt.Fprintf(&b, "--- FILE: %s ---\n%s\n\n", path, content)
	}
	if len(errorHints) > 0 {
		b.WriteString("Historical error memory:\n")
		for _, h := range errorHints {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		b.WriteString("\n")
	}
	b.WriteString(sanitizeRulesPrompt)
	return b.String()
}
