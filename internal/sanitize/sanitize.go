// Package sanitize implements the proposal safety gate's first stage
// (§4.3): a pure text-cleanup pass over LLM-generated file content, followed
// by a Validator enforcing the filename/size/protection policy.
package sanitize

import (
	"regexp"
	"strings"
)

// Report records what the sanitizer changed, so callers and the journal can
// audit how often each cleanup rule fires.
type Report struct {
	Cleaned         bool
	HasConflict     bool
	HasDiff         bool
	HasOmission     bool
	StrayHunkHeader bool
}

var (
	conflictStart = "<<<<<<<"
	conflictEnd   = ">>>>>>>"
	conflictMid   = "======="

	tripleSingleQuote = "'''"
	tripleBacktick    = "```"

	// hunkHeaderRe matches a unified-diff hunk header line, e.g. "@@ -1,4 +1,6 @@".
	hunkHeaderRe = regexp.MustCompile(`^@@.*@@\s*$`)

	fenceRe = regexp.MustCompile("^```")

	// omissionRes mirrors original_source/code_sanitizer.py's OMISSION_PATTERNS:
	// comment markers a lazy coder leaves instead of writing the full file.
	omissionRes = []*regexp.Regexp{
		regexp.MustCompile(`#\s*\.\.\.\s*existing`),
		regexp.MustCompile(`#\s*\.\.\.\s*rest`),
		regexp.MustCompile(`#\s*\.\.\.\s*same`),
		regexp.MustCompile(`#\s*\.\.\.\s*unchanged`),
		regexp.MustCompile(`#\s*keep\s+existing`),
		regexp.MustCompile(`#\s*unchanged\s+from`),
		regexp.MustCompile(`#\s*omitted`),
		regexp.MustCompile(`#\s*truncated`),
	}
)

func isOmissionLine(line string) bool {
	for _, re := range omissionRes {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// Sanitize is a pure function (raw) -> (clean, report). It never touches the
// filesystem or LLM, matching the teacher's `transpiler.Sanitizer.Sanitize`
// pure-pipeline shape generalized from Mangle-clause rewriting to
// line-oriented text cleanup (§4.3).
func Sanitize(raw string) (string, Report) {
	var report Report

	text := strings.ReplaceAll(raw, tripleSingleQuote, tripleBacktick)
	if text != raw {
		report.Cleaned = true
	}

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	inFence := false
	for _, line := range lines {
		if fenceRe.MatchString(strings.TrimSpace(line)) {
			inFence = !inFence
			out = append(out, line)
			continue
		}

		// §9 Open Question #1: strip `@@...@@` hunk headers unconditionally,
		// inside or outside fences, before fence-scoped +/- rewriting runs.
		if hunkHeaderRe.MatchString(strings.TrimSpace(line)) {
			report.Cleaned = true
			report.HasDiff = true
			if !inFence {
				report.StrayHunkHeader = true
			}
			continue
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == conflictMid || strings.Contains(line, conflictStart) || strings.Contains(line, conflictEnd) {
			report.Cleaned = true
			report.HasConflict = true
			continue
		}

		if inFence {
			switch {
			case strings.HasPrefix(line, "+ "):
				out = append(out, line[2:])
				report.Cleaned = true
				report.HasDiff = true
				continue
			case strings.HasPrefix(line, "- "):
				// A diff-style removal line inside a fence: the dreamer/coder
				// meant to delete this content, so it is dropped entirely
				// rather than kept verbatim.
				report.Cleaned = true
				report.HasDiff = true
				report.HasOmission = true
				continue
			}
		}

		if isOmissionLine(line) {
			report.HasOmission = true
		}

		out = append(out, line)
	}

	clean := strings.Join(out, "\n")
	clean, closedOdd := closeOddTripleQuoteFences(clean)
	if closedOdd {
		report.Cleaned = true
	}

	return clean, report
}

// closeOddTripleQuoteFences forces an odd count of triple-backtick fences
// closed by appending a trailing fence, matching §4.3's "forces odd-count
// triple-quote docstrings closed".
func closeOddTripleQuoteFences(text string) (string, bool) {
	count := strings.Count(text, tripleBacktick)
	if count%2 == 0 {
		return text, false
	}
	if strings.HasSuffix(text, "\n") {
		return text + tripleBacktick + "\n", true
	}
	return text + "\n" + tripleBacktick, true
}
