package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// fileMarkerRe splits on "FILE: <path>" markers, the primary format the
	// coder prompt instructs (§4.4 step 4).
	fileMarkerRe = regexp.MustCompile(`(?m)^\s*FILE:\s*(\S+)\s*$`)

	// pythonHeaderRe matches the fallback "python:filename.py" fence-info
	// header some coder replies use instead of a bare FILE: marker.
	pythonHeaderRe = regexp.MustCompile("(?m)^```\\s*python:(\\S+)\\s*$")

	// filenameLineRe matches a bare filename line immediately preceding a
	// fenced block — the second fallback pattern.
	filenameLineRe = regexp.MustCompile(`(?m)^([\w./-]+\.\w+)\s*$`)

	fencedBlockRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\n(.*?)```")
)

// ParseUpdates splits clean (already-sanitized) coder output into a list of
// {filename, code} updates (§4.4 step 4). Sentinel NO_EVOLUTION_NEEDED is
// handled by the caller before ParseUpdates runs; ParseUpdates itself only
// ever returns an error if nothing in the text resembles a file update.
func ParseUpdates(clean string, dreamerIntent string) ([]Update, error) {
	if updates := parseByFileMarkers(clean); len(updates) > 0 {
		return updates, nil
	}
	if updates := parseByPythonHeaders(clean); len(updates) > 0 {
		return updates, nil
	}
	if updates := parseByFilenameLine(clean); len(updates) > 0 {
		return updates, nil
	}
	if update, ok := parseLastResortSingleBlock(clean, dreamerIntent); ok {
		return []Update{update}, nil
	}
	return nil, fmt.Errorf("pipeline: no FILE blocks or fenced code recognized in coder output")
}

func normalizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Trim(name, "`'\"")
	return strings.TrimPrefix(name, "./")
}

// parseByFileMarkers is the primary path: split on "FILE: <path>" lines and
// take the first fenced block after each marker as that file's content.
func parseByFileMarkers(text string) []Update {
	markers := fileMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(markers) == 0 {
		return nil
	}

	var updates []Update
	for i, m := range markers {
		filename := normalizeFilename(text[m[2]:m[3]])
		sectionStart := m[1]
		sectionEnd := len(text)
		if i+1 < len(markers) {
			sectionEnd = markers[i+1][0]
		}
		section := text[sectionStart:sectionEnd]

		block := fencedBlockRe.FindStringSubmatch(section)
		if block == nil {
			continue
		}
		updates = append(updates, Update{Filename: filename, Code: block[1]})
	}
	return updates
}

// parseByPythonHeaders handles the "```python:filename.py" fence-info
// fallback.
func parseByPythonHeaders(text string) []Update {
	matches := pythonHeaderRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	var updates []Update
	for _, m := range matches {
		filename := normalizeFilename(text[m[2]:m[3]])
		rest := text[m[1]:]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		updates = append(updates, Update{Filename: filename, Code: rest[:end]})
	}
	return updates
}

// parseByFilenameLine handles a bare filename line immediately preceding a
// fenced block, with no FILE: marker at all.
func parseByFilenameLine(text string) []Update {
	lines := strings.Split(text, "\n")
	var updates []Update
	for i := 0; i < len(lines)-1; i++ {
		line := strings.TrimSpace(lines[i])
		if !filenameLineRe.MatchString(line) {
			continue
		}
		next := strings.TrimSpace(lines[i+1])
		if !strings.HasPrefix(next, "```") {
			continue
		}
		rest := strings.Join(lines[i+1:], "\n")
		block := fencedBlockRe.FindStringSubmatch(rest)
		if block == nil {
			continue
		}
		updates = append(updates, Update{Filename: normalizeFilename(line), Code: block[1]})
	}
	return updates
}

// filenameHintRe extracts a plausible relative path out of free-form intent
// text, for the last-resort single-block fallback.
var filenameHintRe = regexp.MustCompile(`[\w./-]+\.\w+`)

// parseLastResortSingleBlock handles a reply with exactly one fenced code
// block and no filename markers at all, inferring the filename from the
// dreamer's intent text (§4.4 step 4, final fallback).
func parseLastResortSingleBlock(text, dreamerIntent string) (Update, bool) {
	blocks := fencedBlockRe.FindAllStringSubmatch(text, -1)
	if len(blocks) != 1 {
		return Update{}, false
	}
	hint := filenameHintRe.FindString(dreamerIntent)
	if hint == "" {
		return Update{}, false
	}
	return Update{Filename: normalizeFilename(hint), Code: blocks[0][1]}, true
}
