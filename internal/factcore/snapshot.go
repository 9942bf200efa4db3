package factcore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// snapshotMaxFileChars is the per-file truncation limit for
// get_system_snapshot (§4.2: "truncates files above 15 000 characters").
const snapshotMaxFileChars = 15000

// knownSnapshotExtensions restricts the walk to source-shaped files, the
// same filter get_system_snapshot applies before elision/truncation.
var knownSnapshotExtensions = map[string]bool{
	".go":   true,
	".py":   true,
	".md":   true,
	".toml": true,
	".yaml": true,
	".yml":  true,
	".json": true,
	".sh":   true,
}

// skipDirs are never descended into when building a snapshot.
var skipDirs = map[string]bool{
	".git":     true,
	"backups":  true,
	"__pycache__": true,
	"node_modules": true,
	".cache":   true,
}

// Snapshot walks root and emits one "--- FILE: path ---" block per known
// source file, eliding anything whose relative path is in protected and
// truncating any file's content past snapshotMaxFileChars (§4.2).
func Snapshot(root string, protected map[string]bool) (string, error) {
	var b strings.Builder
	var paths []string

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if rel != "." && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !knownSnapshotExtensions[filepath.Ext(path)] {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("factcore: walk %s: %w", root, err)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		if protected[rel] {
			continue
		}
		content, readErr := os.ReadFile(filepath.Join(root, rel))
		if readErr != nil {
			continue
		}
		text := string(content)
		if len(text) > snapshotMaxFileChars {
			text = text[:snapshotMaxFileChars] + "\n... [truncated]"
		}
		fmt.Fprintf(&b, "--- FILE: %s ---\n%s\n", rel, text)
	}

	return b.String(), nil
}
