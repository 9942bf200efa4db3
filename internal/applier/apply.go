// Package applier writes proposal updates to the working tree and runs the
// post-apply test sweep (§4.5), backing up and rolling back on failure.
package applier

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Update is one file the proposal gate has already sanitized and validated.
type Update struct {
	Filename string
	Content  string
}

// Applied records what Apply actually did to one file, for the journal and
// for Rollback.
type Applied struct {
	Filename   string
	BackupPath string // empty if the file did not previously exist
	Created    bool
}

// Applier writes updates under Root, keeping backups under Root/BackupDir.
type Applier struct {
	Root      string
	BackupDir string
}

// New constructs an Applier rooted at root, backing up into backupDir
// (relative to root).
func New(root, backupDir string) *Applier {
	if backupDir == "" {
		backupDir = "backups"
	}
	return &Applier{Root: root, BackupDir: backupDir}
}

// ApplyAll applies every update in order, returning the list of changes
// actually made. If any update is identical to the on-disk content it is
// skipped (not an error) per §4.5 "abort if identical" read at the
// per-file level; ApplyAll only returns an error for I/O failures, since
// the "no change" rejection itself is the validator's job (§4.3), not
// the applier's.
func (a *Applier) ApplyAll(updates []Update) ([]Applied, error) {
	var applied []Applied
	for _, u := range updates {
		app, skipped, err := a.apply(u)
		if err != nil {
			a.rollbackAll(applied)
			return nil, err
		}
		if skipped {
			continue
		}
		applied = append(applied, app)
	}
	return applied, nil
}

func (a *Applier) apply(u Update) (Applied, bool, error) {
	target := filepath.Join(a.Root, u.Filename)

	existing, err := os.ReadFile(target)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return Applied{}, false, fmt.Errorf("applier: read %s: %w", u.Filename, err)
	}
	if exists && string(existing) == u.Content {
		return Applied{}, true, nil
	}

	if !exists {
		if err := a.createPackageStub(u.Filename); err != nil {
			return Applied{}, false, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Applied{}, false, fmt.Errorf("applier: mkdir for %s: %w", u.Filename, err)
	}

	var backupPath string
	if exists {
		backupPath, err = a.backup(u.Filename, existing)
		if err != nil {
			return Applied{}, false, err
		}
	}

	if err := writeAtomic(target, []byte(u.Content)); err != nil {
		return Applied{}, false, fmt.Errorf("applier: write %s: %w", u.Filename, err)
	}

	written, err := os.ReadFile(target)
	if err != nil {
		return Applied{}, false, fmt.Errorf("applier: verify %s: %w", u.Filename, err)
	}
	if len(written) != len(u.Content) {
		return Applied{}, false, fmt.Errorf("applier: verify %s: wrote %d bytes, read back %d", u.Filename, len(u.Content), len(written))
	}

	return Applied{Filename: u.Filename, BackupPath: backupPath, Created: !exists}, false, nil
}

// createPackageStub writes an empty __init__.py alongside a brand-new file
// if its parent directory does not already contain one, matching §4.5's
// "create parent directories and a __init__ stub if creating a new package".
func (a *Applier) createPackageStub(relpath string) error {
	dir := filepath.Dir(relpath)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(a.Root, dir), 0o755); err != nil {
		return fmt.Errorf("applier: mkdir package %s: %w", dir, err)
	}
	if !strings.HasSuffix(relpath, ".py") {
		return nil
	}
	initPath := filepath.Join(a.Root, dir, "__init__.py")
	if _, err := os.Stat(initPath); err == nil {
		return nil
	}
	if err := os.WriteFile(initPath, nil, 0o644); err != nil {
		return fmt.Errorf("applier: write %s: %w", initPath, err)
	}
	return nil
}

// backupTimeFormat is the UTC stamp used in "<relpath>.<UTC>.bak" names.
const backupTimeFormat = "20060102T150405Z"

func (a *Applier) backup(relpath string, content []byte) (string, error) {
	stamp := time.Now().UTC().Format(backupTimeFormat)
	backupRel := fmt.Sprintf("%s.%s.bak", relpath, stamp)
	backupPath := filepath.Join(a.Root, a.BackupDir, backupRel)

	if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
		return "", fmt.Errorf("applier: mkdir backup dir for %s: %w", relpath, err)
	}
	if err := os.WriteFile(backupPath, content, 0o644); err != nil {
		return "", fmt.Errorf("applier: write backup for %s: %w", relpath, err)
	}
	return backupPath, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Rollback restores every applied file from its freshest backup, matching
// §4.5's rollback contract: "rollback(filename) copies the newest matching
// backup back into place." Files created by this batch (no prior backup)
// are removed instead.
func (a *Applier) Rollback(applied []Applied) error {
	return a.rollbackAll(applied)
}

func (a *Applier) rollbackAll(applied []Applied) error {
	var firstErr error
	for _, app := range applied {
		if err := a.rollbackOne(app); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Applier) rollbackOne(app Applied) error {
	target := filepath.Join(a.Root, app.Filename)
	if app.Created {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("applier: rollback remove %s: %w", app.Filename, err)
		}
		return nil
	}

	backupPath := app.BackupPath
	if backupPath == "" {
		found, err := a.newestBackup(app.Filename)
		if err != nil {
			return err
		}
		backupPath = found
	}
	if backupPath == "" {
		return fmt.Errorf("applier: no backup found to roll back %s", app.Filename)
	}

	content, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("applier: read backup %s: %w", backupPath, err)
	}
	if err := writeAtomic(target, content); err != nil {
		return fmt.Errorf("applier: restore %s from backup: %w", app.Filename, err)
	}
	return nil
}

// newestBackup scans the backup directory for the most recently named
// "<relpath>.<UTC>.bak" entry for relpath (names sort chronologically since
// the stamp is fixed-width UTC).
func (a *Applier) newestBackup(relpath string) (string, error) {
	dir := filepath.Join(a.Root, a.BackupDir, filepath.Dir(relpath))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("applier: list backups: %w", err)
	}

	prefix := filepath.Base(relpath) + "."
	var matches []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".bak") {
			matches = append(matches, e.Name())
		}
	}
	if len(matches) == 0 {
		return "", nil
	}
	sort.Strings(matches)
	return filepath.Join(dir, matches[len(matches)-1]), nil
}
