// Package health implements the Supervisor's crash handling (§4.1, §8): a
// crash log, an external notification reusing the messaging channel, a
// bounded recovery strategy list, and the .bak-file restore that runs when
// every strategy in the list has failed.
package health

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/antigravity-dev/ain/internal/gitsync"
	"github.com/antigravity-dev/ain/internal/messaging"
	"github.com/antigravity-dev/ain/internal/store"
)

// CrashLog is one supervisor-observed non-zero engine exit.
type CrashLog struct {
	Timestamp  time.Time
	ExitCode   int
	StderrTail string
}

// maxStderrTailLines bounds how much of the crashed process's stderr the
// crash log keeps, matching the spirit of the teacher's bounded diagnostic
// captures elsewhere in the package.
const maxStderrTailLines = 200

// WriteCrashLog appends a formatted crash record to path (typically
// "last_crash.log" under the workspace), matching §8's "supervisor writes
// last_crash.log" step.
func WriteCrashLog(path string, exitCode int, stderr string) error {
	entry := CrashLog{Timestamp: time.Now(), ExitCode: exitCode, StderrTail: tailLines(stderr, maxStderrTailLines)}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("health: open crash log %s: %w", path, err)
	}
	defer f.Close()

	fmt.Fprintf(f, "=== crash at %s (exit %d) ===\n%s\n\n", entry.Timestamp.Format(time.RFC3339), entry.ExitCode, entry.StderrTail)
	return nil
}

func tailLines(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// NotifyExternal sends text over the messaging channel's SendMessage path,
// so crash notifications ride the same Telegram-like channel as evolution
// notifications (§4.1). A nil client is a no-op, matching messaging being
// optional per config.Messaging.Enabled.
func NotifyExternal(ctx context.Context, client messaging.Client, chatID int64, text string) error {
	if client == nil {
		return nil
	}
	return client.SendMessage(ctx, chatID, text, "")
}

// RecordCrash writes a health event to the journal alongside the crash log
// and notification, so /health and the crash timeline agree.
func RecordCrash(journal *store.Store, exitCode int) {
	if journal == nil {
		return
	}
	_ = journal.RecordHealthEvent("engine_crash", fmt.Sprintf("engine exited with code %d", exitCode))
}

// RecoveryStrategy is one ordered attempt at restoring a healthy working
// tree. Name is used in logs and the resulting health event.
type RecoveryStrategy struct {
	Name string
	Run  func(ctx context.Context) error
}

// RunRecovery executes strategies in order, stopping at the first that
// returns a nil error. If every strategy fails, it falls through to restore
// the 5 newest backup files under root/backupDir, matching §8's "(or on the
// last: restore 5 newest .bak files)".
func RunRecovery(ctx context.Context, strategies []RecoveryStrategy, root, backupDir string, logger *slog.Logger) (succeeded string, err error) {
	for _, s := range strategies {
		if runErr := s.Run(ctx); runErr != nil {
			logger.Warn("recovery strategy failed", "strategy", s.Name, "error", runErr)
			continue
		}
		logger.Info("recovery strategy succeeded", "strategy", s.Name)
		return s.Name, nil
	}

	restored, restoreErr := RestoreNewestBackups(root, backupDir, 5)
	if restoreErr != nil {
		return "", fmt.Errorf("health: all recovery strategies failed, backup restore also failed: %w", restoreErr)
	}
	logger.Info("recovery exhausted strategy list, restored newest backups", "count", len(restored))
	return "restore_newest_backups", nil
}

// DefaultRecoveryStrategies orders the §4, §7 recovery ladder against
// syncer: reset to the remote trunk, then back one commit, then to the
// last-known-good stable tag. cmd/ain's inner loop runs these through
// RunRecovery, which falls back to RestoreNewestBackups if all three fail.
func DefaultRecoveryStrategies(syncer *gitsync.Syncer) []RecoveryStrategy {
	if syncer == nil {
		return nil
	}
	return []RecoveryStrategy{
		{Name: "reset_to_remote_trunk", Run: func(context.Context) error { return syncer.ResetToRemoteTrunk() }},
		{Name: "reset_to_previous_commit", Run: func(context.Context) error { return syncer.ResetToPreviousCommit(1) }},
		{Name: "reset_to_stable_tag", Run: func(context.Context) error { return syncer.ResetToStableTag() }},
	}
}

// backedUpFile pairs a backup's absolute path with the timestamp encoded in
// its "<relpath>.<UTC>.bak" name, for newest-first sorting across the whole
// backup tree (not just one relpath, unlike applier.newestBackup).
type backedUpFile struct {
	backupPath string
	targetPath string // path relative to root the content should be restored to
	stamp      string
}

// RestoreNewestBackups walks root/backupDir for every "*.bak" file, and
// restores the n most-recently-stamped ones back to their original location
// under root. Returns the restored target paths.
func RestoreNewestBackups(root, backupDir string, n int) ([]string, error) {
	dir := filepath.Join(root, backupDir)
	var files []backedUpFile

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".bak") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		target, stamp, ok := splitBackupName(rel)
		if !ok {
			return nil
		}
		files = append(files, backedUpFile{backupPath: path, targetPath: target, stamp: stamp})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("health: walk backup dir %s: %w", dir, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].stamp > files[j].stamp })
	if len(files) > n {
		files = files[:n]
	}

	restored := make([]string, 0, len(files))
	for _, f := range files {
		content, err := os.ReadFile(f.backupPath)
		if err != nil {
			return restored, fmt.Errorf("health: read backup %s: %w", f.backupPath, err)
		}
		target := filepath.Join(root, f.targetPath)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return restored, fmt.Errorf("health: mkdir for restore %s: %w", target, err)
		}
		if err := os.WriteFile(target, content, 0o644); err != nil {
			return restored, fmt.Errorf("health: restore %s: %w", target, err)
		}
		restored = append(restored, f.targetPath)
	}
	return restored, nil
}

// splitBackupName splits a "<relpath>.<UTC>.bak" backup-tree-relative path
// into its original relpath and the UTC stamp, matching the format
// applier.backup writes (backupTimeFormat = "20060102T150405Z").
func splitBackupName(rel string) (target, stamp string, ok bool) {
	const suffix = ".bak"
	if !strings.HasSuffix(rel, suffix) {
		return "", "", false
	}
	trimmed := strings.TrimSuffix(rel, suffix)
	idx := strings.LastIndex(trimmed, ".")
	if idx < 0 {
		return "", "", false
	}
	return trimmed[:idx], trimmed[idx+1:], true
}
