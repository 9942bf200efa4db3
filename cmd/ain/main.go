// Command ain is the supervisor binary (§4.1, §8): it holds the
// single-instance lock and re-execs cmd/ain-engine in a loop, capturing its
// stderr, writing a crash log, notifying externally, and running the
// recovery strategy list on every non-zero exit before respawning.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/antigravity-dev/ain/internal/config"
	"github.com/antigravity-dev/ain/internal/gitsync"
	"github.com/antigravity-dev/ain/internal/health"
	"github.com/antigravity-dev/ain/internal/messaging"
	"github.com/antigravity-dev/ain/internal/store"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	configPath := flag.String("config", "ain.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	enginePath := flag.String("engine", "ain-engine", "path to the ain-engine binary")
	flag.Parse()

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	bootLogger.Info("ain supervisor starting", "config", *configPath)

	cfgMgr, err := config.LoadManager(*configPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgMgr.Get()

	logger := configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	lockPath := "/tmp/ain.lock"
	if cfg.General.LockFile != "" {
		lockPath = config.ExpandHome(cfg.General.LockFile)
	}
	lockFile, err := health.AcquireFlock(lockPath)
	if err != nil {
		logger.Error("failed to acquire lock", "error", err)
		os.Exit(1)
	}
	defer health.ReleaseFlock(lockFile)

	journal, err := store.Open(config.ExpandHome(cfg.General.StateDB))
	if err != nil {
		logger.Error("failed to open journal store", "error", err)
		os.Exit(1)
	}
	defer journal.Close()

	var syncer *gitsync.Syncer
	if cfg.Git.RemoteURL != "" {
		syncer = gitsync.New(config.ExpandHome(cfg.Workspace.Path), cfg.Git.Branch, cfg.Git.StableTag)
	}

	var msgClient messaging.Client
	if cfg.Messaging.Enabled {
		msgClient = messaging.NewHTTPClient(cfg.Messaging.BaseURL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received signal, shutting down supervisor")
		cancel()
	}()

	crashLogPath := config.ExpandHome(cfg.Workspace.Path) + "/last_crash.log"
	cooldown := cfg.General.CrashCooldown.Duration
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	for {
		if ctx.Err() != nil {
			logger.Info("ain supervisor stopped")
			return
		}

		logger.Info("spawning ain-engine", "path", *enginePath)
		exitCode, stderr, runErr := runEngine(ctx, *enginePath, *configPath, *dev)
		if ctx.Err() != nil {
			logger.Info("ain supervisor stopped")
			return
		}
		if runErr == nil {
			logger.Info("ain-engine exited cleanly")
			return
		}

		logger.Error("ain-engine crashed", "exit_code", exitCode, "error", runErr)

		if err := health.WriteCrashLog(crashLogPath, exitCode, stderr); err != nil {
			logger.Error("failed to write crash log", "error", err)
		}
		health.RecordCrash(journal, exitCode)
		if notifyErr := health.NotifyExternal(ctx, msgClient, cfg.Messaging.ChatID,
			fmt.Sprintf("ain-engine crashed with exit code %d", exitCode)); notifyErr != nil {
			logger.Warn("crash notification failed", "error", notifyErr)
		}

		logger.Info("cooling down before recovery", "duration", cooldown.String())
		select {
		case <-ctx.Done():
			logger.Info("ain supervisor stopped")
			return
		case <-time.After(cooldown):
		}

		strategies := health.DefaultRecoveryStrategies(syncer)
		succeeded, err := health.RunRecovery(ctx, strategies, config.ExpandHome(cfg.Workspace.Path), cfg.General.BackupDir, logger)
		if err != nil {
			logger.Error("recovery failed, respawning anyway", "error", err)
		} else {
			logger.Info("recovery strategy succeeded", "strategy", succeeded)
		}
	}
}

// runEngine execs one ain-engine lifetime, capturing a bounded stderr tail
// and returning its exit code. runErr is nil only on a clean (code 0) exit.
func runEngine(ctx context.Context, enginePath, configPath string, dev bool) (exitCode int, stderrTail string, runErr error) {
	args := []string{"-config", configPath}
	if dev {
		args = append(args, "-dev")
	}
	cmd := exec.CommandContext(ctx, enginePath, args...)
	cmd.Stdout = os.Stdout

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	stderrTail = stderrBuf.String()
	if err == nil {
		return 0, stderrTail, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), stderrTail, exitErr
	}
	return -1, stderrTail, err
}
