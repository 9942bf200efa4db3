// Command ain-engine is the single-tick-loop worker process: it constructs
// every long-lived component the scheduler touches, runs the tick loop, and
// serves the local status/control API. It is never expected to be run
// directly in production — cmd/ain spawns and supervises it — but it is a
// complete, independently runnable binary so -once and direct debugging work.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/antigravity-dev/ain/internal/api"
	"github.com/antigravity-dev/ain/internal/applier"
	"github.com/antigravity-dev/ain/internal/attention"
	"github.com/antigravity-dev/ain/internal/config"
	"github.com/antigravity-dev/ain/internal/cost"
	"github.com/antigravity-dev/ain/internal/decision"
	"github.com/antigravity-dev/ain/internal/factcore"
	"github.com/antigravity-dev/ain/internal/gitsync"
	"github.com/antigravity-dev/ain/internal/kv"
	"github.com/antigravity-dev/ain/internal/llm"
	"github.com/antigravity-dev/ain/internal/messaging"
	"github.com/antigravity-dev/ain/internal/pipeline"
	"github.com/antigravity-dev/ain/internal/sanitize"
	"github.com/antigravity-dev/ain/internal/scheduler"
	"github.com/antigravity-dev/ain/internal/store"
	"github.com/antigravity-dev/ain/internal/vectormem"
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
	once := flag.Bool("once", false, "run a single tick then exit")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	bootLogger.Info("ain-engine starting", "config", *configPath)

	cfgMgr, err := config.LoadManager(*configPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgMgr.Get()

	logger := configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	engine, apiSrv, err := build(cfg, cfgMgr, logger)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}
	defer engine.Journal.Close()
	defer engine.VecMem.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		logger.Info("running single tick (--once mode)")
		if err := engine.Tick(ctx); err != nil {
			logger.Error("tick failed", "error", err)
			os.Exit(1)
		}
		return
	}

	go run(ctx, engine, cfgMgr)

	go func() {
		if err := apiSrv.Start(ctx); err != nil {
			logger.Error("api server error", "error", err)
		}
	}()

	logger.Info("ain-engine running",
		"bind", cfg.API.Bind,
		"evolution_interval", cfg.Cadence.EvolutionInterval.Duration.String(),
		"workspace", cfg.Workspace.Path,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("received signal, shutting down")
	cancel()
}

// run drives the tick loop: one tick per cfg.General.TickInterval, exactly
// the select shape cmd/cortex/main.go uses for its signal-handling loop,
// here gating engine.Tick instead of a reload/shutdown branch.
func run(ctx context.Context, e *scheduler.Engine, cfgMgr *config.RWMutexManager) {
	interval := cfgMgr.Get().General.TickInterval.Duration
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				e.Logger.Error("tick failed", "error", err)
			}
		}
	}
}

// build constructs every component wired into the Engine, grounded on
// cmd/cortex/main.go's component-construction block.
func build(cfg *config.Config, cfgMgr *config.RWMutexManager, logger *slog.Logger) (*scheduler.Engine, *api.Server, error) {
	workspace := config.ExpandHome(cfg.Workspace.Path)

	dbPath := config.ExpandHome(cfg.General.StateDB)
	journal, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal store: %w", err)
	}

	vecMemPath := config.ExpandHome(cfg.VectorMemory.Path)
	vecMem, err := vectormem.Open(vecMemPath, cfg.VectorMemory.Dimension)
	if err != nil {
		return nil, nil, fmt.Errorf("open vector memory: %w", err)
	}

	core, err := factcore.Load(filepath.Join(workspace, "fact_core.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("load fact core: %w", err)
	}
	roadmap, err := factcore.LoadRoadmap(filepath.Join(workspace, "roadmap.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("load roadmap: %w", err)
	}

	attn := attention.NewManager()
	ledger := cost.NewLedger(journal)

	extraProtected := append([]string{}, cfg.Workspace.ProtectedFiles...)
	extraProtected = append(extraProtected, readProtectedMarker(workspace, cfg.Workspace.ProtectedMarker, logger)...)
	validator := sanitize.NewValidator(extraProtected)

	dreamerKey, _ := config.ResolveEnv(cfg.Providers.Dreamer.APIKeyEnv)
	coderKey, _ := config.ResolveEnv(cfg.Providers.Coder.APIKeyEnv)
	dreamer := llm.NewClient(llm.Config{
		APIKey:      dreamerKey,
		BaseURL:     cfg.Providers.Dreamer.BaseURL,
		Model:       cfg.Providers.Dreamer.Model,
		Temperature: cfg.Providers.Dreamer.Temperature,
		MaxTokens:   cfg.Providers.Dreamer.MaxTokens,
		Timeout:     cfg.Providers.Dreamer.Timeout.Duration,
	}, logger.With("component", "dreamer"))
	coder := llm.NewClient(llm.Config{
		APIKey:      coderKey,
		BaseURL:     cfg.Providers.Coder.BaseURL,
		Model:       cfg.Providers.Coder.Model,
		Temperature: cfg.Providers.Coder.Temperature,
		MaxTokens:   cfg.Providers.Coder.MaxTokens,
		Timeout:     cfg.Providers.Coder.Timeout.Duration,
	}, logger.With("component", "coder"))

	pipe := &pipeline.Pipeline{
		Dreamer:   dreamer,
		Coder:     coder,
		Core:      core,
		Root:      workspace,
		Protected: protectedSet(validator, extraProtected),
		Validator: validator,
		Logger:    logger.With("component", "pipeline"),
	}

	appl := applier.New(workspace, cfg.General.BackupDir)

	var syncer *gitsync.Syncer
	if cfg.Git.RemoteURL != "" {
		syncer = gitsync.New(workspace, cfg.Git.Branch, cfg.Git.StableTag)
	}

	var kvStore *kv.Store
	if cfg.KV.URL != "" {
		kvStore, err = kv.Open(cfg.KV.URL)
		if err != nil {
			logger.Warn("kv store unavailable, degrading to in-memory burst state", "error", err)
			kvStore = nil
		}
	}

	var msgClient messaging.Client
	var inbox *messaging.Inbox
	router := messaging.NewRouter()
	if cfg.Messaging.Enabled {
		httpClient := messaging.NewHTTPClient(cfg.Messaging.BaseURL)
		msgClient = httpClient
		inbox = messaging.NewInbox(msgClient, cfg.Messaging.ChatID)
	}

	reflexes := decision.NewReflexRegistry()
	intuition := &scheduler.VectorIntuition{
		Store:    vecMem,
		Embedder: scheduler.FallbackEmbedder{Dimension: cfg.VectorMemory.Dimension},
	}
	gate := decision.New(intuition, reflexes)

	limiter := scheduler.NewDispatchLimiter(cfg.RateLimits)

	engine := scheduler.New()
	engine.ConfigMgr = cfgMgr
	engine.Params = config.NewRuntimeParamsManager(config.RuntimeParameters{
		EvolutionInterval: cfg.Cadence.EvolutionInterval.Duration,
		MonologueInterval: cfg.Cadence.MonologueInterval.Duration,
		ActiveMode:        "steady",
	})
	engine.Journal = journal
	engine.VecMem = vecMem
	engine.Core = core
	engine.Roadmap = roadmap
	engine.Attn = attn
	engine.Ledger = ledger
	engine.Gate = gate
	engine.Pipeline = pipe
	engine.Applier = appl
	engine.Syncer = syncer
	engine.KV = kvStore
	engine.Inbox = inbox
	engine.Router = router
	engine.Limiter = limiter
	engine.Logger = logger

	registerCommands(router, engine, cfgMgr)
	engine.LoadBurstState(context.Background(), int(cfg.Cadence.BurstInterval.Duration.Seconds()))

	authToken, _ := config.ResolveEnv(cfg.API.AuthKeyEnv)
	apiSrv := api.NewServer(cfgMgr, engine, journal, authToken, logger.With("component", "api"))

	return engine, apiSrv, nil
}

// protectedSet turns the flat extraProtected list into the map[string]bool
// Pipeline.Protected expects. Only the configured extra names are included;
// the validator's hard-coded protected names are not in the map, so the
// pipeline's file-skip check covers a subset of the validator's rejection
// set.
func protectedSet(v *sanitize.Validator, extra []string) map[string]bool {
	_ = v
	out := make(map[string]bool, len(extra))
	for _, name := range extra {
		name = strings.TrimSpace(name)
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		out[name] = true
	}
	return out
}

// readProtectedMarker reads the workspace's .ainprotect file (one filename
// per line, # comments), returning nil if absent.
func readProtectedMarker(workspace, marker string, logger *slog.Logger) []string {
	if marker == "" {
		return nil
	}
	f, err := os.Open(filepath.Join(workspace, marker))
	if err != nil {
		return nil
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("failed reading protected marker file", "error", err)
	}
	return names
}

// registerCommands wires the §6 CLI surface's slash commands onto the
// messaging router, each a thin adapter onto an already-exported Engine
// operation.
func registerCommands(router *messaging.Router, e *scheduler.Engine, cfgMgr *config.RWMutexManager) {
	router.Register("status", func(ctx context.Context, args string) (string, error) {
		params := e.Params.Get()
		return fmt.Sprintf("mode=%s evolution_interval=%s burst=%v", params.ActiveMode, params.EvolutionInterval, params.BurstMode), nil
	})

	router.Register("roadmap", func(ctx context.Context, args string) (string, error) {
		if e.Roadmap == nil {
			return "no roadmap configured", nil
		}
		return e.Roadmap.Render(), nil
	})

	router.Register("evolve", func(ctx context.Context, args string) (string, error) {
		contextKey := strings.TrimSpace(args)
		if err := e.RunEvolution(ctx, contextKey); err != nil {
			return "", err
		}
		return "evolution cycle complete", nil
	})

	router.Register("sync", func(ctx context.Context, args string) (string, error) {
		if e.Syncer == nil {
			return "git sync not configured", nil
		}
		sha, err := e.Syncer.Sync("ain: manual sync")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("synced at %s", sha), nil
	})

	router.Register("burst", func(ctx context.Context, args string) (string, error) {
		cfg := cfgMgr.Get()
		intervalSeconds := int(cfg.Cadence.BurstInterval.Duration.Seconds())
		if err := e.EnterBurst(ctx, intervalSeconds, cfg.Cadence.BurstDuration.Duration); err != nil {
			return "", err
		}
		return fmt.Sprintf("burst mode entered for %s", cfg.Cadence.BurstDuration.Duration), nil
	})

	router.Register("bridge", func(ctx context.Context, args string) (string, error) {
		return e.Attn.GetAttentionContext(5), nil
	})

	router.Register("audit", func(ctx context.Context, args string) (string, error) {
		if e.Journal == nil {
			return "no journal configured", nil
		}
		events, err := e.Journal.RecentEvents(10)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, ev := range events {
			fmt.Fprintf(&b, "[%s] %s %s: %s\n", ev.Timestamp.Format(time.RFC3339), ev.Kind, ev.Action, ev.Description)
		}
		return b.String(), nil
	})

	router.Register("debug", func(ctx context.Context, args string) (string, error) {
		input, output, costUSD, calls := e.Ledger.Snapshot()
		return fmt.Sprintf("tokens in=%d out=%d cost=$%.4f calls=%d", input, output, costUSD, calls), nil
	})

	router.Fallback = func(ctx context.Context, args string) (string, error) {
		return e.Introspect(ctx, args)
	}
}
