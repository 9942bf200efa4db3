// Package api provides the §6 Status API: a loopback-bound HTTP surface
// mirroring the same slash-command control surface the messaging channel
// exposes, grounded on the teacher's internal/api package (mux.HandleFunc
// routing, writeJSON/writeError helpers, AuthMiddleware.RequireAuth gating
// write endpoints) narrowed from a multi-project dispatch API to this
// spec's single engine.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/antigravity-dev/ain/internal/config"
	"github.com/antigravity-dev/ain/internal/scheduler"
	"github.com/antigravity-dev/ain/internal/store"
)

// Server is the HTTP API server wrapping one Engine.
type Server struct {
	ConfigMgr  *config.RWMutexManager
	Engine     *scheduler.Engine
	Journal    *store.Store
	Logger     *slog.Logger
	Auth       *AuthMiddleware
	startTime  time.Time
	httpServer *http.Server
}

// NewServer constructs a Server. authToken is read from the env var named
// by config.API.AuthKeyEnv by the caller (cmd/ain-engine); an empty token
// disables auth.
func NewServer(cfgMgr *config.RWMutexManager, engine *scheduler.Engine, journal *store.Store, authToken string, logger *slog.Logger) *Server {
	return &Server{
		ConfigMgr: cfgMgr,
		Engine:    engine,
		Journal:   journal,
		Logger:    logger,
		Auth:      NewAuthMiddleware(authToken),
		startTime: time.Now(),
	}
}

// Start begins listening on the configured bind address. Blocks until ctx
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/roadmap", s.handleRoadmap)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/focus", s.handleFocus)
	mux.HandleFunc("/metrics", s.handleMetrics)

	mux.HandleFunc("/evolve", s.Auth.RequireAuth(s.handleEvolve))
	mux.HandleFunc("/burst", s.Auth.RequireAuth(s.handleBurst))
	mux.HandleFunc("/sync", s.Auth.RequireAuth(s.handleSync))

	cfg := s.ConfigMgr.Get()
	s.httpServer = &http.Server{
		Addr:        cfg.API.Bind,
		Handler:     mux,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.Logger.Info("api server starting", "bind", cfg.API.Bind)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	params := s.Engine.Params.Get()
	writeJSON(w, map[string]any{
		"uptime":          time.Since(s.startTime).String(),
		"active_mode":     params.ActiveMode,
		"burst_mode":      params.BurstMode,
		"evolution_every": params.EvolutionInterval.String(),
	})
}

// GET /roadmap
func (s *Server) handleRoadmap(w http.ResponseWriter, r *http.Request) {
	if s.Engine.Roadmap == nil {
		writeError(w, http.StatusServiceUnavailable, "roadmap not configured")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, s.Engine.Roadmap.Render())
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		writeJSON(w, map[string]any{"healthy": true})
		return
	}
	events, err := s.Journal.RecentHealthEvents(1)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{
		"healthy":             len(events) == 0,
		"recent_health_events": events,
	})
}

// GET /focus
func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	if s.Engine.Attn == nil {
		writeError(w, http.StatusServiceUnavailable, "attention manager not configured")
		return
	}
	writeJSON(w, map[string]any{
		"current_focus_id": s.Engine.Attn.CurrentFocusID(),
		"ranked_signals":    s.Engine.Attn.Ranked(),
		"history":           s.Engine.Attn.History(),
	})
}

// GET /metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var input, output, calls int
	var costUSD float64
	if s.Engine.Ledger != nil {
		input, output, costUSD, calls = s.Engine.Ledger.Snapshot()
	}
	writeJSON(w, map[string]any{
		"input_tokens":   input,
		"output_tokens":  output,
		"estimated_cost": costUSD,
		"call_count":     calls,
	})
}

// POST /evolve - forces an out-of-cadence evolution attempt.
func (s *Server) handleEvolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.Engine.RunEvolution(r.Context(), ""); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"triggered": true})
}

// POST /burst - enters burst mode for the configured burst duration.
func (s *Server) handleBurst(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	cfg := s.ConfigMgr.Get()
	intervalSeconds := int(cfg.Cadence.BurstInterval.Duration.Seconds())
	if intervalSeconds <= 0 {
		intervalSeconds = 600
	}
	duration := cfg.Cadence.BurstDuration.Duration
	if duration <= 0 {
		duration = time.Hour
	}
	if err := s.Engine.EnterBurst(r.Context(), intervalSeconds, duration); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"burst_active": true, "duration": duration.String()})
}

// POST /sync - forces a git sync of the working tree outside the evolution
// pipeline (e.g. to pick up an externally-made fix).
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.Engine.Syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "git sync not configured")
		return
	}
	sha, err := s.Engine.Syncer.Sync("ain: manual sync")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"sha": sha})
}
