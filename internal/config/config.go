// Package config loads and validates the ain TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root of ain's on-disk configuration.
type Config struct {
	General      General      `toml:"general"`
	Workspace    Workspace    `toml:"workspace"`
	Cadence      Cadence      `toml:"cadence"`
	Providers    Providers    `toml:"providers"`
	RateLimits   RateLimits   `toml:"rate_limits"`
	VectorMemory VectorMemory `toml:"vector_memory"`
	KV           KV           `toml:"kv"`
	Git          Git          `toml:"git"`
	Messaging    Messaging    `toml:"messaging"`
	API          API          `toml:"api"`
	Meta         Meta         `toml:"meta"`
}

// General holds process-wide behavior shared across the supervisor and engine.
type General struct {
	TickInterval  Duration `toml:"tick_interval"`  // scheduler tick resolution, default 1s
	LogLevel      string   `toml:"log_level"`
	StateDB       string   `toml:"state_db"`       // sqlite path for Journal/ResourceAccount
	LockFile      string   `toml:"lock_file"`      // single-instance advisory lock
	CrashCooldown Duration `toml:"crash_cooldown"` // supervisor sleep after a crash, default 30s
	BackupDir     string   `toml:"backup_dir"`
	MaxConcurrentEvolutions int `toml:"max_concurrent_evolutions"`
}

// Workspace describes the single working tree this engine evolves. Multi-project
// portfolio configuration is out of scope (see SPEC_FULL.md Non-goals).
type Workspace struct {
	Path            string   `toml:"path"`
	ProtectedFiles  []string `toml:"protected_files"` // extra entries beyond the hard-coded set
	ProtectedMarker string   `toml:"protected_marker"` // filename of the .ainprotect list, default ".ainprotect"
	SandboxTests    bool     `toml:"sandbox_tests"`   // run the post-apply test sweep inside a throwaway container instead of bare subprocesses
}

// Cadence controls how often each scheduler stage fires, in RuntimeParameters terms.
type Cadence struct {
	EvolutionInterval  Duration `toml:"evolution_interval"`  // default 3600s
	BurstInterval      Duration `toml:"burst_interval"`      // default 600s
	BurstDuration      Duration `toml:"burst_duration"`      // default 1h
	MonologueInterval  Duration `toml:"monologue_interval"`
	MetaInterval       Duration `toml:"meta_interval"`
	WalkPersistEvery   Duration `toml:"walk_persist_every"` // default 300s
}

// Providers configures the two logical LLM roles named in §6.
type Providers struct {
	Dreamer ProviderConfig `toml:"dreamer"`
	Coder   ProviderConfig `toml:"coder"`
}

type ProviderConfig struct {
	BaseURL     string   `toml:"base_url"`
	Model       string   `toml:"model"`
	APIKeyEnv   string   `toml:"api_key_env"`
	Temperature float64  `toml:"temperature"`
	MaxTokens   int      `toml:"max_tokens"`
	Timeout     Duration `toml:"timeout"`
}

// RateLimits bounds the daily resource ledger and dreamer/coder dispatch rate.
type RateLimits struct {
	DailyTokenCap  int     `toml:"daily_token_cap"`
	DailyCostCapUSD float64 `toml:"daily_cost_cap_usd"`
	RatePerMinute  float64 `toml:"rate_per_minute"`
	Burst          int     `toml:"burst"`
}

// VectorMemory configures the local vector-store interface (§6, open question 3).
type VectorMemory struct {
	Path      string `toml:"path"`
	Dimension int    `toml:"dimension"` // the single deployment-time declared dimension
}

// KV configures the KV store external interface.
type KV struct {
	URL            string   `toml:"url"`
	Keyspace       string   `toml:"keyspace"`
	SocketTimeout  Duration `toml:"socket_timeout"` // default 5s per §6
}

// Git configures the VCS synchronizer.
type Git struct {
	RemoteURL   string `toml:"remote_url"`
	Owner       string `toml:"owner"`
	Repo        string `toml:"repo"`
	Branch      string `toml:"branch"`
	TokenEnv    string `toml:"token_env"`
	StableTag   string `toml:"stable_tag"` // default "ain-stable"
	APIBaseURL  string `toml:"api_base_url"`
}

// Messaging configures the Telegram-like long-poll channel.
type Messaging struct {
	Enabled     bool     `toml:"enabled"`
	BaseURL     string   `toml:"base_url"`
	TokenEnv    string   `toml:"token_env"`
	ChatID      int64    `toml:"chat_id"`
	PollTimeout Duration `toml:"poll_timeout"`
}

// API configures the local status/control HTTP surface.
type API struct {
	Bind     string   `toml:"bind"`
	AuthKeyEnv string `toml:"auth_key_env"`
}

// Meta configures the meta-cognition Evaluator/Adapter weights.
type Meta struct {
	SuccessRateWeight    float64 `toml:"success_rate_weight"`
	MemorySimilarityBonus float64 `toml:"memory_similarity_bonus"`
}

// Load reads and validates a TOML config file, applying defaults for anything
// left zero-valued.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.TickInterval.Duration == 0 {
		cfg.General.TickInterval.Duration = time.Second
	}
	if cfg.General.StateDB == "" {
		cfg.General.StateDB = "ain_state.db"
	}
	if cfg.General.LockFile == "" {
		cfg.General.LockFile = "ain.lock"
	}
	if cfg.General.CrashCooldown.Duration == 0 {
		cfg.General.CrashCooldown.Duration = 30 * time.Second
	}
	if cfg.General.BackupDir == "" {
		cfg.General.BackupDir = "backups"
	}
	if cfg.Workspace.ProtectedMarker == "" {
		cfg.Workspace.ProtectedMarker = ".ainprotect"
	}
	if cfg.Cadence.EvolutionInterval.Duration == 0 {
		cfg.Cadence.EvolutionInterval.Duration = 3600 * time.Second
	}
	if cfg.Cadence.BurstInterval.Duration == 0 {
		cfg.Cadence.BurstInterval.Duration = 600 * time.Second
	}
	if cfg.Cadence.BurstDuration.Duration == 0 {
		cfg.Cadence.BurstDuration.Duration = time.Hour
	}
	if cfg.Cadence.MonologueInterval.Duration == 0 {
		cfg.Cadence.MonologueInterval.Duration = 15 * time.Minute
	}
	if cfg.Cadence.MetaInterval.Duration == 0 {
		cfg.Cadence.MetaInterval.Duration = 30 * time.Minute
	}
	if cfg.Cadence.WalkPersistEvery.Duration == 0 {
		cfg.Cadence.WalkPersistEvery.Duration = 300 * time.Second
	}
	if cfg.VectorMemory.Dimension == 0 {
		cfg.VectorMemory.Dimension = 384
	}
	if cfg.VectorMemory.Path == "" {
		cfg.VectorMemory.Path = "vector_memory.db"
	}
	if cfg.KV.Keyspace == "" {
		cfg.KV.Keyspace = "ain"
	}
	if cfg.KV.SocketTimeout.Duration == 0 {
		cfg.KV.SocketTimeout.Duration = 5 * time.Second
	}
	if cfg.Git.StableTag == "" {
		cfg.Git.StableTag = "ain-stable"
	}
	if cfg.Git.Branch == "" {
		cfg.Git.Branch = "main"
	}
	if cfg.Messaging.PollTimeout.Duration == 0 {
		cfg.Messaging.PollTimeout.Duration = 30 * time.Second
	}
	if cfg.API.Bind == "" {
		cfg.API.Bind = "127.0.0.1:8088"
	}
	if cfg.Meta.SuccessRateWeight == 0 {
		cfg.Meta.SuccessRateWeight = 0.2
	}
	if cfg.Meta.MemorySimilarityBonus == 0 {
		cfg.Meta.MemorySimilarityBonus = 0.2
	}
	if cfg.Providers.Dreamer.Timeout.Duration == 0 {
		cfg.Providers.Dreamer.Timeout.Duration = 180 * time.Second
	}
	if cfg.Providers.Coder.Timeout.Duration == 0 {
		cfg.Providers.Coder.Timeout.Duration = 180 * time.Second
	}
}

// Validate checks the handful of settings that must be non-empty for the
// engine to boot; a missing value degrades the affected subsystem rather than
// aborting boot (§7 ConfigMissing is non-fatal), so Validate only rejects
// structurally impossible configuration.
func (c *Config) Validate() error {
	if c.Workspace.Path == "" {
		return fmt.Errorf("workspace.path is required")
	}
	if c.VectorMemory.Dimension <= 0 {
		return fmt.Errorf("vector_memory.dimension must be positive")
	}
	return nil
}

// ExpandHome expands a leading "~" to the current user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// ResolveEnv reads the environment variable named by key and reports whether
// it was present and non-empty. Used for the §6 "opaque env var" secrets.
func ResolveEnv(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	v := os.Getenv(key)
	return v, v != ""
}

// Clone returns a deep copy so a RWMutexManager reader never shares mutable
// state with the writer or with another reader.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cloned := *c
	cloned.Workspace.ProtectedFiles = cloneStringSlice(c.Workspace.ProtectedFiles)
	return &cloned
}

func cloneStringSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
