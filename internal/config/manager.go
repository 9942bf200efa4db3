package config

import (
	"fmt"
	"sync"
	"time"
)

// ConfigManager provides thread-safe access to live configuration.
type ConfigManager interface {
	Get() *Config
	Set(cfg *Config)
	Reload(path string) error
}

// RWMutexManager provides thread-safe read-heavy config access using RWMutex.
type RWMutexManager struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewManager constructs a manager with an initial config.
func NewManager(initial *Config) *RWMutexManager {
	return &RWMutexManager{cfg: initial.Clone()}
}

// NewRWMutexManager constructs a manager with an initial config.
func NewRWMutexManager(initial *Config) *RWMutexManager {
	return NewManager(initial)
}

// Get returns a cloned config snapshot under a shared lock.
//
// Returning a clone prevents shared mutable state from leaking across readers.
func (m *RWMutexManager) Get() *Config {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Clone()
}

// Set updates the current config pointer under an exclusive lock.
func (m *RWMutexManager) Set(cfg *Config) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg.Clone()
}

// Reload loads config from path and atomically swaps it into place.
func (m *RWMutexManager) Reload(path string) error {
	if m == nil {
		return fmt.Errorf("config manager is nil")
	}
	if path == "" {
		return fmt.Errorf("config reload path is required")
	}

	loaded, err := Load(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = loaded.Clone()
	return nil
}

var _ ConfigManager = (*RWMutexManager)(nil)

// LoadManager loads config from path and wraps it in a fresh manager.
func LoadManager(path string) (*RWMutexManager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewManager(cfg), nil
}

// RuntimeParameters is the §3 tuning vector the meta cycle's Tuner publishes
// and the scheduler reads on every tick. Unlike Config (loaded once from
// TOML at boot), RuntimeParameters is republished at runtime by
// internal/meta, so it gets its own clone-on-Get manager below rather than
// living inside Config.
type RuntimeParameters struct {
	EvolutionInterval time.Duration
	BurstMode         bool
	BurstDuration     time.Duration
	Temperature       float64 // LLM sampling, clamped [0,1]
	ValidationLevel   int     // 1, 2, or 3
	MonologueInterval time.Duration
	ActiveMode        string
}

// Clamp restricts Temperature to [0,1] and ValidationLevel to {1,2,3},
// matching the §3 RuntimeParameters invariant.
func (p RuntimeParameters) Clamp() RuntimeParameters {
	if p.Temperature < 0 {
		p.Temperature = 0
	}
	if p.Temperature > 1 {
		p.Temperature = 1
	}
	switch {
	case p.ValidationLevel < 1:
		p.ValidationLevel = 1
	case p.ValidationLevel > 3:
		p.ValidationLevel = 3
	}
	return p
}

// RuntimeParamsManager is the "write atomically, read only the most recently
// published copy" RuntimeParameters store (§3, §5), following the same
// RWMutex clone-on-Get shape as RWMutexManager above.
type RuntimeParamsManager struct {
	mu     sync.RWMutex
	params RuntimeParameters
}

// NewRuntimeParamsManager constructs a manager seeded with initial.
func NewRuntimeParamsManager(initial RuntimeParameters) *RuntimeParamsManager {
	return &RuntimeParamsManager{params: initial.Clamp()}
}

// Get returns the most recently published RuntimeParameters.
func (m *RuntimeParamsManager) Get() RuntimeParameters {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params
}

// Publish atomically replaces the published RuntimeParameters (§8 "the
// scheduler consumes R2 no later than one tick after its publication").
func (m *RuntimeParamsManager) Publish(p RuntimeParameters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = p.Clamp()
}
