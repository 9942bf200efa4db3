package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ain.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `
[general]
tick_interval = "1s"
log_level = "info"
state_db = "/tmp/ain-test.db"

[workspace]
path = "/tmp/ain-workspace"
protected_files = ["keys.go"]

[cadence]
evolution_interval = "3600s"
burst_interval = "600s"

[vector_memory]
dimension = 384

[kv]
url = "redis://localhost:6379/0"
`

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace.Path != "/tmp/ain-workspace" {
		t.Fatalf("workspace path = %q", cfg.Workspace.Path)
	}
	if cfg.Cadence.EvolutionInterval.Duration != 3600*time.Second {
		t.Fatalf("evolution_interval = %v", cfg.Cadence.EvolutionInterval.Duration)
	}
	if cfg.VectorMemory.Dimension != 384 {
		t.Fatalf("dimension = %d", cfg.VectorMemory.Dimension)
	}
	// defaults applied
	if cfg.Git.StableTag != "ain-stable" {
		t.Fatalf("stable tag default = %q", cfg.Git.StableTag)
	}
	if cfg.API.Bind == "" {
		t.Fatalf("expected default api bind")
	}
}

func TestLoadMissingWorkspacePathRejected(t *testing.T) {
	path := writeTestConfig(t, "[general]\nlog_level = \"info\"\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for missing workspace.path")
	}
}

func TestDurationRoundTrip(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Fatalf("got %v", d.Duration)
	}
	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(text) != "1m30s" {
		t.Fatalf("marshal text = %q", string(text))
	}
}

func TestConfigCloneIndependence(t *testing.T) {
	cfg := &Config{Workspace: Workspace{ProtectedFiles: []string{"a.go"}}}
	clone := cfg.Clone()
	clone.Workspace.ProtectedFiles[0] = "mutated.go"
	if cfg.Workspace.ProtectedFiles[0] != "a.go" {
		t.Fatalf("clone mutation leaked into original: %v", cfg.Workspace.ProtectedFiles)
	}
}
