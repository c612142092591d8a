package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "agent.yaml")

	cfg := Default()
	cfg.Agent.CollectorURL = "https://collector.example.com/ingest"
	cfg.Probe.Interval = 90 * time.Second

	if err := Write(path, cfg, false); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o640 {
		t.Fatalf("expected perms 0640 got %v", perm)
	}

	loaded, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load written config: %v", err)
	}
	if loaded.Agent.CollectorURL != cfg.Agent.CollectorURL {
		t.Fatalf("unexpected collector url %q", loaded.Agent.CollectorURL)
	}
	if loaded.Probe.Interval != 90*time.Second {
		t.Fatalf("unexpected interval %s", loaded.Probe.Interval)
	}
}

func TestWriteRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte("agent: {}\n"), 0o600); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	if err := Write(path, Default(), false); err == nil {
		t.Fatalf("expected error for existing config")
	}
	if err := Write(path, Default(), true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}
