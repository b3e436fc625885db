package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFallsBackToEnvironmentWithoutPath(t *testing.T) {
	os.Unsetenv("COORDINATOR_ENV")
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ListenAddr == "" {
		t.Fatalf("expected a default listen address")
	}
}

func TestLoadConfigOverlaysYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coordinator.yaml")
	const yamlBody = "listen_addr: \":9999\"\ndefault_channel: \"canary\"\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("expected the YAML override to win, got %q", cfg.ListenAddr)
	}
	if cfg.DefaultChannel != "canary" {
		t.Fatalf("expected default_channel canary, got %q", cfg.DefaultChannel)
	}
}

func TestLoadConfigMissingFileFallsBackToEnvironment(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("loadConfig with a missing file should not error: %v", err)
	}
	if cfg.ListenAddr == "" {
		t.Fatalf("expected a default listen address")
	}
}

func TestVerificationRunnerIsConfigured(t *testing.T) {
	if verificationRunner() == nil {
		t.Fatalf("expected a non-nil default verification runner")
	}
}
