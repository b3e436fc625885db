package config

import "testing"

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "COORDINATOR_ENV", "DATABASE_DSN", "LISTEN_ADDR")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != Development {
		t.Fatalf("expected development environment, got %s", cfg.Environment)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected listen addr: %s", cfg.ListenAddr)
	}
	if cfg.DefaultChannel != "stable" {
		t.Fatalf("unexpected default channel: %s", cfg.DefaultChannel)
	}
}

func TestValidateRejectsUnknownEnvironment(t *testing.T) {
	cfg := &Config{
		Environment:          Environment("bogus"),
		ListenAddr:           ":8080",
		StaleAfter:           1,
		ReclaimGrace:         1,
		VerificationPoolSize: 1,
		DefaultChannel:       "stable",
		MaxRequestBodyBytes:  1,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for unknown environment")
	}
}

func TestValidateRequiresDSNInProduction(t *testing.T) {
	cfg := &Config{
		Environment:          Production,
		ListenAddr:           ":8080",
		StaleAfter:           1,
		ReclaimGrace:         1,
		VerificationPoolSize: 1,
		DefaultChannel:       "stable",
		MaxRequestBodyBytes:  1,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error when DATABASE_DSN is unset in production")
	}
}

func TestValidateRejectsNonPositiveStaleAfter(t *testing.T) {
	cfg := &Config{
		Environment:          Development,
		ListenAddr:           ":8080",
		StaleAfter:           0,
		ReclaimGrace:         1,
		VerificationPoolSize: 1,
		DefaultChannel:       "stable",
		MaxRequestBodyBytes:  1,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for zero stale-after duration")
	}
}
