package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration must validate: %v", err)
	}
	if cfg.LockLease != 5*time.Minute || cfg.StaleAfter != 6*time.Minute || cfg.GenerationTimeout != 120*time.Second {
		t.Fatalf("unexpected timing defaults %+v", cfg)
	}
}

func TestValidateRejectsLeaseShorterThanGeneration(t *testing.T) {
	cfg := FromEnv()
	cfg.LockLease = cfg.GenerationTimeout + cfg.RepairMargin

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "LOCK_LEASE") {
		t.Fatalf("expected lease error, got %v", err)
	}
}

func TestValidateRejectsStaleAfterBelowLease(t *testing.T) {
	cfg := FromEnv()
	cfg.StaleAfter = cfg.LockLease - time.Second

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "STALE_AFTER") {
		t.Fatalf("expected staleness error, got %v", err)
	}
}

func TestFromEnvParsesDurations(t *testing.T) {
	t.Setenv("GENERATION_TIMEOUT", "90")
	t.Setenv("LOCK_LEASE", "4m")
	t.Setenv("STALE_AFTER", "not-a-duration")
	t.Setenv("AI_PROVIDER", "LangChain")

	cfg := FromEnv()
	if cfg.GenerationTimeout != 90*time.Second {
		t.Fatalf("expected plain seconds, got %s", cfg.GenerationTimeout)
	}
	if cfg.LockLease != 4*time.Minute {
		t.Fatalf("expected Go duration, got %s", cfg.LockLease)
	}
	if cfg.StaleAfter != 6*time.Minute {
		t.Fatalf("expected fallback on garbage, got %s", cfg.StaleAfter)
	}
	if cfg.AIProvider != AIProviderLangChain {
		t.Fatalf("expected normalized provider, got %q", cfg.AIProvider)
	}
}

func TestValidateRequiresDatabaseForPostgresCatalog(t *testing.T) {
	cfg := FromEnv()
	cfg.CatalogSource = CatalogSourcePostgres
	cfg.DatabaseURL = ""

	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected database error, got %v", err)
	}
}
