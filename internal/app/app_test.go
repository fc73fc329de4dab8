package app

import (
	"context"
	"testing"

	"github.com/iago/fitcoach-back/internal/config"
	"github.com/iago/fitcoach-back/internal/domain"
	"github.com/iago/fitcoach-back/internal/service"
	"github.com/rs/zerolog"
)

func inMemoryConfig() config.Config {
	cfg := config.FromEnv()
	cfg.DatabaseURL = ""
	cfg.RedisAddr = ""
	cfg.CatalogSource = config.CatalogSourceFile
	cfg.CatalogPath = "../../data/catalog.yaml"
	cfg.AIProvider = config.AIProviderOpenAI
	cfg.OpenAIAPIKey = ""
	return cfg
}

func TestNewWiresInMemoryStack(t *testing.T) {
	a, err := New(context.Background(), inMemoryConfig(), zerolog.Nop(), Options{WithQueue: true})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	if a.Catalog.Version() != "2026.10.1" {
		t.Fatalf("unexpected catalog version %q", a.Catalog.Version())
	}
	if a.Consumer == nil || a.Orchestrator == nil || a.Sweeper == nil {
		t.Fatalf("expected queue, orchestrator and sweeper to be wired")
	}
	if checks := a.HealthChecks(); len(checks) != 0 {
		t.Fatalf("expected no external probes for the in-memory stack, got %d", len(checks))
	}
	if a.CachePurger != nil {
		t.Fatalf("expected no purger without postgres")
	}

	job, err := a.Orchestrator.Submit(context.Background(), service.SubmitRequest{
		OwnerID: "owner-1",
		Params: domain.GenerationParams{
			Kind:            domain.JobKindWorkoutPlan,
			Goal:            "strength",
			ExperienceLevel: "beginner",
			Equipment:       []string{"dumbbell"},
			DaysPerWeek:     3,
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != domain.JobStatusPending {
		t.Fatalf("expected pending job, got %s", job.Status)
	}
}

func TestNewSkipsQueueForSweepCommand(t *testing.T) {
	a, err := New(context.Background(), inMemoryConfig(), zerolog.Nop(), Options{})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	if a.Consumer != nil {
		t.Fatalf("expected no consumer without WithQueue")
	}
	report, err := a.Sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Scanned != 0 {
		t.Fatalf("expected empty sweep, got %+v", report)
	}
}

func TestNewRejectsMissingCatalog(t *testing.T) {
	cfg := inMemoryConfig()
	cfg.CatalogPath = "does-not-exist.yaml"

	if _, err := New(context.Background(), cfg, zerolog.Nop(), Options{}); err == nil {
		t.Fatalf("expected catalog load error")
	}
}
