package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/iago/fitcoach-back/internal/service"
)

func useInMemoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("LOG_LEVEL", "disabled")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("CATALOG_SOURCE", "file")
	t.Setenv("CATALOG_PATH", "../../data/catalog.yaml")
	t.Setenv("AI_PROVIDER", "openai")
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRunPrintsEmptyReport(t *testing.T) {
	useInMemoryEnv(t)

	stdout, _, err := execute(t, "run")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var report service.SweepReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("expected JSON report, got %q: %v", stdout, err)
	}
	if report != (service.SweepReport{}) {
		t.Fatalf("expected empty report on a fresh store, got %+v", report)
	}
}

func TestRunRejectsInvalidConfiguration(t *testing.T) {
	useInMemoryEnv(t)
	t.Setenv("LOCK_LEASE", "60s")

	_, _, err := execute(t, "run")
	if err == nil || !strings.Contains(err.Error(), "LOCK_LEASE") {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestExpireReportsUnknownJobs(t *testing.T) {
	useInMemoryEnv(t)

	_, stderr, err := execute(t, "expire", "missing-job")
	if err == nil {
		t.Fatalf("expected error for unknown job")
	}
	if !strings.Contains(stderr, "missing-job") {
		t.Fatalf("expected job id in stderr, got %q", stderr)
	}
}

func TestExpireRequiresArguments(t *testing.T) {
	useInMemoryEnv(t)

	if _, _, err := execute(t, "expire"); err == nil {
		t.Fatalf("expected argument error")
	}
}

func TestExpireHelpMentionsEarlyExpiry(t *testing.T) {
	useInMemoryEnv(t)

	stdout, _, err := execute(t, "expire", "--help")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	if !strings.Contains(stdout, "ahead of its TTL") {
		t.Fatalf("expected help to explain early expiry, got %q", stdout)
	}
}

func TestPurgeCacheWithoutPostgres(t *testing.T) {
	useInMemoryEnv(t)

	stdout, _, err := execute(t, "purge-cache")
	if err != nil {
		t.Fatalf("purge-cache: %v", err)
	}
	if !strings.Contains(stdout, "nothing to purge") {
		t.Fatalf("unexpected output %q", stdout)
	}
}
