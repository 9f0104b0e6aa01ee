package app

import (
	"testing"
	"time"
)

func TestEnvHelpersFallBackOnBadInput(t *testing.T) {
	t.Setenv("CARELINE_TEST_STR", "  value  ")
	t.Setenv("CARELINE_TEST_BOOL", "yes-ish")
	t.Setenv("CARELINE_TEST_INT", "-3")
	t.Setenv("CARELINE_TEST_DUR", "soon")

	if got := EnvString("CARELINE_TEST_STR", "def"); got != "value" {
		t.Fatalf("EnvString=%q", got)
	}
	if got := EnvString("CARELINE_TEST_MISSING", "def"); got != "def" {
		t.Fatalf("EnvString default=%q", got)
	}
	if got := EnvBool("CARELINE_TEST_BOOL", true); got != true {
		t.Fatalf("EnvBool must keep the default on parse failure")
	}
	if got := EnvInt("CARELINE_TEST_INT", 7); got != 7 {
		t.Fatalf("EnvInt must reject non-positive values, got %d", got)
	}
	if got := EnvDuration("CARELINE_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("EnvDuration must keep the default on parse failure, got %v", got)
	}
}

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	t.Setenv("CARELINE_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("CARELINE_BACKEND_TIMEOUT", "5s")
	t.Setenv("CARELINE_DB_MAX_CONNS", "25")
	t.Setenv("CARELINE_READINESS_REQUIRE_DB", "true")

	cfg := LoadConfig()

	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.BackendTimeout != 5*time.Second {
		t.Fatalf("BackendTimeout=%v", cfg.BackendTimeout)
	}
	if cfg.DBMaxConns != 25 {
		t.Fatalf("DBMaxConns=%d", cfg.DBMaxConns)
	}
	if !cfg.ReadinessRequireDB {
		t.Fatalf("ReadinessRequireDB not set")
	}

	// Untouched keys keep their defaults.
	if cfg.LogLevel != "info" || cfg.BackendBaseURL != "http://localhost:8081/api" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
