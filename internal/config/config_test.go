package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("AGENTNET_ADDR", "")
	t.Setenv("PORT", "")
	t.Setenv("AGENTNET_CORS_ORIGIN", "")

	cfg := FromEnv()
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("unexpected driver %q", cfg.DBDriver)
	}
	if cfg.SessionTTL != 24*time.Hour || cfg.ChallengeTTL != 5*time.Minute {
		t.Fatalf("unexpected ttls %v %v", cfg.SessionTTL, cfg.ChallengeTTL)
	}
	if cfg.Scheduler.Interval != 30*time.Second {
		t.Fatalf("unexpected scheduler interval %v", cfg.Scheduler.Interval)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("AGENTNET_ADDR", "")
	t.Setenv("PORT", "9000")
	t.Setenv("AGENTNET_DB_DRIVER", "Postgres")
	t.Setenv("AGENTNET_SESSION_TTL", "2h")
	t.Setenv("AGENTNET_CORS_ORIGIN", "https://a.example, https://b.example")
	t.Setenv("AGENTNET_SCHEDULER_ENABLED", "false")
	t.Setenv("AGENTNET_SCHEDULER_BATCH", "not-a-number")

	cfg := FromEnv()
	if cfg.Addr != ":9000" {
		t.Fatalf("expected PORT fallback, got %q", cfg.Addr)
	}
	if cfg.DBDriver != "postgres" {
		t.Fatalf("expected lowercased driver, got %q", cfg.DBDriver)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Fatalf("unexpected session ttl %v", cfg.SessionTTL)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
	if cfg.Scheduler.Enabled {
		t.Fatalf("expected scheduler disabled")
	}
	if cfg.Scheduler.Batch != 50 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.Scheduler.Batch)
	}
}
