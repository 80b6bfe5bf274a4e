package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Setenv("PAYU_SIGNING_URL", "https://api.example.com/payu/hash")
	t.Setenv("SUPABASE_JWT_SECRET", "jwt-secret")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.QueueInterval() != 60*time.Second {
		t.Fatalf("expected 60s queue interval, got %s", cfg.QueueInterval())
	}
	if cfg.RateLimitCountdown() != 60*time.Second {
		t.Fatalf("expected 60s countdown, got %s", cfg.RateLimitCountdown())
	}
	if cfg.FallbackEscalationThreshold != 2 {
		t.Fatalf("expected escalation threshold 2, got %d", cfg.FallbackEscalationThreshold)
	}
	if !cfg.StandingInstructionsEnabled {
		t.Fatal("expected standing instructions to be enabled by default")
	}
	if cfg.PaymentCurrency != "INR" {
		t.Fatalf("expected INR, got %q", cfg.PaymentCurrency)
	}
	if cfg.SnapshotBackend != SnapshotBackendMemory {
		t.Fatalf("expected memory snapshot backend, got %q", cfg.SnapshotBackend)
	}
	if cfg.PaymentEventsExchange != "directory.events" {
		t.Fatalf("expected default exchange, got %q", cfg.PaymentEventsExchange)
	}
	if got := cfg.AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Fatalf("expected wildcard origins, got %v", got)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	viper.Reset()
	t.Setenv("PAYU_HASH_URL", " https://api.example.com/hash ")
	t.Setenv("SUPABASE_JWT_SECRET", "jwt-secret")
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("APP_BASE_URL", "https://directory.example.com/")
	t.Setenv("QUEUE_INTERVAL_SECONDS", "5")
	t.Setenv("STANDING_INSTRUCTIONS_ENABLED", "false")
	t.Setenv("PAYMENT_CURRENCY", "inr")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.PayUSigningURL != "https://api.example.com/hash" {
		t.Fatalf("expected alias signing url, got %q", cfg.PayUSigningURL)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to override server port, got %q", cfg.ServerPort)
	}
	if cfg.SnapshotBackend != SnapshotBackendRedis {
		t.Fatalf("expected redis snapshot backend, got %q", cfg.SnapshotBackend)
	}
	if cfg.AppBaseURL != "https://directory.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.AppBaseURL)
	}
	if cfg.QueueInterval() != 5*time.Second {
		t.Fatalf("expected 5s interval, got %s", cfg.QueueInterval())
	}
	if cfg.StandingInstructionsEnabled {
		t.Fatal("expected standing instructions to be disabled")
	}
	if cfg.PaymentCurrency != "INR" {
		t.Fatalf("expected upper-cased currency, got %q", cfg.PaymentCurrency)
	}
	if got := cfg.AllowedOrigins(); len(got) != 2 || got[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins %v", got)
	}
}

func TestLoadConfig_BoltBackendFromPath(t *testing.T) {
	viper.Reset()
	t.Setenv("PAYU_SIGNING_URL", "https://api.example.com/hash")
	t.Setenv("SUPABASE_JWT_SECRET", "jwt-secret")
	t.Setenv("SNAPSHOT_DB_PATH", "/tmp/snapshots.db")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SnapshotBackend != SnapshotBackendBolt {
		t.Fatalf("expected bolt snapshot backend, got %q", cfg.SnapshotBackend)
	}
}

func TestLoadConfig_RequiresSigningURL(t *testing.T) {
	viper.Reset()
	t.Setenv("PAYU_SIGNING_URL", "")
	t.Setenv("SUPABASE_JWT_SECRET", "jwt-secret")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when PAYU_SIGNING_URL is missing")
	}
}

func TestLoadConfig_RequiresJWTSecret(t *testing.T) {
	viper.Reset()
	t.Setenv("PAYU_SIGNING_URL", "https://api.example.com/hash")
	t.Setenv("SUPABASE_JWT_SECRET", "  ")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when SUPABASE_JWT_SECRET is missing")
	}
}
