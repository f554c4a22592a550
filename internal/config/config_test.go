package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.TokenTTL != 12*time.Hour {
		t.Fatalf("TokenTTL = %v, want 12h", cfg.TokenTTL)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
	if cfg.BootstrapAdminPassword == "" || cfg.BootstrapManagerPassword == "" {
		t.Fatal("bootstrap passwords must default non-empty")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("DATABASE_URL", "postgres://localhost/pos")
	t.Setenv("TOKEN_TTL", "30m")
	t.Setenv("REDIS_DB", "3")

	cfg := Load()
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.DatabaseURL != "postgres://localhost/pos" {
		t.Fatalf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.TokenTTL != 30*time.Minute {
		t.Fatalf("TokenTTL = %v", cfg.TokenTTL)
	}
	if cfg.RedisDB != 3 {
		t.Fatalf("RedisDB = %d", cfg.RedisDB)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("TOKEN_TTL", "not-a-duration")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	if cfg.TokenTTL != 12*time.Hour {
		t.Fatalf("TokenTTL = %v, want fallback", cfg.TokenTTL)
	}
	if cfg.RedisDB != 0 {
		t.Fatalf("RedisDB = %d, want fallback", cfg.RedisDB)
	}
}
