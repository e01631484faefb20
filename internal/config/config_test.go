package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.AppPort != 8080 {
		t.Fatalf("expected default port 8080 got %d", cfg.AppPort)
	}
	if cfg.Catalog.RefreshInterval != 30*time.Second {
		t.Fatalf("expected 30s refresh interval got %s", cfg.Catalog.RefreshInterval)
	}
	if len(cfg.Access.AdminEmails) != 0 {
		t.Fatalf("expected no administrators by default got %v", cfg.Access.AdminEmails)
	}
	if cfg.HTTP.TrustProxy {
		t.Fatal("expected forwarded headers to be untrusted by default")
	}
	if cfg.ObjectStore.Enabled() {
		t.Fatal("expected object store to be disabled without a bucket")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DELTA_PORT", "9090")
	t.Setenv("DELTA_ADMIN_EMAILS", " Boss@Example.com ,, ops@example.com")
	t.Setenv("DELTA_CATALOG_CACHE_TTL", "2m")
	t.Setenv("DELTA_S3_BUCKET", "delta-assets")
	t.Setenv("DELTA_LOG_LEVEL", "debug")
	t.Setenv("DELTA_HTTP_TRUST_PROXY", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.AppPort != 9090 {
		t.Fatalf("expected port 9090 got %d", cfg.AppPort)
	}
	if got := cfg.Access.AdminEmails; len(got) != 2 || got[0] != "boss@example.com" || got[1] != "ops@example.com" {
		t.Fatalf("unexpected admin emails %v", got)
	}
	if cfg.Catalog.CacheTTL != 2*time.Minute {
		t.Fatalf("expected 2m cache ttl got %s", cfg.Catalog.CacheTTL)
	}
	if !cfg.ObjectStore.Enabled() {
		t.Fatal("expected object store to be enabled")
	}
	if !cfg.HTTP.TrustProxy {
		t.Fatal("expected trust proxy to be enabled")
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("expected debug level got %s", cfg.SlogLevel())
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("DELTA_PORT", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed port")
	}
}
