package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CATALOG_CACHE_TTL_SECONDS", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "not-a-number")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected address :8080, got %q", cfg.Address())
	}
	if cfg.CatalogCacheTTLSeconds != 30 {
		t.Fatalf("expected default catalog TTL 30s, got %d", cfg.CatalogCacheTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("malformed token TTL must fall back to 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}
