package config

import (
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Identity.Issuer != "https://auth.example.com" {
		t.Errorf("Identity.Issuer = %q", cfg.Identity.Issuer)
	}
	if cfg.Identity.JWKSURL != "https://auth.example.com/.well-known/jwks.json" {
		t.Errorf("Identity.JWKSURL = %q", cfg.Identity.JWKSURL)
	}
	if cfg.Identity.Audience != "grantflow" {
		t.Errorf("Identity.Audience = %q", cfg.Identity.Audience)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if cfg.Cases.Store.Driver != "postgres" {
		t.Errorf("Cases.Store.Driver = %q, want postgres", cfg.Cases.Store.Driver)
	}
	if cfg.Cases.Store.MaxOpenConns != 10 {
		t.Errorf("Cases.Store.MaxOpenConns = %d, want 10", cfg.Cases.Store.MaxOpenConns)
	}
	if cfg.Notifications.Driver != "redis" {
		t.Errorf("Notifications.Driver = %q, want redis", cfg.Notifications.Driver)
	}
	if cfg.Notifications.Channel != "grantflow:case-status-changed" {
		t.Errorf("Notifications.Channel = %q", cfg.Notifications.Channel)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_identity(t *testing.T) {
	_, err := Load("testdata/missing_identity.yaml")
	if err == nil {
		t.Fatal("Load() with missing identity should return error")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Cases.Store.Driver != "memory" {
		t.Errorf("default Cases.Store.Driver = %q, want memory", cfg.Cases.Store.Driver)
	}
	if cfg.Notifications.Driver != "memory" {
		t.Errorf("default Notifications.Driver = %q, want memory", cfg.Notifications.Driver)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GRANTFLOW_SERVER_PORT", "3000")
	t.Setenv("GRANTFLOW_IDENTITY_ISSUER", "https://env-issuer.com")
	t.Setenv("GRANTFLOW_IDENTITY_JWKS_URL", "https://env-issuer.com/.well-known/jwks.json")
	t.Setenv("GRANTFLOW_IDENTITY_AUDIENCE", "env-audience")
	t.Setenv("GRANTFLOW_OBSERVABILITY_LOG_LEVEL", "error")
	t.Setenv("GRANTFLOW_CASES_STORE_DRIVER", "memory")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://env-issuer.com" {
		t.Errorf("Identity.Issuer = %q, want env override", cfg.Identity.Issuer)
	}
	if cfg.Identity.Audience != "env-audience" {
		t.Errorf("Identity.Audience = %q, want env override", cfg.Identity.Audience)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
	if cfg.Cases.Store.Driver != "memory" {
		t.Errorf("Cases.Store.Driver = %q, want memory (env override)", cfg.Cases.Store.Driver)
	}
}

func TestValidate_invalid_port(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.JWKSURL = "https://auth.example.com/.well-known/jwks.json"
	cfg.Identity.Audience = "grantflow"
	cfg.Server.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() with port 0 should return error")
	}
}

func TestValidate_unknown_drivers(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.JWKSURL = "https://auth.example.com/.well-known/jwks.json"
	cfg.Identity.Audience = "grantflow"

	cfg.Cases.Store.Driver = "mongodb"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() with unknown case store driver should return error")
	}

	cfg.Cases.Store.Driver = "memory"
	cfg.Notifications.Driver = "kafka"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() with unknown notifications driver should return error")
	}
}

func TestLoad_env_priority_over_file(t *testing.T) {
	// File sets port 9090, env sets 5555. Env wins.
	t.Setenv("GRANTFLOW_SERVER_PORT", "5555")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5555 {
		t.Errorf("Server.Port = %d, want 5555 (env override beats file)", cfg.Server.Port)
	}
}
