package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("JWT_SECRET", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Session.TTL != 24*time.Hour {
		t.Fatalf("session ttl = %s, want 24h", cfg.Session.TTL)
	}
	if cfg.JWT.Secret == "" {
		t.Fatal("expected development jwt secret fallback")
	}
	if !cfg.IsDevelopment() || cfg.IsProduction() {
		t.Fatalf("unexpected environment flags for %q", cfg.Environment)
	}
	if got := cfg.GetServerAddress(); got != ":"+cfg.Server.Port {
		t.Fatalf("server address = %q", got)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("JWT_SECRET", "override-secret")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("SCYLLA_NODES", "10.0.0.1:9042, 10.0.0.2:9042")
	t.Setenv("PIN_MAX_ATTEMPTS", "3")
	t.Setenv("ENABLE_TLS", "true")
	t.Setenv("TLS_PORT", "9443")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Session.TTL != 2*time.Hour {
		t.Fatalf("session ttl = %s", cfg.Session.TTL)
	}
	if len(cfg.Scylla.Nodes) != 2 || cfg.Scylla.Nodes[1] != "10.0.0.2:9042" {
		t.Fatalf("scylla nodes = %v", cfg.Scylla.Nodes)
	}
	if cfg.Session.PinMaxAttempts != 3 {
		t.Fatalf("pin attempts = %d", cfg.Session.PinMaxAttempts)
	}
	if got := cfg.GetServerAddress(); got != ":9443" {
		t.Fatalf("server address = %q", got)
	}
}

func TestLoadConfigRejectsWeakProductionSecret(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "short")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("error %q does not mention JWT_SECRET", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := &Config{
		Environment: "development",
		Session:     SessionConfig{TTL: 0, PinMaxAttempts: -1},
		Bucketing:   BucketingConfig{EmployerBuckets: 0},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"JWT_SECRET", "SESSION_TTL", "PIN_MAX_ATTEMPTS", "EMPLOYER_BUCKETS", "SCYLLA_NODES"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %s", err, want)
		}
	}
}
