package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pythonmap.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
scan:
  host: "scanme.example"
  ports: "20-100"
  retries: 2
  timeout: "750ms"
  services: "/etc/services"
output:
  file: "results.txt"
  no_tui: true
api:
  workers: 3
  rate_window: "30s"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Scan.Host != "scanme.example" || cfg.Scan.Ports != "20-100" {
		t.Errorf("unexpected scan target %+v", cfg.Scan)
	}
	if cfg.Scan.Timeout.Duration != 750*time.Millisecond {
		t.Errorf("Expected timeout 750ms, got %s", cfg.Scan.Timeout.Duration)
	}
	if cfg.Scan.Concurrency != 50 {
		t.Errorf("Expected default concurrency 50, got %d", cfg.Scan.Concurrency)
	}
	if !cfg.Output.NoTUI || cfg.Output.File != "results.txt" {
		t.Errorf("unexpected output config %+v", cfg.Output)
	}
	if cfg.API.Workers != 3 || cfg.API.RateWindow.Duration != 30*time.Second {
		t.Errorf("unexpected api config %+v", cfg.API)
	}
	if cfg.API.RedisAddr != "localhost:6379" {
		t.Errorf("Expected default redis addr, got %s", cfg.API.RedisAddr)
	}
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := writeConfig(t, "scan:\n  timeout: \"soon\"\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PYTHONMAP_RETRIES":     "7",
		"PYTHONMAP_TIMEOUT":     "2s",
		"PYTHONMAP_CONCURRENCY": "10",
		"REDIS_ADDR":            "redis:6379",
		"PYTHONMAP_API_KEY":     "secret",
		"PYTHONMAP_PORT_BUDGET": "1000",
		"PYTHONMAP_LOG_FORMAT":  "json",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	policy := cfg.Policy()
	if policy.MaxRetries != 7 || policy.ConnectTimeout != 2*time.Second || policy.MaxConcurrency != 10 {
		t.Errorf("unexpected policy %+v", policy)
	}
	if cfg.API.RedisAddr != "redis:6379" || cfg.API.APIKey != "secret" || cfg.API.PortBudget != 1000 {
		t.Errorf("unexpected api config %+v", cfg.API)
	}
	if cfg.API.RateLimit != Default().API.RateLimit {
		t.Errorf("unset rate limit must keep its default, got %d", cfg.API.RateLimit)
	}
	if cfg.Output.LogFormat != "json" {
		t.Errorf("expected log format from env, got %q", cfg.Output.LogFormat)
	}

	env["PYTHONMAP_RETRIES"] = "many"
	if err := Default().ApplyEnv(lookup); err == nil {
		t.Fatal("expected error for non-numeric retries")
	}
}

func TestPolicy(t *testing.T) {
	policy := Default().Policy()
	if policy.MaxRetries != 5 || policy.ConnectTimeout != 3*time.Second || policy.MaxConcurrency != 50 {
		t.Fatalf("unexpected default policy %+v", policy)
	}

	path := writeConfig(t, "scan:\n  retries: 0\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := cfg.Policy().Validate(); err == nil {
		t.Fatal("explicit zero retries must be rejected")
	}
}
