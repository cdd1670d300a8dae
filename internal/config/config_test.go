package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidatesWithRequiredEnv(t *testing.T) {
	cfg := Default()
	cfg.Storage.BaseURL = "http://storage.local"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config with storage URL should validate: %v", err)
	}
}

func TestValidateMissingStorage(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing storage.base_url")
	}
}

func TestLoadYAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_STRAND_KEY", "sk-test-123")
	t.Setenv("BASE_URL", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "strand.yaml")
	data := `
server:
  addr: ":9090"
storage:
  base_url: http://storage:7070
providers:
  hyperbolic:
    base_url: https://api.hyperbolic.xyz/v1
    api_key: ${TEST_STRAND_KEY}
redis:
  url: redis://redis:6379/1
  stream_max_len: 500
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	pc, ok := cfg.Provider("hyperbolic")
	if !ok {
		t.Fatal("hyperbolic provider missing")
	}
	if pc.APIKey != "sk-test-123" {
		t.Errorf("env expansion failed: %q", pc.APIKey)
	}
	if cfg.Redis.StreamMaxLen != 500 {
		t.Errorf("stream_max_len = %d", cfg.Redis.StreamMaxLen)
	}
	// Defaults survive partial files.
	if cfg.Sandbox.ShellIdleTimeout != 2*time.Second {
		t.Errorf("shell idle timeout default lost: %v", cfg.Sandbox.ShellIdleTimeout)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BASE_URL", "http://storage.env")
	t.Setenv("HYPERBOLIC_BASE_URL", "https://hyperbolic.env/v1")
	t.Setenv("REDIS_URL", "redis://env:6379/0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.BaseURL != "http://storage.env" {
		t.Errorf("BASE_URL override failed: %q", cfg.Storage.BaseURL)
	}
	pc, ok := cfg.Provider("hyperbolic")
	if !ok || pc.BaseURL != "https://hyperbolic.env/v1" {
		t.Errorf("HYPERBOLIC_BASE_URL override failed: %+v", pc)
	}
}

func TestLoadMissingFileIsNotFatal(t *testing.T) {
	t.Setenv("BASE_URL", "http://storage.env")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing config file should not be fatal: %v", err)
	}
}
