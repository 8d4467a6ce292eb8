package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/WangXijue/dpool"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dpool.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad_ValidConfigOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
servers:
  - host: 10.0.0.1
    port: 6379
  - host: 10.0.0.2
    port: 6379
pool:
  max_idle: 8
  max_active: 16
  max_fails: 2
  wait: true
  max_wait_ms: 250
`)

	servers, cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len(servers) = %d, want 2", len(servers))
	}
	if servers[0] != (dpool.ServerAddress{Host: "10.0.0.1", Port: 6379}) {
		t.Fatalf("servers[0] = %+v", servers[0])
	}
	if cfg.MaxIdle != 8 || cfg.MaxActive != 16 || cfg.MaxFails != 2 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if !cfg.Wait || cfg.MaxWaitMs != 250 {
		t.Fatalf("wait config not applied: %+v", cfg)
	}

	def := dpool.DefaultPoolConfig()
	if cfg.ConnTimeoutMs != def.ConnTimeoutMs || cfg.DataTimeoutMs != def.DataTimeoutMs {
		t.Fatalf("fields left at zero in the file should keep their defaults: %+v", cfg)
	}
}

func TestLoad_NoServersIsAnError(t *testing.T) {
	path := writeTempConfig(t, "servers: []\npool: {}\n")
	if _, _, err := Load(path); err == nil {
		t.Fatalf("expected an error for a config with no servers")
	}
}

func TestLoad_MissingFileIsAnError(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestLoad_InvalidYAMLIsAnError(t *testing.T) {
	path := writeTempConfig(t, "servers: [this is not valid: yaml: at all")
	if _, _, err := Load(path); err == nil {
		t.Fatalf("expected an error for invalid YAML")
	}
}
