package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(PathEnvVar, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("addr=%q", cfg.Server.Addr)
	}
	if cfg.TickInterval() != 50*time.Millisecond {
		t.Fatalf("tick=%v", cfg.TickInterval())
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Fatalf("backend=%q", cfg.Storage.Backend)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dupeguard.yaml")
	body := []byte("storage:\n  backend: badger\n  path: " + dir + "/kv\nengine:\n  tick_rate: 10\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DUPEGUARD_ENGINE__TICK_RATE", "40")
	t.Setenv("DUPEGUARD_LOGGING__LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Backend != "badger" {
		t.Fatalf("file layer lost: %q", cfg.Storage.Backend)
	}
	if cfg.Engine.TickRate != 40 {
		t.Fatalf("env should win: %d", cfg.Engine.TickRate)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level=%q", cfg.Logging.Level)
	}
}

func TestValidateRejectsRemoteAddr(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Addr = "0.0.0.0:8080"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected loopback error")
	}
	cfg.Server.AllowRemote = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("allow_remote: %v", err)
	}
}

func TestValidateBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Backend = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected backend error")
	}
	cfg.Storage.Backend = "memory"
	cfg.Storage.Path = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory without path: %v", err)
	}
}

func TestEnvKey(t *testing.T) {
	cases := map[string]string{
		"DUPEGUARD_STORAGE__MAX_VALUE_SIZE": "storage.max_value_size",
		"DUPEGUARD_SERVER__ADDR":            "server.addr",
		PathEnvVar:                          "",
	}
	for in, want := range cases {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q)=%q want %q", in, got, want)
		}
	}
}
