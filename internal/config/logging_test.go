package config

import "testing"

func TestLoadLogDefaults(t *testing.T) {
	cfg, err := LoadLog()
	if err != nil {
		t.Fatalf("LoadLog() error = %v", err)
	}
	if cfg.Level != "info" || cfg.Service != "settlement-server" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadLogParse(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_SERVICE", " settlement-worker ")

	cfg, err := LoadLog()
	if err != nil {
		t.Fatalf("LoadLog() error = %v", err)
	}
	if cfg.Level != "debug" || cfg.Service != "settlement-worker" {
		t.Fatalf("unexpected log config: %+v", cfg)
	}
}

func TestLoadLogFileNeedsCap(t *testing.T) {
	t.Setenv("LOG_FILE", "/tmp/settlement.log")
	t.Setenv("LOG_MAX_MB", "0")

	if _, err := LoadLog(); err == nil {
		t.Fatal("LoadLog() expected error for LOG_MAX_MB=0")
	}
}
