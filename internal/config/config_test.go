package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DIRECTORY_BACKEND", "")
	t.Setenv("PORT", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port=%q want 8080", cfg.Port)
	}
	if cfg.DirectoryBackend != DirectoryFirestore {
		t.Fatalf("DirectoryBackend=%q want %q", cfg.DirectoryBackend, DirectoryFirestore)
	}
	if cfg.ReconcileInterval != time.Hour {
		t.Fatalf("ReconcileInterval=%v want 1h", cfg.ReconcileInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DIRECTORY_BACKEND", "memory")
	t.Setenv("RECONCILE_INTERVAL", "15m")
	t.Setenv("RECONCILE_REPAIR", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.DirectoryBackend != DirectoryMemory {
		t.Fatalf("DirectoryBackend=%q", cfg.DirectoryBackend)
	}
	if cfg.ReconcileInterval != 15*time.Minute || !cfg.ReconcileRepair {
		t.Fatalf("reconcile settings not applied: %+v", cfg)
	}
}

func TestHasDB(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"empty", Config{}, false},
		{"host", Config{DBUser: "app", DBName: "remu", DBHost: "127.0.0.1"}, true},
		{"cloudsql", Config{DBUser: "app", DBName: "remu", InstanceConnectionName: "p:r:i"}, true},
		{"no name", Config{DBUser: "app", DBHost: "127.0.0.1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.HasDB(); got != tt.want {
				t.Fatalf("HasDB()=%v want %v", got, tt.want)
			}
		})
	}
}
