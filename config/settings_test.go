package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mmdatafocus/shopping_tracker/config"
)

func TestLoadSettings_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte("server:\n  port: \"9090\"\nimport:\n  timezone: Europe/London\nlog:\n  level: debug\n")
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("TRACKER_STORE_BLOB_BACKEND", "memory")

	s, err := config.LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Server.Port != "9090" {
		t.Fatalf("expected port from file, got %q", s.Server.Port)
	}
	if s.Store.BlobBackend != config.BlobBackendMemory {
		t.Fatalf("expected env override, got %q", s.Store.BlobBackend)
	}
	if s.Store.BlobKey != "purchase_tracker_db" {
		t.Fatalf("expected default blob key, got %q", s.Store.BlobKey)
	}
	if s.Import.SheetName != "Nectar Card Transactions" {
		t.Fatalf("expected default sheet name, got %q", s.Import.SheetName)
	}
	if s.Log.Level != "debug" {
		t.Fatalf("expected debug level, got %q", s.Log.Level)
	}

	again, err := config.LoadSettings("")
	if err != nil || again != s {
		t.Fatalf("later calls should return the first result")
	}
}

func TestImportSettings_Location(t *testing.T) {
	loc, err := config.ImportSettings{}.Location()
	if err != nil || loc != time.UTC {
		t.Fatalf("empty timezone should be UTC, got %v, %v", loc, err)
	}
	if _, err := (config.ImportSettings{Timezone: "Mars/Olympus"}).Location(); err == nil {
		t.Fatalf("expected unknown timezone to fail")
	}
}
