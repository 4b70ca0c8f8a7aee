package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roah-benchmarks/refboxcore/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Defaults()
	if cfg.DisplayLogSize != 3000 {
		t.Errorf("DisplayLogSize = %d, want 3000", cfg.DisplayLogSize)
	}
	if cfg.AfterStopDuration != 120*time.Second {
		t.Errorf("AfterStopDuration = %v, want 120s", cfg.AfterStopDuration)
	}
	if cfg.RSBBCipher != "chacha20poly1305" {
		t.Errorf("RSBBCipher = %q, want 'chacha20poly1305'", cfg.RSBBCipher)
	}
	if cfg.BasePort != 31000 {
		t.Errorf("BasePort = %d, want 31000", cfg.BasePort)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load() on a missing file returned an error: %v", err)
	}
	if *cfg != *config.Defaults() {
		t.Fatalf("Load() on a missing file = %+v, want Defaults()", cfg)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned an error: %v", err)
	}
	if *cfg != *config.Defaults() {
		t.Fatalf("Load(\"\") = %+v, want Defaults()", cfg)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refboxd.json")
	cfg := config.Defaults()
	cfg.BasePort = 40000
	cfg.RSBBHost = "192.168.1.1"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got.BasePort != 40000 {
		t.Errorf("BasePort after round trip = %d, want 40000", got.BasePort)
	}
	if got.RSBBHost != "192.168.1.1" {
		t.Errorf("RSBBHost after round trip = %q, want '192.168.1.1'", got.RSBBHost)
	}
	if got.DisplayLogSize != cfg.DisplayLogSize {
		t.Errorf("DisplayLogSize after round trip = %d, want %d", got.DisplayLogSize, cfg.DisplayLogSize)
	}
}

func TestLoadMalformedJSONErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("Load() on malformed JSON returned no error")
	}
}
