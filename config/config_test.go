package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	s := Default()
	if err := s.Validate(); err != nil {
		t.Errorf("expected defaults to validate, but got %v", err)
	}
	if s.ChunkSize != OutChunkSize {
		t.Errorf("expected chunk size %d, but got %d", OutChunkSize, s.ChunkSize)
	}
	if s.QueueHighWater != QueueHighWater {
		t.Errorf("expected queue high water %d, but got %d", QueueHighWater, s.QueueHighWater)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	raw := "chunk_size: 8192\nconnect_timeout: 5s\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("loading settings: %v", err)
	}
	if s.ChunkSize != 8192 {
		t.Errorf("expected chunk size 8192, but got %d", s.ChunkSize)
	}
	if s.ConnectTimeout != 5*time.Second {
		t.Errorf("expected connect timeout 5s, but got %v", s.ConnectTimeout)
	}
	// Omitted fields keep their defaults.
	if s.WindowSize != WindowSize {
		t.Errorf("expected default window size, but got %d", s.WindowSize)
	}
	if s.FlashVersion != FlashVersion {
		t.Errorf("expected default flash version, but got %q", s.FlashVersion)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("chunk_size: 16\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected a validation error for a sub-minimum chunk size")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
