package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 5000 {
		t.Errorf("Port = %d, want 5000", cfg.Port)
	}
	if cfg.MaxProjects != 1000 {
		t.Errorf("MaxProjects = %d, want 1000", cfg.MaxProjects)
	}
	if cfg.MaxPeersPerProject != 50 {
		t.Errorf("MaxPeersPerProject = %d, want 50", cfg.MaxPeersPerProject)
	}
	if cfg.VoiceEnabled() {
		t.Error("VoiceEnabled() = true with no LiveKit credentials")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("MAX_PROJECTS", "5")
	t.Setenv("LIVEKIT_API_KEY", "key")
	t.Setenv("LIVEKIT_API_SECRET", "secret")
	t.Setenv("LIVEKIT_URL", "wss://livekit.example.com")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.MaxProjects != 5 {
		t.Errorf("MaxProjects = %d, want 5", cfg.MaxProjects)
	}
	if !cfg.VoiceEnabled() {
		t.Error("VoiceEnabled() = false with full LiveKit credentials set")
	}
}

func TestLoadYAMLOverlayThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/syncd.yaml"
	if err := os.WriteFile(path, []byte("port: 9000\nmax_projects: 42\n"), 0644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	t.Setenv("MAX_PROJECTS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000 (from yaml)", cfg.Port)
	}
	if cfg.MaxProjects != 7 {
		t.Errorf("MaxProjects = %d, want 7 (env overrides yaml)", cfg.MaxProjects)
	}
}

func TestLoadMissingYAMLIsNotAnError(t *testing.T) {
	cfg, err := Load("/nonexistent/path/syncd.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SaveInterval != 5*time.Second {
		t.Errorf("SaveInterval = %v, want 5s default", cfg.SaveInterval)
	}
}
