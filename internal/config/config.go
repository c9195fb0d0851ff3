// Package config loads the sync server's runtime configuration from the
// environment, with an optional YAML file layered underneath for settings
// that don't suit an env var (limit tuning, interval overrides).
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved server configuration.
type Config struct {
	Port        uint16 `yaml:"port,omitempty"`
	StoragePath string `yaml:"storage_path,omitempty"`
	LogLevel    string `yaml:"log_level,omitempty"`
	LogFile     string `yaml:"log_file,omitempty"`

	// Voice (LiveKit) credentials. An empty APIKey disables the voice surface.
	LiveKitAPIKey    string `yaml:"livekit_api_key,omitempty"`
	LiveKitAPISecret string `yaml:"livekit_api_secret,omitempty"`
	LiveKitURL       string `yaml:"livekit_url,omitempty"`

	MaxProjects        int           `yaml:"max_projects,omitempty"`
	MaxPeersPerProject int           `yaml:"max_peers_per_project,omitempty"`
	MaxDocumentSize    int64         `yaml:"max_document_size,omitempty"`
	SaveInterval       time.Duration `yaml:"save_interval,omitempty"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval,omitempty"`
	SessionTimeout     time.Duration `yaml:"session_timeout,omitempty"`
	RoomIdleTimeout    time.Duration `yaml:"room_idle_timeout,omitempty"`
	CursorRetention    time.Duration `yaml:"cursor_retention,omitempty"`

	ChangesKeepRecent int `yaml:"changes_keep_recent,omitempty"`
}

// Defaults returns the configuration baseline: port 5000, 1000 projects,
// 50 peers/project, 100 MiB documents, 5s save / 60s cleanup ticks.
func Defaults() *Config {
	return &Config{
		Port:               5000,
		StoragePath:        "./data/collab.db",
		LogLevel:           "info",
		MaxProjects:        1000,
		MaxPeersPerProject: 50,
		MaxDocumentSize:    100 << 20,
		SaveInterval:       5 * time.Second,
		CleanupInterval:    60 * time.Second,
		SessionTimeout:     300 * time.Second,
		RoomIdleTimeout:    300 * time.Second,
		CursorRetention:    5 * time.Second,
		ChangesKeepRecent:  500,
	}
}

// VoiceEnabled reports whether LiveKit credentials are fully configured.
func (c *Config) VoiceEnabled() bool {
	return c.LiveKitAPIKey != "" && c.LiveKitAPISecret != "" && c.LiveKitURL != ""
}

// Load builds a Config from an optional YAML overlay file followed by
// environment variables, which always win. yamlPath may be empty.
func Load(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Port = uint16(p)
		}
	}
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		cfg.StoragePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("LIVEKIT_API_KEY"); v != "" {
		cfg.LiveKitAPIKey = v
	}
	if v := os.Getenv("LIVEKIT_API_SECRET"); v != "" {
		cfg.LiveKitAPISecret = v
	}
	if v := os.Getenv("LIVEKIT_URL"); v != "" {
		cfg.LiveKitURL = v
	}
	if v := os.Getenv("MAX_PROJECTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxProjects = n
		}
	}
	if v := os.Getenv("MAX_PEERS_PER_PROJECT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPeersPerProject = n
		}
	}
	if v := os.Getenv("MAX_DOCUMENT_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxDocumentSize = n
		}
	}
	if v := os.Getenv("SAVE_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SaveInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("CLEANUP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CleanupInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("SESSION_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTimeout = time.Duration(n) * time.Second
		}
	}
}
