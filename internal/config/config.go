package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Address     string  `envconfig:"BROWSETRACE_ADDRESS" default:"127.0.0.1:8123"`
	DataDir     string  `envconfig:"BROWSETRACE_DATA_DIR"`
	Headless    bool    `envconfig:"BROWSETRACE_HEADLESS" default:"false"`
	StartURL    string  `envconfig:"BROWSETRACE_START_URL"`
	ChromePath  string  `envconfig:"BROWSETRACE_CHROME_PATH"`
	ReplaySpeed float64 `envconfig:"BROWSETRACE_REPLAY_SPEED" default:"1"`
	LogLevel    string  `envconfig:"LOG_LEVEL" default:"info"`
	LogDev      bool    `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return nil, err
		}
		cfg.DataDir = dir
	}
	if cfg.ReplaySpeed <= 0 {
		return nil, fmt.Errorf("replay speed must be positive, got %v", cfg.ReplaySpeed)
	}
	return &cfg, nil
}

// DefaultDataDir is the platform-specific application data directory.
func DefaultDataDir() (string, error) {
	homeDirectory, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDirectory, "Library", "Application Support", "BrowserTrace"), nil
	case "windows":
		return filepath.Join(homeDirectory, "AppData", "Roaming", "BrowserTrace"), nil
	default: // linux and others
		return filepath.Join(homeDirectory, ".local", "share", "BrowserTrace"), nil
	}
}

// ArchivePath is the SQLite session archive inside the data directory.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// EnsureDataDir creates the data directory if needed.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create application directory: %w", err)
	}
	return nil
}
