package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EventSeed describes one pre-loaded event in the catalog.
type EventSeed struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	TotalSlots int    `yaml:"total_slots"`
}

// Config holds everything tunable about the coordinator process.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Coordinator struct {
		SelectionTimeoutSec    int `yaml:"selection_timeout_sec"`
		ConfirmationTimeoutSec int `yaml:"confirmation_timeout_sec"`
	} `yaml:"coordinator"`

	// Stream mirrors snapshots to NATS when a URL is configured.
	Stream struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"stream"`

	Events []EventSeed `yaml:"events"`
}

// DefaultEvents is the catalog used when the config file seeds none.
func DefaultEvents() []EventSeed {
	return []EventSeed{
		{ID: "tech-conference", Name: "Tech Conference", TotalSlots: 50},
		{ID: "go-workshop", Name: "Go Workshop", TotalSlots: 30},
		{ID: "hackathon", Name: "Hackathon", TotalSlots: 100},
		{ID: "ai-meetup", Name: "AI Meetup", TotalSlots: 40},
		{ID: "dev-summit", Name: "Dev Summit", TotalSlots: 60},
	}
}

// Load reads the YAML config at path, applies defaults, and lets environment
// variables override the file. A missing file is not an error; defaults and
// the environment apply.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
		// Fall through to defaults.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Coordinator.SelectionTimeoutSec == 0 {
		cfg.Coordinator.SelectionTimeoutSec = 30
	}
	if cfg.Coordinator.ConfirmationTimeoutSec == 0 {
		cfg.Coordinator.ConfirmationTimeoutSec = 120
	}
	if cfg.Stream.Subject == "" {
		cfg.Stream.Subject = "slotline"
	}
	if len(cfg.Events) == 0 {
		cfg.Events = DefaultEvents()
	}

	cfg.Server.Port = getEnvAsInt("PORT", cfg.Server.Port)
	cfg.Coordinator.SelectionTimeoutSec = getEnvAsInt("SELECTION_TIMEOUT_SEC", cfg.Coordinator.SelectionTimeoutSec)
	cfg.Coordinator.ConfirmationTimeoutSec = getEnvAsInt("CONFIRMATION_TIMEOUT_SEC", cfg.Coordinator.ConfirmationTimeoutSec)
	cfg.Stream.URL = getEnv("NATS_URL", cfg.Stream.URL)
	cfg.Stream.Subject = getEnv("NATS_SUBJECT", cfg.Stream.Subject)

	return &cfg, nil
}

// SelectionTimeout returns the selection window as a duration.
func (c *Config) SelectionTimeout() time.Duration {
	return time.Duration(c.Coordinator.SelectionTimeoutSec) * time.Second
}

// ConfirmationTimeout returns the confirmation window as a duration.
func (c *Config) ConfirmationTimeout() time.Duration {
	return time.Duration(c.Coordinator.ConfirmationTimeoutSec) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

