// Package config loads client configuration from TOML with environment
// overrides. Defaults match the production deployment of the attendance
// application.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds everything the client needs to talk to the attendance
// application and its identity provider.
type Config struct {
	// BaseURL is the attendance application root.
	BaseURL string `toml:"base_url"`
	// AuthBaseURL is the identity provider root.
	AuthBaseURL string `toml:"auth_base_url"`
	// HubName is the SignalR hub pushing attendance updates.
	HubName string `toml:"hub_name"`
	// ClientProtocol is the SignalR client protocol version.
	ClientProtocol string `toml:"client_protocol"`
	// MaxReconnectAttempts bounds automatic realtime reconnects.
	MaxReconnectAttempts int `toml:"max_reconnect_attempts"`
	// RecordLength is the default number of records per fetch.
	RecordLength int `toml:"record_length"`
	// PollSeconds is the fallback polling interval in seconds.
	PollSeconds int `toml:"poll_seconds"`
}

// Default returns the production configuration.
func Default() Config {
	return Config{
		BaseURL:              "https://attendance.caraga.nia.gov.ph",
		AuthBaseURL:          "https://accounts.nia.gov.ph",
		HubName:              "biohub",
		ClientProtocol:       "1.5",
		MaxReconnectAttempts: 5,
		RecordLength:         50,
		PollSeconds:          60,
	}
}

// Load reads configuration from path, layered over the defaults and under
// environment overrides. A missing file is not an error; environment
// variables NIA_BASE_URL, NIA_AUTH_BASE_URL, NIA_HUB_NAME and
// NIA_RECORD_LENGTH override whatever the file says.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("NIA_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("NIA_AUTH_BASE_URL"); v != "" {
		cfg.AuthBaseURL = v
	}
	if v := os.Getenv("NIA_HUB_NAME"); v != "" {
		cfg.HubName = v
	}
	if v := os.Getenv("NIA_RECORD_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RecordLength = n
		}
	}
}

func (c Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url must not be empty")
	}
	if c.AuthBaseURL == "" {
		return fmt.Errorf("auth_base_url must not be empty")
	}
	if c.HubName == "" {
		return fmt.Errorf("hub_name must not be empty")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must not be negative")
	}
	if c.PollSeconds <= 0 {
		return fmt.Errorf("poll_seconds must be positive")
	}
	return nil
}

// PollInterval returns the fallback polling interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}
