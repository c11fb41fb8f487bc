// Package config loads the daemon configuration from a flat key=value file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config represents the geoquest daemon configuration
type Config struct {
	// Main configuration
	Enable         bool   `json:"enable"`
	ServerURL      string `json:"server_url"`
	DatabasePath   string `json:"database_path"`
	BufferCapacity int    `json:"buffer_capacity"`
	SocialEnabled  bool   `json:"social_enabled"`
	LogLevel       string `json:"log_level"`
	LogFile        string `json:"log_file"`

	// Metrics listener
	MetricsListener bool `json:"metrics_listener"`
	MetricsPort     int  `json:"metrics_port"`

	// Telemetry publish
	MQTTBroker string `json:"mqtt_broker"`
	MQTTTopic  string `json:"mqtt_topic"`

	// Notifications
	NotifyIcon string `json:"notify_icon"`
}

// Default configuration values
const (
	DefaultServerURL      = "http://localhost:3000"
	DefaultDatabasePath   = "geoquest.db"
	DefaultBufferCapacity = 200
	DefaultLogLevel       = "info"
	DefaultMetricsPort    = 9101
	DefaultMQTTTopic      = "geoquest/telemetry"
)

// LoadConfig loads and validates the configuration from path. A missing
// file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if err := cfg.parseFile(path); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for the configuration
func (c *Config) setDefaults() {
	c.Enable = true
	c.ServerURL = DefaultServerURL
	c.DatabasePath = DefaultDatabasePath
	c.BufferCapacity = DefaultBufferCapacity
	c.SocialEnabled = true
	c.LogLevel = DefaultLogLevel
	c.LogFile = ""
	c.MetricsListener = false
	c.MetricsPort = DefaultMetricsPort
	c.MQTTBroker = ""
	c.MQTTTopic = DefaultMQTTTopic
	c.NotifyIcon = ""
}

// parseFile reads key=value lines, ignoring blanks and # comments.
// Unknown keys and malformed values are skipped rather than rejected.
func (c *Config) parseFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		c.parseOption(strings.TrimSpace(key), strings.Trim(strings.TrimSpace(value), "'\""))
	}

	return nil
}

// parseOption parses a single configuration option
func (c *Config) parseOption(option, value string) {
	switch option {
	case "enable":
		c.Enable = value == "1" || value == "true"
	case "server_url":
		c.ServerURL = value
	case "database_path":
		c.DatabasePath = value
	case "buffer_capacity":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.BufferCapacity = v
		}
	case "social_enabled":
		c.SocialEnabled = value == "1" || value == "true"
	case "log_level":
		if isValidLogLevel(value) {
			c.LogLevel = value
		}
	case "log_file":
		c.LogFile = value
	case "metrics_listener":
		c.MetricsListener = value == "1" || value == "true"
	case "metrics_port":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.MetricsPort = v
		}
	case "mqtt_broker":
		c.MQTTBroker = value
	case "mqtt_topic":
		c.MQTTTopic = value
	case "notify_icon":
		c.NotifyIcon = value
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url must not be empty")
	}

	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return fmt.Errorf("server_url must be an http or https URL")
	}

	if c.BufferCapacity < 1 || c.BufferCapacity > 10000 {
		return fmt.Errorf("buffer_capacity must be between 1 and 10000")
	}

	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port must be between 1 and 65535")
	}

	return nil
}

func isValidLogLevel(level string) bool {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return true
		}
	}
	return false
}
