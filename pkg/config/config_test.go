package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileNotPresent(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !cfg.Enable || cfg.BufferCapacity != DefaultBufferCapacity || cfg.ServerURL != DefaultServerURL {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geoquest.conf")
	content := `# geoquest daemon configuration
enable=1
server_url=https://quest.example.com
database_path=/var/lib/geoquest/state.db
buffer_capacity=500
social_enabled=0
log_level=debug
metrics_listener=1
metrics_port=9200
mqtt_broker=tcp://broker.example.com:1883
mqtt_topic='quest/positions'

unknown_key=ignored
not a key value line
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ServerURL != "https://quest.example.com" || cfg.BufferCapacity != 500 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.SocialEnabled {
		t.Error("social_enabled=0 not applied")
	}
	if cfg.LogLevel != "debug" || !cfg.MetricsListener || cfg.MetricsPort != 9200 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.MQTTTopic != "quest/positions" {
		t.Errorf("quoted value not trimmed: %q", cfg.MQTTTopic)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad server url", "server_url=broker.example.com\n"},
		{"port out of range", "metrics_port=70000\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "geoquest.conf")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestInvalidLogLevelKeepsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geoquest.conf")
	if err := os.WriteFile(path, []byte("log_level=verbose\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("log level = %q, want default %q", cfg.LogLevel, DefaultLogLevel)
	}
}
