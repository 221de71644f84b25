package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "INKROOM_STORE", "INKROOM_DB_PATH", "JWT_SECRET",
		"INKROOM_CHAT_RETENTION", "INKROOM_RETENTION_INTERVAL", "INKROOM_ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Port)
	}
	if cfg.Store != StoreSQLite {
		t.Errorf("Expected sqlite store, got %s", cfg.Store)
	}
	if cfg.ChatRetention != 500 {
		t.Errorf("Expected retention 500, got %d", cfg.ChatRetention)
	}
	if cfg.RetentionInterval != 10*time.Minute {
		t.Errorf("Expected 10m interval, got %v", cfg.RetentionInterval)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("Expected wildcard origin, got %v", cfg.AllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("INKROOM_STORE", "Mongo")
	t.Setenv("INKROOM_CHAT_RETENTION", "25")
	t.Setenv("INKROOM_RETENTION_INTERVAL", "30s")
	t.Setenv("INKROOM_ALLOWED_ORIGINS", "http://localhost:3000, http://localhost:3001,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9000" || cfg.Store != StoreMongo || cfg.ChatRetention != 25 {
		t.Errorf("Overrides not applied: %+v", cfg)
	}
	if cfg.RetentionInterval != 30*time.Second {
		t.Errorf("Expected 30s, got %v", cfg.RetentionInterval)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://localhost:3001" {
		t.Errorf("Unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"INKROOM_STORE", "postgres"},
		{"INKROOM_CHAT_RETENTION", "lots"},
		{"INKROOM_RETENTION_INTERVAL", "-1m"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
