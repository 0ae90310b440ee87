package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("OSM_BASE_URL", "https://backend.example.com")
	t.Setenv("OAUTH_CLIENT_ID", "client-id")
	t.Setenv("OAUTH_CLIENT_SECRET", "client-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Host != "localhost" {
		t.Errorf("Expected default host localhost, got %s", cfg.Host)
	}
	if cfg.Port != 4201 {
		t.Errorf("Expected default port 4201, got %d", cfg.Port)
	}
	if cfg.DatabasePath != "./data.db" {
		t.Errorf("Expected default database path ./data.db, got %s", cfg.DatabasePath)
	}
	if cfg.DemoMode {
		t.Error("Expected demo mode off by default")
	}
	if cfg.FlexiListTTL != 30*time.Minute {
		t.Errorf("Expected flexi list TTL 30m, got %v", cfg.FlexiListTTL)
	}
	if cfg.FlexiStructureTTL != 60*time.Minute {
		t.Errorf("Expected flexi structure TTL 60m, got %v", cfg.FlexiStructureTTL)
	}
	if cfg.FlexiDataTTL != 5*time.Minute {
		t.Errorf("Expected flexi data TTL 5m, got %v", cfg.FlexiDataTTL)
	}
	if cfg.QueueMaxRetries != 3 {
		t.Errorf("Expected 3 queue retries, got %d", cfg.QueueMaxRetries)
	}
	if cfg.QueueBaseDelay != time.Second {
		t.Errorf("Expected 1s base delay, got %v", cfg.QueueBaseDelay)
	}
	if cfg.QueueMaxDelay != 30*time.Second {
		t.Errorf("Expected 30s max delay, got %v", cfg.QueueMaxDelay)
	}
	if cfg.QueueEntryTimeout != 5*time.Minute {
		t.Errorf("Expected 5m entry timeout, got %v", cfg.QueueEntryTimeout)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("OSM_BASE_URL", "")
	t.Setenv("OAUTH_CLIENT_ID", "")
	t.Setenv("OAUTH_CLIENT_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Fatal("Expected error for missing required variables")
	}
	if !strings.Contains(err.Error(), "OSM_BASE_URL") {
		t.Errorf("Expected OSM_BASE_URL in error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "OAUTH_CLIENT_ID") {
		t.Errorf("Expected OAUTH_CLIENT_ID in error, got: %v", err)
	}
}

func TestLoadDemoModeSkipsOAuthVars(t *testing.T) {
	t.Setenv("OSM_BASE_URL", "https://backend.example.com")
	t.Setenv("OAUTH_CLIENT_ID", "")
	t.Setenv("OAUTH_CLIENT_SECRET", "")
	t.Setenv("DEMO_MODE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed in demo mode: %v", err)
	}
	if !cfg.DemoMode {
		t.Error("Expected demo mode on")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9999")
	t.Setenv("FLEXI_DATA_TTL", "90s")
	t.Setenv("QUEUE_MAX_RETRIES", "7")
	t.Setenv("METRICS_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 9999 {
		t.Errorf("Expected port 9999, got %d", cfg.Port)
	}
	if cfg.FlexiDataTTL != 90*time.Second {
		t.Errorf("Expected flexi data TTL 90s, got %v", cfg.FlexiDataTTL)
	}
	if cfg.QueueMaxRetries != 7 {
		t.Errorf("Expected 7 queue retries, got %d", cfg.QueueMaxRetries)
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected metrics enabled")
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "not-a-number")
	t.Setenv("FLEXI_LIST_TTL", "garbage")
	t.Setenv("DEMO_MODE", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 4201 {
		t.Errorf("Expected fallback port 4201, got %d", cfg.Port)
	}
	if cfg.FlexiListTTL != 30*time.Minute {
		t.Errorf("Expected fallback list TTL 30m, got %v", cfg.FlexiListTTL)
	}
	if cfg.DemoMode {
		t.Error("Expected fallback demo mode false")
	}
}
