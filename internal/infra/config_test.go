package infra

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("WEBHOOK_SECRET", "hook-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BASE_URL", "")
	t.Setenv("WATCHDOG_STUCK_AFTER", "")
	t.Setenv("WATCHDOG_HARD_TIMEOUT", "")
	t.Setenv("WATCHDOG_BATCH_LIMIT", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:8080/static" {
		t.Fatalf("StorageBaseURL mismatch: got %q", cfg.StorageBaseURL)
	}
	if cfg.WatchdogStuckAfter != 2*time.Hour {
		t.Fatalf("WatchdogStuckAfter = %s, want 2h", cfg.WatchdogStuckAfter)
	}
	if cfg.WatchdogHardTimeout != 6*time.Hour {
		t.Fatalf("WatchdogHardTimeout = %s, want 6h", cfg.WatchdogHardTimeout)
	}
	if cfg.WatchdogBatchLimit != 50 {
		t.Fatalf("WatchdogBatchLimit = %d, want 50", cfg.WatchdogBatchLimit)
	}
	if cfg.JobCosts["text_to_video"] != 5 {
		t.Fatalf("text_to_video cost = %d, want 5", cfg.JobCosts["text_to_video"])
	}
}

func TestLoadConfigRequiresWebhookSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("WEBHOOK_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when WEBHOOK_SECRET is missing")
	}
}

func TestLoadConfigParsesDurationsAndCountries(t *testing.T) {
	setRequired(t)
	t.Setenv("WATCHDOG_STUCK_AFTER", "90m")
	t.Setenv("WATCHDOG_HARD_TIMEOUT", "4h")
	t.Setenv("WEBHOOK_ALLOWED_COUNTRIES", " us, de ,,sg")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.WatchdogStuckAfter != 90*time.Minute {
		t.Fatalf("WatchdogStuckAfter = %s", cfg.WatchdogStuckAfter)
	}
	want := []string{"US", "DE", "SG"}
	if len(cfg.WebhookAllowedCountries) != len(want) {
		t.Fatalf("WebhookAllowedCountries = %#v, want %#v", cfg.WebhookAllowedCountries, want)
	}
	for i := range want {
		if cfg.WebhookAllowedCountries[i] != want[i] {
			t.Fatalf("WebhookAllowedCountries[%d] = %q, want %q", i, cfg.WebhookAllowedCountries[i], want[i])
		}
	}
}

func TestLoadConfigRejectsCeilingBelowThreshold(t *testing.T) {
	setRequired(t)
	t.Setenv("WATCHDOG_STUCK_AFTER", "3h")
	t.Setenv("WATCHDOG_HARD_TIMEOUT", "1h")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when hard timeout is below stuck threshold")
	}
}

func TestLoadConfigKeepsOriginCase(t *testing.T) {
	setRequired(t)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://App.example.com, http://localhost:3000")
	t.Setenv("TRUST_EDGE_COUNTRY_HEADERS", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[0] != "https://App.example.com" {
		t.Fatalf("CORSAllowedOrigins = %#v", cfg.CORSAllowedOrigins)
	}
	if !cfg.TrustEdgeCountryHeaders {
		t.Fatalf("TrustEdgeCountryHeaders not parsed")
	}
}
