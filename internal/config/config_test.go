package config

import (
	"testing"
	"time"
)

func TestLoad_MissingSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when secrets are missing")
	}
}

func TestLoad_AllSet(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_abc")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_abc")
	t.Setenv("PORT", "9090")
	t.Setenv("RETURN_WINDOW", "48h")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.ReturnWindow != 48*time.Hour {
		t.Errorf("ReturnWindow = %s, want 48h", cfg.ReturnWindow)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "broker2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoadDev_FallsBackToDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	cfg := LoadDev()
	if cfg.JWTSecret == "" {
		t.Error("expected dev JWT secret")
	}
	if cfg.Currency != "usd" {
		t.Errorf("Currency = %q, want usd", cfg.Currency)
	}
	if cfg.KafkaBrokers != nil {
		t.Errorf("KafkaBrokers = %v, want nil", cfg.KafkaBrokers)
	}
}
