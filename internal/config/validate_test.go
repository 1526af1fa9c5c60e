package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		DatabaseURL:           "postgres://app@db/autoloop",
		TickIntervalStr:       "30s",
		StopGracePeriodStr:    "10s",
		StopGracePeriod:       10 * time.Second,
		ReconcileIntervalStr:  "5m",
		ReconcileThresholdStr: "6h",
		ReconcileThreshold:    6 * time.Hour,
	}
}

func TestValidate_OK(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestValidate_DatabaseURLRequired(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error does not name the field: %v", err)
	}
}

func TestValidate_BadDurations(t *testing.T) {
	cases := map[string]func(*Config){
		"malformed tick":      func(c *Config) { c.TickIntervalStr = "soon" },
		"negative tick":       func(c *Config) { c.TickIntervalStr = "-5s" },
		"zero grace":          func(c *Config) { c.StopGracePeriodStr = "0s" },
		"malformed threshold": func(c *Config) { c.ReconcileThresholdStr = "six hours" },
	}

	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		if err := Validate(cfg); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestValidate_WebhookURLScheme(t *testing.T) {
	cfg := validConfig()
	cfg.NotifyWebhookURL = "ftp://hooks.example.com"
	cfg.NotifyWebhookSecret = "s"

	if err := Validate(cfg); err == nil {
		t.Error("non-http webhook url must be rejected")
	}
}

func TestValidate_WebhookSecretRequiredWithURL(t *testing.T) {
	cfg := validConfig()
	cfg.NotifyWebhookURL = "https://hooks.example.com"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "NOTIFY_WEBHOOK_SECRET") {
		t.Errorf("error does not name the field: %v", err)
	}

	cfg.NotifyWebhookSecret = "s"
	if err := Validate(cfg); err != nil {
		t.Errorf("secret provided, still rejected: %v", err)
	}
}

func TestValidate_ReconcileThresholdVsGrace(t *testing.T) {
	cfg := validConfig()
	cfg.ReconcileThreshold = 5 * time.Second
	cfg.ReconcileThresholdStr = "5s"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("threshold below stop grace must be rejected")
	}
	if !strings.Contains(err.Error(), "RECONCILE_THRESHOLD") {
		t.Errorf("error does not name the field: %v", err)
	}
}

func TestValidationErrors_Aggregate(t *testing.T) {
	cfg := Config{TickIntervalStr: "bad"}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "DATABASE_URL") || !strings.Contains(msg, "TICK_INTERVAL") {
		t.Errorf("aggregate message missing fields: %s", msg)
	}
	if !strings.Contains(msg, "2 validation errors") {
		t.Errorf("aggregate header missing: %s", msg)
	}
}
