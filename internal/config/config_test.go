package config

import (
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads so host environment never
// bleeds into the assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"DATABASE_URL", "REDIS_ADDR", "HTTP_ADDR", "PORT", "TICK_INTERVAL",
		"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME",
		"HTTP_SHUTDOWN_TIMEOUT", "STOP_GRACE_PERIOD", "RUNNER_COMMAND",
		"NOTIFY_WEBHOOK_URL", "NOTIFY_WEBHOOK_SECRET", "NOTIFY_TIMEOUT",
		"VCS_BRIDGE_URL", "METRICS_ENABLED", "METRICS_PATH",
		"RECONCILE_ENABLED", "RECONCILE_INTERVAL", "RECONCILE_THRESHOLD",
		"EVENTBUS_BUFFER_SIZE", "CIRCUIT_BREAKER_THRESHOLD",
		"CIRCUIT_BREAKER_COOLDOWN", "ANALYTICS_RETENTION",
		"LEADER_LOCK_KEY", "LEADER_RETRY_INTERVAL", "LEADER_HEARTBEAT_INTERVAL",
	}
	for _, v := range vars {
		t.Setenv(v, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.TickInterval != 30*time.Second {
		t.Errorf("TickInterval = %s, want 30s", cfg.TickInterval)
	}
	if cfg.StopGracePeriod != 10*time.Second {
		t.Errorf("StopGracePeriod = %s, want 10s", cfg.StopGracePeriod)
	}
	if cfg.RunnerCommand != "python3" {
		t.Errorf("RunnerCommand = %q, want python3", cfg.RunnerCommand)
	}
	if cfg.DBMaxOpenConns != 25 || cfg.DBMaxIdleConns != 5 {
		t.Errorf("pool = %d/%d, want 25/5", cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	}
	if !cfg.ReconcileEnabled {
		t.Error("reconciliation must default to enabled")
	}
	if cfg.ReconcileThreshold != 6*time.Hour {
		t.Errorf("ReconcileThreshold = %s, want 6h", cfg.ReconcileThreshold)
	}
	if cfg.EventBusBufferSize != 100 {
		t.Errorf("EventBusBufferSize = %d, want 100", cfg.EventBusBufferSize)
	}
	if cfg.CircuitBreakerThreshold != 5 {
		t.Errorf("CircuitBreakerThreshold = %d, want 5", cfg.CircuitBreakerThreshold)
	}
	if cfg.MetricsEnabled {
		t.Error("metrics must default to disabled")
	}
	if cfg.MetricsPath != "/metrics" {
		t.Errorf("MetricsPath = %q", cfg.MetricsPath)
	}
	if cfg.LeaderLockKey != 917204 {
		t.Errorf("LeaderLockKey = %d", cfg.LeaderLockKey)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://app:pw@db/autoloop")
	t.Setenv("TICK_INTERVAL", "1m")
	t.Setenv("STOP_GRACE_PERIOD", "45s")
	t.Setenv("RUNNER_COMMAND", "python3.12")
	t.Setenv("EVENTBUS_BUFFER_SIZE", "500")
	t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "0")
	t.Setenv("METRICS_ENABLED", "true")
	t.Setenv("RECONCILE_ENABLED", "false")

	cfg := Load()

	if cfg.TickInterval != time.Minute {
		t.Errorf("TickInterval = %s", cfg.TickInterval)
	}
	if cfg.StopGracePeriod != 45*time.Second {
		t.Errorf("StopGracePeriod = %s", cfg.StopGracePeriod)
	}
	if cfg.RunnerCommand != "python3.12" {
		t.Errorf("RunnerCommand = %q", cfg.RunnerCommand)
	}
	if cfg.EventBusBufferSize != 500 {
		t.Errorf("EventBusBufferSize = %d", cfg.EventBusBufferSize)
	}
	// Explicit zero disables the breaker rather than falling back to 5.
	if cfg.CircuitBreakerThreshold != 0 {
		t.Errorf("CircuitBreakerThreshold = %d, want 0", cfg.CircuitBreakerThreshold)
	}
	if !cfg.MetricsEnabled {
		t.Error("METRICS_ENABLED=true not honored")
	}
	if cfg.ReconcileEnabled {
		t.Error("RECONCILE_ENABLED=false not honored")
	}
}

func TestLoad_PortFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")

	if cfg := Load(); cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
	}
}

func TestLoad_InvalidBufferSizeFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("EVENTBUS_BUFFER_SIZE", "lots")

	if cfg := Load(); cfg.EventBusBufferSize != 100 {
		t.Errorf("EventBusBufferSize = %d, want default 100", cfg.EventBusBufferSize)
	}
}

func TestMaskedJSON(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://app:hunter2@db:5432/autoloop")
	t.Setenv("NOTIFY_WEBHOOK_URL", "https://hooks.example.com/autoloop")
	t.Setenv("NOTIFY_WEBHOOK_SECRET", "super-secret")

	out, err := Load().MaskedJSON()
	if err != nil {
		t.Fatalf("masked json: %v", err)
	}
	s := string(out)

	if strings.Contains(s, "hunter2") {
		t.Error("database password leaked into masked output")
	}
	if !strings.Contains(s, `"postgres://***"`) {
		t.Errorf("database url not masked by scheme: %s", s)
	}
	if strings.Contains(s, "super-secret") {
		t.Error("webhook secret leaked into masked output")
	}
	if !strings.Contains(s, `"notify_webhook_secret": "***"`) {
		t.Error("webhook secret presence not reported")
	}
	// The webhook URL itself is not a secret.
	if !strings.Contains(s, "hooks.example.com") {
		t.Error("webhook url missing from output")
	}
}
