package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	errs = append(errs, validateDuration("TICK_INTERVAL", cfg.TickIntervalStr)...)
	errs = append(errs, validateDuration("STOP_GRACE_PERIOD", cfg.StopGracePeriodStr)...)
	errs = append(errs, validateDuration("RECONCILE_INTERVAL", cfg.ReconcileIntervalStr)...)
	errs = append(errs, validateDuration("RECONCILE_THRESHOLD", cfg.ReconcileThresholdStr)...)

	if cfg.NotifyWebhookURL != "" && !strings.HasPrefix(cfg.NotifyWebhookURL, "http://") &&
		!strings.HasPrefix(cfg.NotifyWebhookURL, "https://") {
		errs = append(errs, ValidationError{
			Field:   "NOTIFY_WEBHOOK_URL",
			Message: "must be an http or https URL",
		})
	}
	if cfg.NotifyWebhookURL != "" && cfg.NotifyWebhookSecret == "" {
		errs = append(errs, ValidationError{
			Field:   "NOTIFY_WEBHOOK_SECRET",
			Message: "required when NOTIFY_WEBHOOK_URL is set",
		})
	}

	if cfg.ReconcileThreshold > 0 && cfg.StopGracePeriod > 0 &&
		cfg.ReconcileThreshold <= cfg.StopGracePeriod {
		errs = append(errs, ValidationError{
			Field:   "RECONCILE_THRESHOLD",
			Message: "must exceed STOP_GRACE_PERIOD",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDuration(field, value string) ValidationErrors {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return ValidationErrors{{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)}}
	}
	if d <= 0 {
		return ValidationErrors{{Field: field, Message: "must be positive"}}
	}
	return nil
}
