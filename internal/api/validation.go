package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/autoloop-io/autoloop/internal/domain"
)

func validateCreateAutomation(req CreateAutomationRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if req.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if req.TriggerMode != "" {
		if err := validateTriggerMode(req.TriggerMode); err != nil {
			return err
		}
	}
	if req.Code.toDomain().Empty() {
		return fmt.Errorf("code is required")
	}
	return validateEnvVarNames(req.EnvVarNames)
}

func validateCreateSchedule(req CreateScheduleRequest) error {
	if req.CronExpression == "" {
		return fmt.Errorf("cron_expression is required")
	}
	if err := validateCron(req.CronExpression); err != nil {
		return fmt.Errorf("invalid cron_expression: %w", err)
	}

	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if err := validateTimezone(tz); err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}
	return nil
}

func validateUpdateSchedule(req UpdateScheduleRequest) error {
	if req.CronExpression != nil {
		if *req.CronExpression == "" {
			return fmt.Errorf("cron_expression must not be empty")
		}
		if err := validateCron(*req.CronExpression); err != nil {
			return fmt.Errorf("invalid cron_expression: %w", err)
		}
	}
	if req.Timezone != nil && *req.Timezone != "" {
		if err := validateTimezone(*req.Timezone); err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}
	}
	return nil
}

func validateTriggerMode(mode string) error {
	switch domain.TriggerMode(mode) {
	case domain.TriggerModeManual, domain.TriggerModeTimeBased:
		return nil
	}
	return fmt.Errorf("trigger_mode must be %q or %q", domain.TriggerModeManual, domain.TriggerModeTimeBased)
}

func validateStatus(status string) error {
	switch domain.AutomationStatus(status) {
	case domain.AutomationStatusDraft, domain.AutomationStatusLive, domain.AutomationStatusNotInUse:
		return nil
	}
	return fmt.Errorf("status must be one of %q, %q, %q",
		domain.AutomationStatusDraft, domain.AutomationStatusLive, domain.AutomationStatusNotInUse)
}

// validateEnvVarNames rejects anything that looks like a value rather
// than a name. Only names are ever stored.
func validateEnvVarNames(names []string) error {
	for _, name := range names {
		if name == "" {
			return fmt.Errorf("env_var_names entries must not be empty")
		}
		if strings.ContainsAny(name, "= \t\n") {
			return fmt.Errorf("env_var_names entry %q is not a valid variable name", name)
		}
	}
	return nil
}

func validateCron(expr string) error {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(expr)
	return err
}

func validateTimezone(tz string) error {
	_, err := time.LoadLocation(tz)
	return err
}
