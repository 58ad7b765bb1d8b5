package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
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

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	if cfg.TriggerSecret == "" {
		errs = append(errs, ValidationError{
			Field:   "TRIGGER_SECRET",
			Message: "required",
		})
	}

	if cfg.LocalUTCOffsetHours < -12 || cfg.LocalUTCOffsetHours > 14 {
		errs = append(errs, ValidationError{
			Field:   "LOCAL_UTC_OFFSET_HOURS",
			Message: fmt.Sprintf("must be between -12 and 14, got %d", cfg.LocalUTCOffsetHours),
		})
	}

	durations := []struct {
		field string
		value string
	}{
		{"DISPATCH_TIMEOUT", cfg.DispatchTimeoutStr},
		{"PREFILTER_WINDOW", cfg.PrefilterWindowStr},
		{"MARKER_MAX_AGE", cfg.MarkerMaxAgeStr},
		{"WEBHOOK_TIMEOUT", cfg.WebhookTimeoutStr},
		{"BREAKER_COOLDOWN", cfg.BreakerCooldownStr},
		{"CACHE_REFRESH_INTERVAL", cfg.CacheRefreshIntervalStr},
		{"DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr},
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr},
	}
	for _, dur := range durations {
		if dur.value == "" {
			continue
		}
		d, err := time.ParseDuration(dur.value)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
			continue
		}
		if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: "must be positive",
			})
		}
	}

	switch cfg.Notifier {
	case "", "webhook":
		if cfg.WebhookSecret == "" {
			errs = append(errs, ValidationError{
				Field:   "WEBHOOK_SECRET",
				Message: "required when NOTIFIER is webhook",
			})
		}
	case "telegram":
		if cfg.TelegramToken == "" {
			errs = append(errs, ValidationError{
				Field:   "TELEGRAM_TOKEN",
				Message: "required when NOTIFIER is telegram",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "NOTIFIER",
			Message: fmt.Sprintf("must be 'webhook' or 'telegram', got %q", cfg.Notifier),
		})
	}

	if cfg.TickLoopEnabled && cfg.TickCron != "" {
		if _, err := cron.ParseStandard(cfg.TickCron); err != nil {
			errs = append(errs, ValidationError{
				Field:   "TICK_CRON",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
