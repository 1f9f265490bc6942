package config

import (
	"fmt"

	"propstack/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateDispatch(cfg.Dispatch); err != nil {
		errors = append(errors, err)
	}

	if err := validateModeration(cfg.Moderation); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	if cfg.Type != "kafka" {
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unsupported broker type: %s", cfg.Type),
		}
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one broker address is required",
		}
	}

	if cfg.Kafka.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "consumer group id is required",
		}
	}

	return nil
}

func validateDispatch(cfg DispatchConfig) error {
	switch cfg.Store {
	case "memory", "redis":
	default:
		return &ValidationError{
			Field:   "dispatch.store",
			Message: fmt.Sprintf("store must be 'memory' or 'redis', got %q", cfg.Store),
		}
	}

	switch cfg.OnStoreError {
	case constants.FallbackAllow, constants.FallbackDeny:
	default:
		return &ValidationError{
			Field:   "dispatch.on_store_error",
			Message: fmt.Sprintf("on_store_error must be 'allow' or 'deny', got %q", cfg.OnStoreError),
		}
	}

	return nil
}

func validateModeration(cfg ModerationConfig) error {
	if cfg.AutoApproveThreshold < 0 || cfg.AutoApproveThreshold > 100 {
		return &ValidationError{
			Field:   "moderation.auto_approve_threshold",
			Message: fmt.Sprintf("threshold must be in [0,100], got %d", cfg.AutoApproveThreshold),
		}
	}

	if cfg.AutoRejectThreshold < 0 || cfg.AutoRejectThreshold > 100 {
		return &ValidationError{
			Field:   "moderation.auto_reject_threshold",
			Message: fmt.Sprintf("threshold must be in [0,100], got %d", cfg.AutoRejectThreshold),
		}
	}

	if cfg.AutoRejectThreshold >= cfg.AutoApproveThreshold {
		return &ValidationError{
			Field:   "moderation.auto_reject_threshold",
			Message: "auto-reject threshold must be below the auto-approve threshold",
		}
	}

	return nil
}
