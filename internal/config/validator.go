package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration using struct tags plus rules that
// tags cannot express.
func (c *GatewayConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// A configured rules file must exist; a typo here should fail startup
	// rather than silently run without the extra rules.
	if c.Traffic.RulesFile != "" {
		if _, err := os.Stat(c.Traffic.RulesFile); err != nil {
			return fmt.Errorf("traffic.rules_file: %w", err)
		}
	}

	if c.Backend.HealthTimeout > c.Backend.Timeout {
		return errors.New("backend.health_timeout must not exceed backend.timeout")
	}

	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	var messages []string
	for _, e := range validationErrors {
		messages = append(messages, formatSingleValidationError(e))
	}
	return errors.New(strings.Join(messages, "; "))
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
