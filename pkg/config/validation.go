package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	def, ok := cfg.Cache.Groups[DefaultGroup]
	if !ok {
		return fmt.Errorf("cache.groups: the %q group must be configured", DefaultGroup)
	}
	if def.Connection == "" {
		return fmt.Errorf("cache.groups.%s: connection is required", DefaultGroup)
	}

	// Sorted so the reported group is stable across runs
	names := make([]string, 0, len(cfg.Cache.Groups))
	for name := range cfg.Cache.Groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		group := cfg.Cache.Group(name)
		if group.DisableLocalCache {
			continue
		}
		if _, err := ParseConnection(group.Connection); err != nil {
			return fmt.Errorf("cache.groups.%s: %w", name, err)
		}
		if _, err := group.FetchRateLimitBytes(); err != nil {
			return fmt.Errorf("cache.groups.%s: %w", name, err)
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
