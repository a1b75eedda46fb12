package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags plus custom
// rules that cannot be expressed in tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules checks cross-entry consistency.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Filesystems) == 0 {
		return fmt.Errorf("filesystems: at least one filesystem must be configured")
	}

	fsNames := make(map[string]bool)
	for i, fs := range cfg.Filesystems {
		if fsNames[fs.Name] {
			return fmt.Errorf("filesystems[%d]: duplicate filesystem name %q", i, fs.Name)
		}
		fsNames[fs.Name] = true
	}

	listenerNames := make(map[string]bool)
	for i, l := range cfg.Listeners {
		if listenerNames[l.Name] {
			return fmt.Errorf("listeners[%d]: duplicate listener name %q", i, l.Name)
		}
		listenerNames[l.Name] = true

		if !fsNames[l.Filesystem] {
			return fmt.Errorf("listeners[%d]: unknown filesystem %q", i, l.Filesystem)
		}
		if l.Overwrite && l.NumberOfBackups > 0 {
			return fmt.Errorf("listeners[%d]: overwrite and number_of_backups are mutually exclusive", i)
		}
		if l.NumberOfBackups < 0 {
			return fmt.Errorf("listeners[%d]: number_of_backups must not be negative", i)
		}
		if !l.Delete && l.ProcessedFolder == "" && l.InProcessFolder == "" {
			return fmt.Errorf("listeners[%d]: finished files would stay in the input folder and be claimed again; set delete, processed_folder or in_process_folder", i)
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly
// messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
