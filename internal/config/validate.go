package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/adamancini/modrunner/internal/types"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration. Out-of-range numeric values are reset
// to their defaults and reported as warnings; values that cannot be
// repaired are returned as an error.
func Validate(c *Config) ([]string, error) {
	var warnings []string
	var errs []string

	if u, err := url.Parse(c.Server.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		warnings = append(warnings, fmt.Sprintf("server.base_url %q does not look like an http(s) URL", c.Server.BaseURL))
	}

	resetInt := func(field string, v *int, def int) {
		if *v <= 0 {
			warnings = append(warnings, fmt.Sprintf("%s must be greater than 0, using %d", field, def))
			*v = def
		}
	}
	resetInt("server.timeout", &c.Server.Timeout, DefaultTimeout)
	resetInt("server.retry_times", &c.Server.RetryTimes, DefaultRetryTimes)
	resetInt("server.chunk_size", &c.Server.ChunkSize, DefaultChunkSize)
	resetInt("loader.install_timeout", &c.Loader.InstallTimeout, DefaultInstallTimeout)

	if c.Server.RetryDelay < 0 {
		warnings = append(warnings, fmt.Sprintf("server.retry_delay must not be negative, using %d", DefaultRetryDelay))
		c.Server.RetryDelay = DefaultRetryDelay
	}
	if c.Loader.MaxDependencyRetries < 0 {
		warnings = append(warnings, fmt.Sprintf("loader.max_dependency_retries must not be negative, using %d", DefaultMaxDependencyRetry))
		c.Loader.MaxDependencyRetries = DefaultMaxDependencyRetry
	}

	if c.Update.AutoUpdate && !c.Update.BackupOldFiles {
		warnings = append(warnings, "update.backup_old_files is recommended when auto_update is enabled")
	}

	if strings.TrimSpace(c.Module.BaseName) == "" {
		errs = append(errs, ValidationError{Field: "module.base_name", Message: "is required"}.Error())
	} else if strings.ContainsAny(c.Module.BaseName, `/\`) {
		errs = append(errs, ValidationError{Field: "module.base_name", Message: "must not contain path separators"}.Error())
	}

	if strings.TrimSpace(c.Module.EntryPoint) == "" {
		errs = append(errs, ValidationError{Field: "module.entry_point", Message: "is required"}.Error())
	}

	if c.Module.ArtifactKind != "" {
		if _, err := types.ParseArtifactKind(c.Module.ArtifactKind); err != nil {
			errs = append(errs, ValidationError{Field: "module.artifact_kind", Message: err.Error()}.Error())
		}
	}

	if strings.TrimSpace(c.Loader.Interpreter) == "" {
		errs = append(errs, ValidationError{Field: "loader.interpreter", Message: "is required"}.Error())
	}

	if len(errs) > 0 {
		return warnings, fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return warnings, nil
}
