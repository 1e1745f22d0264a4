package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/liberodark/check-updates/internal/logging"
	"github.com/liberodark/check-updates/internal/schedule"
)

var log = logging.L("config")

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates problems that prevent a run from those that were
// corrected or only deserve a warning.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// Err joins the fatal problems into one error wrapping ErrConfig.
func (r ValidationResult) Err() error {
	if !r.HasFatals() {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfig, errors.Join(r.Fatals...))
}

// ValidateTiered checks the config. Out-of-range values that have a safe
// substitute are clamped and reported as warnings.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.Cron != "" {
		if c.LockFile == "" {
			r.Fatals = append(r.Fatals, errors.New("cron requires a lock file (--lock)"))
		}
		if _, err := schedule.Parse(c.Cron); err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("cron %q: %w", c.Cron, err))
		}
	}

	if c.Warning < 0 {
		r.Fatals = append(r.Fatals, fmt.Errorf("warning threshold %d must not be negative", c.Warning))
	}
	if c.Critical < 0 {
		r.Fatals = append(r.Fatals, fmt.Errorf("critical threshold %d must not be negative", c.Critical))
	}
	if c.Critical >= 0 && c.Warning >= 0 && c.Critical < c.Warning {
		r.Warnings = append(r.Warnings, fmt.Errorf("critical threshold %d is below warning threshold %d; warning is never reported", c.Critical, c.Warning))
	}

	if c.Update && c.SecurityUpdate {
		r.Warnings = append(r.Warnings, errors.New("both update and security_update set; all updates will be applied"))
	}

	if c.MinFreeDiskGB < 0 {
		r.Fatals = append(r.Fatals, fmt.Errorf("min_free_disk_gb %.1f must not be negative", c.MinFreeDiskGB))
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Fatals = append(r.Fatals, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.LogMaxSizeMB < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_max_size_mb %d is below minimum 1, clamping", c.LogMaxSizeMB))
		c.LogMaxSizeMB = 1
	} else if c.LogMaxSizeMB > 1024 {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_max_size_mb %d exceeds maximum 1024, clamping", c.LogMaxSizeMB))
		c.LogMaxSizeMB = 1024
	}
	if c.LogMaxBackups < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_max_backups %d is negative, clamping to 0 (keep all backups)", c.LogMaxBackups))
		c.LogMaxBackups = 0
	}

	return r
}
