package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/scheduler"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field    string
	Message  string
	Severity string // "error" (default), "warning"
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
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if any entry has error severity.
func (e ValidationErrors) HasErrors() bool {
	for _, err := range e {
		if err.Severity != "warning" {
			return true
		}
	}
	return false
}

// Warnings returns only the warning entries.
func (e ValidationErrors) Warnings() ValidationErrors {
	var out ValidationErrors
	for _, err := range e {
		if err.Severity == "warning" {
			out = append(out, err)
		}
	}
	return out
}

// Validate checks the configuration. Defaults must already be applied.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	warn := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Severity: "warning"})
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		add("log_level", "%v", err)
	}

	if d, err := time.ParseDuration(c.CleanupInterval); err != nil {
		add("cleanup_interval", "invalid duration %q", c.CleanupInterval)
	} else if d < 0 {
		add("cleanup_interval", "must not be negative")
	} else if d == 0 {
		warn("cleanup_interval", "automatic expiry sweeps are disabled")
	}

	if c.MaxRules < 0 {
		add("max_rules", "must be >= 0")
	}
	if c.SocketPath == "" {
		add("socket_path", "is required")
	}

	if c.Firewall != nil {
		if c.Firewall.Table == "" {
			add("firewall.table", "is required")
		}
		if c.Firewall.Chain == "" {
			add("firewall.chain", "is required")
		}
	}

	if j := c.Journal; j.IsEnabled() {
		if j.Path == "" {
			add("journal.path", "is required when the journal is enabled")
		}
		if j.RetentionDays < 0 {
			add("journal.retention_days", "must be >= 0")
		}
		if _, err := scheduler.Cron(j.PruneSchedule); err != nil {
			add("journal.prune_schedule", "%v", err)
		}
	}

	if c.State != nil && c.State.Path == "" {
		add("state.path", "is required")
	}

	if m := c.Metrics; m != nil && m.Enabled {
		if _, _, err := net.SplitHostPort(m.Listen); err != nil {
			add("metrics.listen", "invalid address %q: %v", m.Listen, err)
		}
	}

	if c.Refresh != nil {
		if d, err := time.ParseDuration(c.Refresh.Interval); err != nil {
			add("refresh.interval", "invalid duration %q", c.Refresh.Interval)
		} else if d < 0 {
			add("refresh.interval", "must not be negative")
		}
	}

	return errs
}
