package config

import (
	"path/filepath"
	"time"

	"grimm.is/warden/internal/brand"
)

// CurrentSchemaVersion defines the current schema version of the configuration.
const CurrentSchemaVersion = "1.0"

// Config is the top-level daemon configuration.
type Config struct {
	// Schema version for backward compatibility (e.g., "1.0")
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty" yaml:"schema_version,omitempty"`

	LogLevel string `hcl:"log_level,optional" json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogJSON  bool   `hcl:"log_json,optional" json:"log_json,omitempty" yaml:"log_json,omitempty"`

	// CleanupInterval is the expiry sweep period; "0s" disables it.
	CleanupInterval string `hcl:"cleanup_interval,optional" json:"cleanup_interval,omitempty" yaml:"cleanup_interval,omitempty"`

	// MaxRules caps the managed rule index; 0 is unlimited.
	MaxRules int `hcl:"max_rules,optional" json:"max_rules,omitempty" yaml:"max_rules,omitempty"`

	SocketPath string `hcl:"socket_path,optional" json:"socket_path,omitempty" yaml:"socket_path,omitempty"`

	Firewall *FirewallConfig `hcl:"firewall,block" json:"firewall,omitempty" yaml:"firewall,omitempty"`
	Journal  *JournalConfig  `hcl:"journal,block" json:"journal,omitempty" yaml:"journal,omitempty"`
	State    *StateConfig    `hcl:"state,block" json:"state,omitempty" yaml:"state,omitempty"`
	Metrics  *MetricsConfig  `hcl:"metrics,block" json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Refresh  *RefreshConfig  `hcl:"refresh,block" json:"refresh,omitempty" yaml:"refresh,omitempty"`
}

// FirewallConfig names the nftables objects the daemon owns.
type FirewallConfig struct {
	Table    string `hcl:"table,optional" json:"table,omitempty" yaml:"table,omitempty"`
	Chain    string `hcl:"chain,optional" json:"chain,omitempty" yaml:"chain,omitempty"`
	Priority int    `hcl:"priority,optional" json:"priority,omitempty" yaml:"priority,omitempty"`
}

// JournalConfig configures the lifecycle journal.
type JournalConfig struct {
	Enabled       *bool  `hcl:"enabled,optional" json:"enabled,omitempty" yaml:"enabled,omitempty"` // nil means enabled
	Path          string `hcl:"path,optional" json:"path,omitempty" yaml:"path,omitempty"`
	RetentionDays int    `hcl:"retention_days,optional" json:"retention_days,omitempty" yaml:"retention_days,omitempty"`
	PruneSchedule string `hcl:"prune_schedule,optional" json:"prune_schedule,omitempty" yaml:"prune_schedule,omitempty"`
}

// IsEnabled reports whether the journal should be opened.
func (j *JournalConfig) IsEnabled() bool {
	return j != nil && (j.Enabled == nil || *j.Enabled)
}

// Equal compares two journal configurations by value.
func (j *JournalConfig) Equal(o *JournalConfig) bool {
	if j == nil || o == nil {
		return j == o
	}
	return j.IsEnabled() == o.IsEnabled() && j.Path == o.Path &&
		j.RetentionDays == o.RetentionDays && j.PruneSchedule == o.PruneSchedule
}

// StateConfig configures the persistent rule store.
type StateConfig struct {
	Path string `hcl:"path,optional" json:"path,omitempty" yaml:"path,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `hcl:"enabled,optional" json:"enabled" yaml:"enabled"`
	Listen  string `hcl:"listen,optional" json:"listen,omitempty" yaml:"listen,omitempty"`
}

// RefreshConfig configures periodic index rebuilds.
type RefreshConfig struct {
	// Interval between rebuilds; "0s" rebuilds only at startup.
	Interval string `hcl:"interval,optional" json:"interval,omitempty" yaml:"interval,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.SchemaVersion == "" {
		c.SchemaVersion = CurrentSchemaVersion
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CleanupInterval == "" {
		c.CleanupInterval = "10s"
	}
	if c.SocketPath == "" {
		c.SocketPath = brand.GetSocketPath()
	}

	if c.Firewall == nil {
		c.Firewall = &FirewallConfig{}
	}
	if c.Firewall.Table == "" {
		c.Firewall.Table = brand.LowerName
	}
	if c.Firewall.Chain == "" {
		c.Firewall.Chain = "filter"
	}

	if c.Journal == nil {
		c.Journal = &JournalConfig{}
	}
	if c.Journal.Enabled == nil {
		on := true
		c.Journal.Enabled = &on
	}
	if c.Journal.Path == "" {
		c.Journal.Path = filepath.Join(brand.GetStateDir(), "audit.db")
	}
	if c.Journal.RetentionDays == 0 {
		c.Journal.RetentionDays = 30
	}
	if c.Journal.PruneSchedule == "" {
		c.Journal.PruneSchedule = "15 3 * * *"
	}

	if c.State == nil {
		c.State = &StateConfig{}
	}
	if c.State.Path == "" {
		c.State.Path = filepath.Join(brand.GetStateDir(), "state.db")
	}

	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9477"
	}

	if c.Refresh == nil {
		c.Refresh = &RefreshConfig{}
	}
	if c.Refresh.Interval == "" {
		c.Refresh.Interval = "0s"
	}
}

// CleanupEvery returns the parsed sweep interval. Call Validate first.
func (c *Config) CleanupEvery() time.Duration {
	d, _ := time.ParseDuration(c.CleanupInterval)
	return d
}

// RefreshEvery returns the parsed refresh interval. Call Validate first.
func (c *Config) RefreshEvery() time.Duration {
	if c.Refresh == nil {
		return 0
	}
	d, _ := time.ParseDuration(c.Refresh.Interval)
	return d
}
