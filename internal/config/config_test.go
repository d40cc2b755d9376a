package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, CurrentSchemaVersion, cfg.SchemaVersion)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.CleanupEvery())
	assert.Zero(t, cfg.RefreshEvery())
	assert.Equal(t, "warden", cfg.Firewall.Table)
	assert.Equal(t, "filter", cfg.Firewall.Chain)
	assert.True(t, cfg.Journal.IsEnabled())
	assert.Equal(t, 30, cfg.Journal.RetentionDays)
	assert.False(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Validate().HasErrors())
}

func TestLoadHCL(t *testing.T) {
	src := `
schema_version   = "1.0"
log_level        = "debug"
cleanup_interval = "250ms"
max_rules        = 5000

firewall {
  table    = "blocklist"
  priority = -10
}

journal {
  enabled        = true
  retention_days = 7
  prune_schedule = "0 4 * * *"
}

metrics {
  enabled = true
  listen  = ":9100"
}

refresh {
  interval = "5m"
}
`
	cfg, err := LoadHCL([]byte(src), "test.hcl")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.CleanupEvery())
	assert.Equal(t, 5000, cfg.MaxRules)
	assert.Equal(t, "blocklist", cfg.Firewall.Table)
	assert.Equal(t, "filter", cfg.Firewall.Chain, "unset fields take defaults")
	assert.Equal(t, -10, cfg.Firewall.Priority)
	assert.Equal(t, 7, cfg.Journal.RetentionDays)
	assert.Equal(t, 5*time.Minute, cfg.RefreshEvery())
	assert.Equal(t, ":9100", cfg.Metrics.Listen)
	assert.NotEmpty(t, cfg.State.Path)
	assert.Empty(t, cfg.Validate())
}

func TestLoadHCL_Env(t *testing.T) {
	t.Setenv("WARDEN_TEST_TABLE", "fromenv")

	cfg, err := LoadHCL([]byte(`
firewall {
  table = env.WARDEN_TEST_TABLE
  chain = "${env.WARDEN_TEST_TABLE}_in"
}
`), "env.hcl")
	require.NoError(t, err)
	assert.Equal(t, "fromenv", cfg.Firewall.Table)
	assert.Equal(t, "fromenv_in", cfg.Firewall.Chain)
	assert.Contains(t, EnvNames(), "WARDEN_TEST_TABLE")
}

func TestLoadHCL_Errors(t *testing.T) {
	_, err := LoadHCL([]byte(`max_rules = `), "bad.hcl")
	assert.Error(t, err)

	_, err = LoadHCL([]byte(`no_such_field = 1`), "unknown.hcl")
	assert.Error(t, err)

	_, err = LoadHCL([]byte(`schema_version = "2.0"`), "future.hcl")
	assert.ErrorContains(t, err, "unsupported schema version")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	cfg.CleanupInterval = "soon"
	cfg.MaxRules = -1
	cfg.Journal.PruneSchedule = "every tuesday"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = "nope"
	cfg.Refresh.Interval = "-1s"

	errs := cfg.Validate()
	require.True(t, errs.HasErrors())

	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, f := range []string{"log_level", "cleanup_interval", "max_rules", "journal.prune_schedule", "metrics.listen", "refresh.interval"} {
		assert.True(t, fields[f], f)
	}
}

func TestValidate_DisabledSweepWarns(t *testing.T) {
	cfg := Default()
	cfg.CleanupInterval = "0s"

	errs := cfg.Validate()
	assert.False(t, errs.HasErrors())
	require.Len(t, errs.Warnings(), 1)
	assert.Equal(t, "cleanup_interval", errs[0].Field)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	hclPath := filepath.Join(dir, "warden.hcl")
	require.NoError(t, SaveHCL(Default(), hclPath))
	cfg, err := LoadFile(hclPath)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg, "generated config reloads unchanged")

	jsonPath := filepath.Join(dir, "warden.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"max_rules": 12, "firewall": {"chain": "in"}}`), 0644))
	cfg, err = LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.MaxRules)
	assert.Equal(t, "in", cfg.Firewall.Chain)

	yamlPath := filepath.Join(dir, "warden.yaml")
	yamlConfig := `
max_rules: 50
journal:
  enabled: false
metrics:
  enabled: true
  listen: "127.0.0.1:9900"
`
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlConfig), 0644))
	cfg, err = LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.MaxRules)
	assert.False(t, cfg.Journal.IsEnabled())
	assert.Equal(t, "127.0.0.1:9900", cfg.Metrics.Listen)
	assert.Equal(t, "warden", cfg.Firewall.Table, "defaults fill omitted blocks")

	_, err = LoadYAML([]byte("max_rulez: 5\n"))
	assert.Error(t, err, "unknown keys are rejected")

	badPath := filepath.Join(dir, "bad.hcl")
	require.NoError(t, os.WriteFile(badPath, []byte(`cleanup_interval = "x"`), 0644))
	_, err = LoadFile(badPath)
	assert.ErrorContains(t, err, "cleanup_interval")

	_, err = LoadFile(filepath.Join(dir, "missing.hcl"))
	assert.Error(t, err)
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("")
	require.NoError(t, err)
	assert.Equal(t, "1.0", v.String())

	v, err = ParseVersion("1.3")
	require.NoError(t, err)
	assert.False(t, v.IsCompatible(SchemaVersion{Major: 1, Minor: 0}))
	assert.True(t, SchemaVersion{Major: 1}.IsCompatible(v))

	for _, bad := range []string{"one", "1", "1.x", "-1.0"} {
		_, err = ParseVersion(bad)
		assert.Error(t, err, bad)
	}

	assert.NoError(t, checkVersion("1.0"))
	assert.Error(t, checkVersion("2.0"))
}

func TestJournal_EnabledByDefault(t *testing.T) {
	cfg, err := LoadHCL([]byte(`
journal {
  retention_days = 3
}
`), "journal.hcl")
	require.NoError(t, err)
	assert.True(t, cfg.Journal.IsEnabled(), "a journal block without enabled keeps the journal on")
	assert.Equal(t, 3, cfg.Journal.RetentionDays)

	cfg, err = LoadYAML([]byte("journal:\n  retention_days: 3\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Journal.IsEnabled())

	cfg, err = LoadHCL([]byte("journal {\n  enabled = false\n}\n"), "off.hcl")
	require.NoError(t, err)
	assert.False(t, cfg.Journal.IsEnabled())

	var unset *JournalConfig
	assert.False(t, unset.IsEnabled())
}

func TestJournal_Equal(t *testing.T) {
	a, b := Default(), Default()
	assert.True(t, a.Journal.Equal(b.Journal), "separately allocated defaults compare equal")

	off := false
	b.Journal.Enabled = &off
	assert.False(t, a.Journal.Equal(b.Journal))
	assert.False(t, a.Journal.Equal(nil))
}
