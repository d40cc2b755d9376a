package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/ctlplane"
	"grimm.is/warden/internal/fwdata"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/rules"
)

func testDaemonConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.SocketPath = filepath.Join(dir, "ctl.sock")
	cfg.State.Path = filepath.Join(dir, "state.db")
	cfg.Journal.Path = filepath.Join(dir, "audit.db")
	cfg.Metrics.Enabled = false
	return cfg
}

func TestDaemon_DryRun(t *testing.T) {
	cfg := testDaemonConfig(t)
	logger := logging.New(logging.Config{Level: logging.LevelDebug, Output: &strings.Builder{}})

	ctx := context.Background()
	d, err := newDaemon(ctx, cfg, daemonOptions{DryRun: true, Logger: logger})
	require.NoError(t, err)
	defer d.Shutdown()
	require.NoError(t, d.Start(ctx))
	assert.Equal(t, "memory", d.backendName)

	client, err := ctlplane.NewClient(cfg.SocketPath)
	require.NoError(t, err)
	defer client.Close()

	cond, err := fwdata.ParseCondition("addr=198.51.100.9")
	require.NoError(t, err)
	reply, err := client.AddRule(fwdata.NewDescriptor(time.Now().Add(time.Hour), cond), rules.AddOptions{})
	require.NoError(t, err)
	require.Len(t, reply.Results, 1)
	assert.Equal(t, string(rules.OutcomeCreated), reply.Results[0].Outcome)

	st, err := client.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Rules)
	assert.True(t, st.Journal)
	var taskIDs []string
	for _, task := range st.Tasks {
		taskIDs = append(taskIDs, task.ID)
	}
	assert.Contains(t, taskIDs, "journal-prune")
	assert.Contains(t, taskIDs, "state-cleanup")

	hist, err := client.GetHistory(&ctlplane.GetHistoryArgs{})
	require.NoError(t, err)
	assert.NotEmpty(t, hist.Events)

	// Moving the socket on reload keeps the daemon reachable.
	next := *cfg
	next.SocketPath = filepath.Join(filepath.Dir(cfg.SocketPath), "moved.sock")
	next.LogLevel = "warn"
	d.Reload(&next)
	assert.Equal(t, logging.LevelWarn, logger.GetLevel())

	moved, err := ctlplane.NewClient(next.SocketPath)
	require.NoError(t, err)
	defer moved.Close()
	list, err := moved.ListRules()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	d.Shutdown()
	_, err = os.Stat(next.SocketPath)
	assert.True(t, os.IsNotExist(err), "socket removed on shutdown")
}

func TestDaemon_JournalDisabled(t *testing.T) {
	cfg := testDaemonConfig(t)
	off := false
	cfg.Journal.Enabled = &off

	d, err := newDaemon(context.Background(), cfg, daemonOptions{DryRun: true})
	require.NoError(t, err)
	defer d.Shutdown()

	assert.Nil(t, d.journal)
	_, err = os.Stat(cfg.Journal.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestSetupPIDFile(t *testing.T) {
	old := pidWatchInterval
	pidWatchInterval = 10 * time.Millisecond
	t.Cleanup(func() { pidWatchInterval = old })

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanup, err := setupPIDFile(ctx, dir)
	require.NoError(t, err)

	pidFile := filepath.Join(dir, "warden.pid")
	require.NoError(t, os.Remove(pidFile))
	assert.Eventually(t, func() bool {
		_, err := os.Stat(pidFile)
		return err == nil
	}, time.Second, 10*time.Millisecond, "watchdog restores the PID file")

	cancel()
	cleanup()
	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadDaemonConfig(t *testing.T) {
	_, err := loadDaemonConfig(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Error(t, err, "only the default path falls back to defaults")
}
