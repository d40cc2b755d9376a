package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"grimm.is/warden/internal/audit"
	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/ctlplane"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
	"grimm.is/warden/internal/rules"
	"grimm.is/warden/internal/scheduler"
	"grimm.is/warden/internal/services"
	"grimm.is/warden/internal/state"
)

const (
	// stateCleanupInterval is how often expired persistent rules are dropped
	// from the state store.
	stateCleanupInterval = time.Hour

	// collectInterval is how often rule counts are copied into metrics.
	collectInterval = 15 * time.Second

	shutdownTimeout = 10 * time.Second
)

// RunStart runs the daemon in the foreground until SIGINT or SIGTERM.
// SIGHUP reloads the configuration file. With dryRun the firewall is
// simulated in memory.
func RunStart(configFile string, dryRun bool) error {
	cfg, err := loadDaemonConfig(configFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, cfg, daemonOptions{DryRun: dryRun, Logger: logger})
	if err != nil {
		return err
	}
	defer d.Shutdown()

	cleanupPID, err := setupPIDFile(ctx, brand.GetRunDir())
	if err != nil {
		return err
	}
	d.addCleanup(cleanupPID)

	if err := d.Start(ctx); err != nil {
		return err
	}
	logger.Info("warden started", "version", brand.Version, "backend", d.backendName, "socket", cfg.SocketPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for sig := range sigCh {
		if sig != syscall.SIGHUP {
			logger.Info("shutting down", "signal", sig.String())
			return nil
		}
		next, err := loadDaemonConfig(configFile)
		if err != nil {
			logger.Error("reload failed, keeping current configuration", "error", err)
			continue
		}
		d.Reload(next)
	}
	return nil
}

// loadDaemonConfig loads configFile. A missing file at the default location
// falls back to built-in defaults.
func loadDaemonConfig(configFile string) (*config.Config, error) {
	cfg, err := config.LoadFile(configFile)
	if err == nil {
		return cfg, nil
	}
	if configFile == brand.GetConfigPath() && errors.Is(err, os.ErrNotExist) {
		logging.Warn("config file not found, using defaults", "path", configFile)
		return config.Default(), nil
	}
	return nil, err
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.JSON = cfg.LogJSON
	return logging.New(lc), nil
}

type daemonOptions struct {
	DryRun bool
	Logger *logging.Logger
}

// daemon holds every component of a running warden instance.
type daemon struct {
	cfg         *config.Config
	logger      *logging.Logger
	store       *state.SQLiteStore
	backend     firewall.Backend
	backendName string
	journal     *audit.Store
	manager     *rules.Manager
	group       *services.Group
	ctl         *ctlplane.Server
	sched       *scheduler.Scheduler
	collector   *metrics.Collector

	// Cleanup functions to call on shutdown
	cleanupFuncs []func()
}

func (d *daemon) addCleanup(fn func()) {
	d.cleanupFuncs = append(d.cleanupFuncs, fn)
}

// Shutdown calls all registered cleanup functions in reverse order.
func (d *daemon) Shutdown() {
	for i := len(d.cleanupFuncs) - 1; i >= 0; i-- {
		d.cleanupFuncs[i]()
	}
	d.cleanupFuncs = nil
}

// newDaemon opens storage and the firewall and rebuilds the rule index.
// Nothing is served until Start.
func newDaemon(ctx context.Context, cfg *config.Config, opts daemonOptions) (_ *daemon, err error) {
	d := &daemon{cfg: cfg, logger: logging.OrDefault(opts.Logger)}
	defer func() {
		if err != nil {
			d.Shutdown()
		}
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.State.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	d.store, err = state.NewSQLiteStore(state.DefaultOptions(cfg.State.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	d.addCleanup(func() { d.store.Close() })

	ruleStore, err := state.NewRuleStore(d.store, firewall.PersistentBucket)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		d.logger.Warn("dry run: rules are kept in memory and not applied")
		d.backend, d.backendName = firewall.NewMemoryBackend(), "memory"
	} else {
		nft, err := firewall.NewNFTBackend(firewall.NFTConfig{
			Table:    cfg.Firewall.Table,
			Chain:    cfg.Firewall.Chain,
			Priority: int32(cfg.Firewall.Priority),
		}, ruleStore, d.logger)
		if err != nil {
			return nil, err
		}
		if err := nft.Open(ctx); err != nil {
			return nil, fmt.Errorf("failed to open firewall: %w", err)
		}
		d.backend, d.backendName = nft, "nftables"
	}

	if cfg.Journal.IsEnabled() {
		if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		d.journal, err = audit.NewStore(cfg.Journal.Path, cfg.Journal.RetentionDays)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		d.addCleanup(func() { d.journal.Close() })
	}

	rcfg := rules.Config{
		MaxRules:        cfg.MaxRules,
		CleanupInterval: cfg.CleanupEvery(),
		Logger:          d.logger,
		Metrics:         metrics.Get(),
	}
	if d.journal != nil {
		rcfg.Journal = d.journal
	}
	d.manager = rules.New(d.backend, rcfg)
	d.addCleanup(func() { d.manager.Close() })

	report, err := d.manager.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial refresh failed: %w", err)
	}
	d.logger.Info("rule index rebuilt",
		"indexed", report.Indexed, "foreign", report.Foreign,
		"expired", report.Expired, "duplicates", report.Duplicates)

	d.sched = scheduler.New(d.logger)
	if err := d.addTasks(); err != nil {
		return nil, err
	}

	d.group = services.NewGroup(d.logger)
	d.ctl = ctlplane.NewServer(d.manager, ctlplane.Options{
		SocketPath: cfg.SocketPath,
		Journal:    d.journal,
		Metrics:    metrics.Get(),
		Logger:     d.logger,
		Backend:    d.backendName,
		Tasks:      d.sched,
		Services:   d.group,
	})
	d.group.Register(d.ctl)
	if cfg.Metrics.Enabled {
		d.group.Register(metrics.NewServer(cfg.Metrics.Listen, d.logger))
	}

	d.collector = metrics.NewCollector(d.logger, collectInterval, d.manager.Counts)
	return d, nil
}

func (d *daemon) addTasks() error {
	reg := &scheduler.TaskRegistry{
		Refresh: func(ctx context.Context) error {
			_, err := d.manager.Refresh(ctx)
			return err
		},
		CleanupState: d.store.Cleanup,
	}
	if every := d.cfg.RefreshEvery(); every > 0 {
		if err := d.sched.AddTask(scheduler.NewRefreshTask(reg, every)); err != nil {
			return err
		}
	}
	if d.journal != nil {
		reg.PruneJournal = d.journal.Prune
		schedule, err := scheduler.Cron(d.cfg.Journal.PruneSchedule)
		if err != nil {
			return fmt.Errorf("invalid journal prune schedule: %w", err)
		}
		if err := d.sched.AddTask(scheduler.NewJournalPruneTask(reg, schedule)); err != nil {
			return err
		}
	}
	return d.sched.AddTask(scheduler.NewStateCleanupTask(reg, stateCleanupInterval))
}

// Start serves the control socket and metrics and starts background work.
func (d *daemon) Start(ctx context.Context) error {
	if err := d.group.Start(ctx); err != nil {
		return err
	}
	d.addCleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.group.Stop(stopCtx); err != nil {
			d.logger.Warn("service shutdown incomplete", "error", err)
		}
	})

	d.sched.Start()
	d.addCleanup(d.sched.Stop)

	d.collector.Start()
	d.addCleanup(d.collector.Stop)
	return nil
}

// Reload applies a new configuration. Settings owned by the rule manager,
// the firewall and the storage paths need a restart.
func (d *daemon) Reload(next *config.Config) {
	if level, err := logging.ParseLevel(next.LogLevel); err == nil {
		d.logger.SetLevel(level)
	}

	if next.MaxRules != d.cfg.MaxRules || next.CleanupEvery() != d.cfg.CleanupEvery() ||
		*next.Firewall != *d.cfg.Firewall || *next.State != *d.cfg.State || !next.Journal.Equal(d.cfg.Journal) {
		d.logger.Warn("some configuration changes take effect after a restart")
	}

	restarted, err := d.group.Reload(next)
	if err != nil {
		d.logger.Error("service reload failed", "error", err)
	}
	if len(restarted) > 0 {
		d.logger.Info("services restarted", "services", restarted)
	}
	d.cfg = next
	d.logger.Info("configuration reloaded")
}
