package cmd

import (
	"fmt"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/config"
)

// RunCheck validates the configuration file syntax and semantics.
func RunCheck(configFile string, verbose bool) error {
	if len(configFile) == 0 {
		return fmt.Errorf("usage: %s check [-v] [-c config-file]", brand.BinaryName)
	}

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	printf("Configuration valid!\n")
	printf("Schema Version: %s\n", cfg.SchemaVersion)
	for _, w := range cfg.Validate().Warnings() {
		printf("Warning: %s\n", w.Error())
	}

	if verbose {
		printf("\n")
		printSummary(cfg)
	}
	return nil
}

func printSummary(cfg *config.Config) {
	printf("Log level:        %s\n", cfg.LogLevel)
	printf("Socket:           %s\n", cfg.SocketPath)
	printf("Cleanup interval: %s\n", cfg.CleanupEvery())
	if cfg.MaxRules > 0 {
		printf("Max rules:        %d\n", cfg.MaxRules)
	} else {
		printf("Max rules:        unlimited\n")
	}
	printf("Firewall:         table %s, chain %s, priority %d\n",
		cfg.Firewall.Table, cfg.Firewall.Chain, cfg.Firewall.Priority)
	printf("State:            %s\n", cfg.State.Path)
	if cfg.Journal.IsEnabled() {
		printf("Journal:          %s (%d days, prune %q)\n",
			cfg.Journal.Path, cfg.Journal.RetentionDays, cfg.Journal.PruneSchedule)
	} else {
		printf("Journal:          disabled\n")
	}
	if cfg.Metrics.Enabled {
		printf("Metrics:          %s\n", cfg.Metrics.Listen)
	} else {
		printf("Metrics:          disabled\n")
	}
	if every := cfg.RefreshEvery(); every > 0 {
		printf("Refresh:          every %s\n", every)
	} else {
		printf("Refresh:          at startup only\n")
	}
}
