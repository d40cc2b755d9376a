package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/logging"
)

// pidWatchInterval is how often the PID file is checked and restored.
var pidWatchInterval = time.Second

// setupPIDFile writes the daemon PID under runDir and keeps it in place until
// ctx ends or cleanup runs. Cleanup removes the file if it still names us.
func setupPIDFile(ctx context.Context, runDir string) (cleanup func(), err error) {
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	pidFile := filepath.Join(runDir, brand.LowerName+".pid")
	pid := strconv.Itoa(os.Getpid())

	writePID := func() error {
		return os.WriteFile(pidFile, []byte(pid), 0644)
	}
	if err := writePID(); err != nil {
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(pidWatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				data, err := os.ReadFile(pidFile)
				if err != nil || strings.TrimSpace(string(data)) != pid {
					if err := writePID(); err != nil {
						logging.Error(fmt.Sprintf("Failed to restore PID file: %v", err))
					} else {
						logging.Info("Restoring PID file (detected missing or invalid)")
					}
				}
			}
		}
	}()

	cleanup = func() {
		cancel()
		<-done
		if data, err := os.ReadFile(pidFile); err == nil && strings.TrimSpace(string(data)) == pid {
			os.Remove(pidFile)
		}
	}
	return cleanup, nil
}
