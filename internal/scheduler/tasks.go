package scheduler

import (
	"context"
	"fmt"
	"time"

	"grimm.is/warden/internal/logging"
)

// TaskRegistry holds references to system components for task execution.
// Nil functions disable the corresponding task.
type TaskRegistry struct {
	// Refresh rebuilds the rule index from the firewall.
	Refresh func(ctx context.Context) error
	// PruneJournal deletes journal events past retention.
	PruneJournal func() (int64, error)
	// CleanupState drops expired persistent rule entries.
	CleanupState func() (int64, error)
}

// NewRefreshTask creates a task that periodically rebuilds the rule index.
func NewRefreshTask(registry *TaskRegistry, interval time.Duration) *Task {
	return &Task{
		ID:          "rule-refresh",
		Name:        "Rule Refresh",
		Description: "Rebuild the managed rule index from the firewall",
		Schedule:    Every(interval),
		Enabled:     true,
		RunOnStart:  false,
		Timeout:     time.Minute,
		Func: func(ctx context.Context) error {
			if registry.Refresh == nil {
				return fmt.Errorf("refresh function not configured")
			}
			return registry.Refresh(ctx)
		},
	}
}

// NewJournalPruneTask creates a task that deletes old journal events.
func NewJournalPruneTask(registry *TaskRegistry, schedule Schedule) *Task {
	return &Task{
		ID:          "journal-prune",
		Name:        "Journal Prune",
		Description: "Delete lifecycle journal events past retention",
		Schedule:    schedule,
		Enabled:     true,
		RunOnStart:  true,
		Timeout:     5 * time.Minute,
		Func: func(ctx context.Context) error {
			if registry.PruneJournal == nil {
				return fmt.Errorf("journal prune function not configured")
			}
			n, err := registry.PruneJournal()
			if err != nil {
				return err
			}
			if n > 0 {
				logging.Info("pruned journal events", "count", n)
			}
			return nil
		},
	}
}

// NewStateCleanupTask creates a task that drops expired persistent rules
// from the state store.
func NewStateCleanupTask(registry *TaskRegistry, interval time.Duration) *Task {
	return &Task{
		ID:          "state-cleanup",
		Name:        "State Cleanup",
		Description: "Remove expired persistent rule entries",
		Schedule:    Every(interval),
		Enabled:     true,
		RunOnStart:  false,
		Timeout:     time.Minute,
		Func: func(ctx context.Context) error {
			if registry.CleanupState == nil {
				return fmt.Errorf("state cleanup function not configured")
			}
			n, err := registry.CleanupState()
			if err != nil {
				return err
			}
			if n > 0 {
				logging.Debug("removed expired state entries", "count", n)
			}
			return nil
		},
	}
}
