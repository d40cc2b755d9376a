package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewRefreshTask(t *testing.T) {
	calls := 0
	reg := &TaskRegistry{
		Refresh: func(ctx context.Context) error {
			calls++
			return nil
		},
	}

	task := NewRefreshTask(reg, 5*time.Minute)
	if task.ID != "rule-refresh" {
		t.Errorf("Wrong ID for refresh task: %s", task.ID)
	}
	if task.RunOnStart {
		t.Error("refresh task should not run on start; the daemon refreshes before serving")
	}

	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	if next := task.Schedule.Next(now); !next.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("Next = %v", next)
	}

	if err := task.Func(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("Refresh called %d times, want 1", calls)
	}
}

func TestNewJournalPruneTask(t *testing.T) {
	reg := &TaskRegistry{
		PruneJournal: func() (int64, error) { return 3, nil },
	}

	task := NewJournalPruneTask(reg, MustCron("15 3 * * *"))
	if task.ID != "journal-prune" {
		t.Errorf("Wrong ID for prune task: %s", task.ID)
	}
	if err := task.Func(context.Background()); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("disk full")
	reg.PruneJournal = func() (int64, error) { return 0, boom }
	if err := task.Func(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected prune error, got %v", err)
	}
}

func TestNewStateCleanupTask(t *testing.T) {
	var removed int64
	reg := &TaskRegistry{
		CleanupState: func() (int64, error) {
			removed += 2
			return 2, nil
		},
	}

	task := NewStateCleanupTask(reg, time.Hour)
	if err := task.Func(context.Background()); err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("CleanupState not called")
	}
}

func TestTasks_Unconfigured(t *testing.T) {
	reg := &TaskRegistry{}
	for _, task := range []*Task{
		NewRefreshTask(reg, time.Minute),
		NewJournalPruneTask(reg, MustCron("@daily")),
		NewStateCleanupTask(reg, time.Minute),
	} {
		if err := task.Func(context.Background()); err == nil {
			t.Errorf("%s: expected error without a configured function", task.ID)
		}
	}
}
