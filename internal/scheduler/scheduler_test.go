package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// immediateSchedule is always due.
type immediateSchedule struct{}

func (immediateSchedule) Next(t time.Time) time.Time { return t }

// futureSchedule is due an hour later.
type futureSchedule struct{}

func (futureSchedule) Next(t time.Time) time.Time { return t.Add(time.Hour) }

// onceSchedule fires once, right away.
type onceSchedule struct{ fired atomic.Bool }

func (s *onceSchedule) Next(t time.Time) time.Time {
	if s.fired.Swap(true) {
		return time.Time{}
	}
	return t
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScheduler_AddTask(t *testing.T) {
	s := New(nil)
	noop := func(ctx context.Context) error { return nil }

	task := &Task{ID: "t1", Name: "Test", Enabled: true, Schedule: futureSchedule{}, Func: noop}
	if err := s.AddTask(task); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	if err := s.AddTask(task); !errors.Is(err, ErrTaskExists) {
		t.Errorf("duplicate AddTask error = %v", err)
	}

	for _, bad := range []*Task{
		{Schedule: futureSchedule{}, Func: noop},
		{ID: "x", Func: noop},
		{ID: "y", Schedule: futureSchedule{}},
	} {
		if err := s.AddTask(bad); err == nil {
			t.Errorf("AddTask(%+v) expected error", bad)
		}
	}

	st := s.Status()
	if len(st) != 1 || st[0].ID != "t1" || st[0].NextRun.IsZero() {
		t.Errorf("unexpected status %+v", st)
	}

	if err := s.RunTask("t1"); err == nil {
		t.Error("RunTask before Start should fail")
	}
	if err := s.RunTask("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("RunTask(missing) error = %v", err)
	}
}

func TestScheduler_Execution(t *testing.T) {
	s := New(nil)
	var runs atomic.Int64

	if err := s.AddTask(&Task{
		ID:       "once",
		Enabled:  true,
		Schedule: &onceSchedule{},
		Func: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		},
	}); err != nil {
		t.Fatal(err)
	}

	s.Start()
	defer s.Stop()

	waitFor(t, func() bool { return runs.Load() == 1 })
	waitFor(t, func() bool { return s.Status()[0].RunCount == 1 })

	st := s.Status()[0]
	if st.ErrorCount != 1 || st.LastError != "boom" {
		t.Errorf("error not recorded: %+v", st)
	}
	if !st.NextRun.IsZero() {
		t.Errorf("exhausted schedule still has NextRun %v", st.NextRun)
	}

	time.Sleep(50 * time.Millisecond)
	if n := runs.Load(); n != 1 {
		t.Errorf("task ran %d times, want 1", n)
	}
}

func TestScheduler_NoOverlap(t *testing.T) {
	s := New(nil)
	release := make(chan struct{})
	var active, maxActive atomic.Int64

	if err := s.AddTask(&Task{
		ID:       "slow",
		Enabled:  true,
		Schedule: Every(2 * time.Millisecond),
		Func: func(ctx context.Context) error {
			n := active.Add(1)
			defer active.Add(-1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	s.Start()
	waitFor(t, func() bool { return active.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(release)
	s.Stop()

	if m := maxActive.Load(); m != 1 {
		t.Errorf("task overlapped itself: %d concurrent runs", m)
	}
}

func TestScheduler_RunOnStartAndRunTask(t *testing.T) {
	s := New(nil)
	var runs atomic.Int64

	if err := s.AddTask(&Task{
		ID:         "startup",
		Enabled:    true,
		RunOnStart: true,
		Schedule:   futureSchedule{},
		Func: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	s.Start()
	defer s.Stop()
	waitFor(t, func() bool { return s.Status()[0].RunCount == 1 })

	if err := s.RunTask("startup"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return s.Status()[0].RunCount == 2 })
	if runs.Load() != 2 {
		t.Errorf("runs = %d, want 2", runs.Load())
	}
}

func TestScheduler_TimeoutAndPanic(t *testing.T) {
	s := New(nil)
	if err := s.AddTask(&Task{
		ID:         "timeout",
		Enabled:    true,
		RunOnStart: true,
		Timeout:    10 * time.Millisecond,
		Schedule:   futureSchedule{},
		Func: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTask(&Task{
		ID:         "panic",
		Enabled:    true,
		RunOnStart: true,
		Schedule:   futureSchedule{},
		Func:       func(ctx context.Context) error { panic("bad task") },
	}); err != nil {
		t.Fatal(err)
	}

	s.Start()
	defer s.Stop()
	waitFor(t, func() bool {
		st := s.Status()
		return st[0].ErrorCount == 1 && st[1].ErrorCount == 1
	})

	st := s.Status()
	if st[0].ID != "panic" || st[0].LastError != "task panicked: bad task" {
		t.Errorf("panic not recorded: %+v", st[0])
	}
	if st[1].LastError != context.DeadlineExceeded.Error() {
		t.Errorf("timeout not recorded: %+v", st[1])
	}
}

func TestScheduler_DisabledTask(t *testing.T) {
	s := New(nil)
	var runs atomic.Int64
	if err := s.AddTask(&Task{
		ID:         "off",
		Enabled:    false,
		RunOnStart: true,
		Schedule:   immediateSchedule{},
		Func: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	if runs.Load() != 0 {
		t.Errorf("disabled task ran %d times", runs.Load())
	}
}
