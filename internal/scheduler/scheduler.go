// Package scheduler runs the daemon's periodic maintenance tasks: journal
// pruning, state cleanup and optional index rebuilds.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/logging"
)

// TaskFunc performs a scheduled task. Its context ends at the task timeout
// or when the scheduler stops.
type TaskFunc func(ctx context.Context) error

// Schedule defines when a task should run.
type Schedule interface {
	// Next returns the next run after the given time, or the zero time if
	// the task should not run again.
	Next(after time.Time) time.Time
}

// Task is a unit of scheduled work.
type Task struct {
	ID          string
	Name        string
	Description string
	Schedule    Schedule
	Func        TaskFunc
	Enabled     bool
	RunOnStart  bool // run once as soon as the scheduler starts
	Timeout     time.Duration
}

// TaskStatus is the run history of a task.
type TaskStatus struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Enabled      bool          `json:"enabled"`
	Running      bool          `json:"running"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	NextRun      time.Time     `json:"next_run,omitempty"`
	RunCount     int64         `json:"run_count"`
	ErrorCount   int64         `json:"error_count"`
}

var (
	ErrTaskExists   = errors.New("task already exists")
	ErrTaskNotFound = errors.New("task not found")
)

type taskEntry struct {
	task    *Task
	status  TaskStatus
	running bool
}

// Scheduler runs tasks on their schedules. A task never overlaps itself: a
// run that comes due while the previous one is still going is skipped.
type Scheduler struct {
	logger *logging.Logger
	clock  clock.Clock

	mu      sync.Mutex
	tasks   map[string]*taskEntry
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	kick    chan struct{}
	wg      sync.WaitGroup
}

// New creates a scheduler. A nil logger uses the default.
func New(logger *logging.Logger) *Scheduler {
	return &Scheduler{
		logger: logging.OrDefault(logger).WithComponent("scheduler"),
		clock:  clock.Real,
		tasks:  make(map[string]*taskEntry),
		kick:   make(chan struct{}, 1),
	}
}

// SetClock replaces the time source used for NextRun bookkeeping.
func (s *Scheduler) SetClock(c clock.Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock.OrReal(c)
}

// AddTask registers a task. Tasks may be added while running.
func (s *Scheduler) AddTask(task *Task) error {
	switch {
	case task.ID == "":
		return fmt.Errorf("task ID is required")
	case task.Schedule == nil:
		return fmt.Errorf("task %s: schedule is required", task.ID)
	case task.Func == nil:
		return fmt.Errorf("task %s: function is required", task.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
	}

	e := &taskEntry{
		task:   task,
		status: TaskStatus{ID: task.ID, Name: task.Name, Enabled: task.Enabled},
	}
	if task.Enabled {
		e.status.NextRun = task.Schedule.Next(s.clock.Now())
	}
	s.tasks[task.ID] = e
	s.wakeLocked()
	return nil
}

// RunTask starts a task immediately, outside its schedule.
func (s *Scheduler) RunTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if !s.running {
		return fmt.Errorf("scheduler not running")
	}
	s.launchLocked(e)
	return nil
}

// Status returns every task's status ordered by ID.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, 0, len(s.tasks))
	for _, e := range s.tasks {
		st := e.status
		st.Running = e.running
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start launches the run loop and any RunOnStart tasks.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	for _, e := range s.tasks {
		if e.task.Enabled && e.task.RunOnStart {
			s.launchLocked(e)
		}
	}

	s.wg.Add(1)
	go s.run(s.ctx)
	s.logger.Debug("scheduler started", "tasks", len(s.tasks))
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Debug("scheduler stopped")
}

func (s *Scheduler) wakeLocked() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// run sleeps until the earliest NextRun, then launches every due task.
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		wait := s.launchDueLocked()
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		case <-timer.C:
		}
	}
}

// launchDueLocked starts due tasks and returns the time until the next one.
func (s *Scheduler) launchDueLocked() time.Duration {
	now := s.clock.Now()
	wait := time.Hour
	for _, e := range s.tasks {
		next := e.status.NextRun
		if !e.task.Enabled || next.IsZero() {
			continue
		}
		if !next.After(now) {
			if e.running {
				s.logger.Warn("skipping run, previous run still active", "task", e.task.ID)
			} else {
				s.launchLocked(e)
			}
			e.status.NextRun = e.task.Schedule.Next(now)
			next = e.status.NextRun
			if next.IsZero() {
				continue
			}
		}
		if d := next.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (s *Scheduler) launchLocked(e *taskEntry) {
	if e.running {
		return
	}
	e.running = true
	s.wg.Add(1)
	go s.execute(s.ctx, e)
}

func (s *Scheduler) execute(ctx context.Context, e *taskEntry) {
	defer s.wg.Done()

	task := e.task
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	start := time.Now()
	err := runSafely(ctx, task.Func)
	duration := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()
	e.running = false
	e.status.LastRun = start
	e.status.LastDuration = duration
	e.status.RunCount++
	if err != nil {
		e.status.LastError = err.Error()
		e.status.ErrorCount++
		s.logger.Warn("task failed", "task", task.ID, "error", err, "duration", duration)
	} else {
		e.status.LastError = ""
		s.logger.Debug("task completed", "task", task.ID, "duration", duration)
	}
}

// runSafely converts a panicking task into an error.
func runSafely(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}
