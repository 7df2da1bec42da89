// Package scheduler runs the backup job on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// Task is the work run on every tick.
type Task func(ctx context.Context) error

// Scheduler triggers a Task on a standard five field cron expression.
// A tick that fires while the previous run is still going joins that run
// instead of starting a second one.
type Scheduler struct {
	schedule string
	task     Task
	cron     *cron.Cron
	group    singleflight.Group
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// New creates a Scheduler. The expression is validated here.
func New(schedule string, task Task) (*Scheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return &Scheduler{
		schedule: schedule,
		task:     task,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "scheduler"),
	}, nil
}

// Start schedules the task. It is stopped when ctx is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Trigger(ctx); err != nil {
			s.logger.Error("Scheduled run failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("Scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Trigger runs the task now. shared is true when the call joined a run that
// was already in progress.
func (s *Scheduler) Trigger(ctx context.Context) (shared bool, err error) {
	_, err, shared = s.group.Do("run", func() (any, error) {
		started := time.Now()
		s.logger.Info("Starting run")
		err := s.task(ctx)
		s.logger.Info("Run finished", "duration", time.Since(started), "ok", err == nil)
		return nil, err
	})
	if shared {
		s.logger.Warn("Run already in progress, joined it")
	}
	return shared, err
}

// Stop stops the scheduler and waits for a running task to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Scheduler stopped")
}

// IsRunning reports whether the scheduler has been started and not stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled run, or nil before Start.
func (s *Scheduler) NextRun() *time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
