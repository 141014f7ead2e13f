// Package scheduler runs tasks on a fixed interval.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task represents a scheduled unit of work.
type Task struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Scheduler runs tasks at a fixed interval.
type Scheduler struct {
	tasks    []Task
	logger   *slog.Logger
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a new scheduler.
func New() *Scheduler {
	return &Scheduler{
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
}

// Add registers a task with the scheduler.
func (s *Scheduler) Add(task Task) {
	s.tasks = append(s.tasks, task)
}

// RunOnce executes every registered task once. A failing task is logged and
// does not prevent the rest from running; the first error is returned.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var first error
	for _, task := range s.tasks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Info("running task", "name", task.Name)
		start := time.Now()
		if err := task.Fn(ctx); err != nil {
			s.logger.Error("task failed", "name", task.Name, "error", err, "duration", time.Since(start))
			if first == nil {
				first = err
			}
			continue
		}
		s.logger.Info("task completed", "name", task.Name, "duration", time.Since(start))
	}
	return first
}

// Start runs the tasks immediately and then on every tick of interval until
// ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.logger.Info("scheduler started", "interval", interval, "tasks", len(s.tasks))

	s.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-s.done:
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop stops the scheduler. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}
