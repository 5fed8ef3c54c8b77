package monitor

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prismsec/prism/pkg/models"
)

const (
	// tickInterval is the scheduling resolution; task intervals are whole
	// minutes, so finer ticks buy nothing.
	tickInterval = time.Minute
	// readinessDelay gives the data store time to come up before the
	// first pass.
	readinessDelay = 5 * time.Second
	// maxConcurrentRuns bounds parallel task executions per tick.
	maxConcurrentRuns = 4
)

// TaskRunner executes one monitoring task by id.
type TaskRunner interface {
	Run(ctx context.Context, taskID string) (*models.MonitoringResult, error)
}

// TaskLister yields the enabled tasks considered on each tick.
// *services.TaskService satisfies it.
type TaskLister interface {
	ListEnabled(ctx context.Context) ([]*models.MonitoringTask, error)
}

// Scheduler runs enabled monitoring tasks when their interval elapses.
// Single-process: there is no leader election, one scheduler per
// deployment.
type Scheduler struct {
	tasks  TaskLister
	runner TaskRunner
	logger *slog.Logger

	interval time.Duration
	delay    time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler over the task store and runner.
func NewScheduler(tasks TaskLister, runner TaskRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tasks:    tasks,
		runner:   runner,
		logger:   logger,
		interval: tickInterval,
		delay:    readinessDelay,
	}
}

// Start launches the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Scheduler started", "tick", s.interval, "readiness_delay", s.delay)
}

// Stop signals the loop to exit and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return
	}
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every due task, at most maxConcurrentRuns at a time. Runs are
// isolated: a failing or panicking task is logged and never starves the
// others or the next tick.
func (s *Scheduler) tick(ctx context.Context) {
	tasks, err := s.tasks.ListEnabled(ctx)
	if err != nil {
		s.logger.Error("Failed to list enabled tasks", "error", err)
		return
	}

	now := time.Now().UTC()
	due := 0
	var g errgroup.Group
	g.SetLimit(maxConcurrentRuns)
	for _, task := range tasks {
		if !task.Due(now) {
			continue
		}
		due++
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					s.logger.Error("Task run panicked", "task_id", task.ID, "panic", rec)
				}
			}()
			if _, err := s.runner.Run(ctx, task.ID); err != nil {
				s.logger.Error("Scheduled run failed", "task_id", task.ID, "title", task.Title, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	if due > 0 {
		s.logger.Info("Scheduler tick completed", "due", due, "enabled", len(tasks))
	}
}
