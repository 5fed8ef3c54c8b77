// Package cleanup provides data retention for monitoring results.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// RetentionConfig controls result retention and sweep behavior.
type RetentionConfig struct {
	// ResultRetentionDays is how many days to keep monitoring results
	// before deletion.
	ResultRetentionDays int

	// KeepPerTask is the number of newest results each task retains
	// regardless of age, so a long-disabled task keeps its history.
	KeepPerTask int

	// SweepInterval is how often the retention loop runs.
	SweepInterval time.Duration
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		ResultRetentionDays: 30,
		KeepPerTask:         20,
		SweepInterval:       1 * time.Hour,
	}
}

// ResultPruner deletes expired monitoring results. *services.ResultService
// satisfies it.
type ResultPruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time, keepLast int) (int64, error)
}

// Service periodically enforces the result retention policy. Deletion is
// age-based and idempotent, and each task's newest records survive every
// sweep.
type Service struct {
	config  *RetentionConfig
	results ResultPruner

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service. A nil config uses the built-in
// defaults.
func NewService(cfg *RetentionConfig, results ResultPruner) *Service {
	if cfg == nil {
		cfg = DefaultRetentionConfig()
	}
	return &Service{
		config:  cfg,
		results: results,
	}
}

// Start launches the background retention loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"result_retention_days", s.config.ResultRetentionDays,
		"keep_per_task", s.config.KeepPerTask,
		"interval", s.config.SweepInterval)
}

// Stop signals the retention loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.ResultRetentionDays)
	count, err := s.results.PruneOlderThan(ctx, cutoff, s.config.KeepPerTask)
	if err != nil {
		slog.Error("Retention: result pruning failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned old monitoring results", "count", count, "cutoff", cutoff)
	}
}
