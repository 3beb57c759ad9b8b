package deposit_pruner

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/etrid/flarebridge/pkg/logger"
)

// DepositPruner deletes emitted deposits older than the retention horizon
type DepositPruner interface {
	DeleteEmittedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Worker prunes emitted deposits on a cron schedule. Only emitted rows are
// touched; pending and confirmed deposits stay until they complete.
type Worker struct {
	deposits  DepositPruner
	schedule  string
	retention time.Duration
	cron      *cron.Cron
	logger    *logger.Logger
}

// Config holds worker configuration
type Config struct {
	// Schedule is a standard five-field cron expression.
	Schedule      string
	RetentionDays int
}

// DefaultConfig returns default worker configuration
func DefaultConfig() *Config {
	return &Config{
		Schedule:      "0 3 * * *",
		RetentionDays: 30,
	}
}

// NewWorker creates a new deposit pruner worker
func NewWorker(deposits DepositPruner, config *Config, logger *logger.Logger) *Worker {
	if config == nil {
		config = DefaultConfig()
	}
	retentionDays := config.RetentionDays
	if retentionDays <= 0 {
		retentionDays = DefaultConfig().RetentionDays
	}
	schedule := config.Schedule
	if schedule == "" {
		schedule = DefaultConfig().Schedule
	}
	return &Worker{
		deposits:  deposits,
		schedule:  schedule,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger,
	}
}

// Start schedules the pruning job
func (w *Worker) Start(ctx context.Context) error {
	w.cron = cron.New()
	_, err := w.cron.AddFunc(w.schedule, func() {
		w.prune(ctx)
	})
	if err != nil {
		return err
	}

	w.cron.Start()
	w.logger.Info("Starting deposit pruner worker",
		"schedule", w.schedule,
		"retention", w.retention.String())
	return nil
}

// Stop halts the schedule and waits for a running prune to finish
func (w *Worker) Stop() {
	if w.cron == nil {
		return
	}
	<-w.cron.Stop().Done()
	w.logger.Info("Deposit pruner worker stopped")
}

// prune runs one retention pass
func (w *Worker) prune(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.retention)

	deleted, err := w.deposits.DeleteEmittedBefore(ctx, cutoff)
	if err != nil {
		w.logger.Error("Failed to prune emitted deposits", "error", err)
		return
	}

	if deleted > 0 {
		w.logger.Info("Pruned emitted deposits",
			"count", deleted,
			"cutoff", cutoff.Format(time.RFC3339))
	}
}

// RunOnce runs one retention pass (for testing or manual trigger)
func (w *Worker) RunOnce(ctx context.Context) {
	w.prune(ctx)
}
