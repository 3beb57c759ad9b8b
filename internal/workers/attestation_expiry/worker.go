package attestation_expiry

import (
	"context"
	"time"

	"github.com/etrid/flarebridge/pkg/logger"
)

// AttestationExpirer moves overdue pending attestations to expired
type AttestationExpirer interface {
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// Worker sweeps pending attestations past their expiry horizon
type Worker struct {
	attestations  AttestationExpirer
	checkInterval time.Duration
	batchSize     int
	logger        *logger.Logger
	stopCh        chan struct{}
}

// Config holds worker configuration
type Config struct {
	CheckInterval time.Duration
	BatchSize     int
}

// DefaultConfig returns default worker configuration
func DefaultConfig() *Config {
	return &Config{
		CheckInterval: 1 * time.Minute,
		BatchSize:     100,
	}
}

// NewWorker creates a new attestation expiry worker
func NewWorker(attestations AttestationExpirer, config *Config, logger *logger.Logger) *Worker {
	if config == nil {
		config = DefaultConfig()
	}
	checkInterval := config.CheckInterval
	if checkInterval <= 0 {
		checkInterval = DefaultConfig().CheckInterval
	}
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultConfig().BatchSize
	}
	return &Worker{
		attestations:  attestations,
		checkInterval: checkInterval,
		batchSize:     batchSize,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the expiry worker
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Starting attestation expiry worker",
		"check_interval", w.checkInterval.String(),
		"batch_size", w.batchSize)

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.expire(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Attestation expiry worker stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("Attestation expiry worker stopped")
			return
		case <-ticker.C:
			w.expire(ctx)
		}
	}
}

// Stop stops the worker
func (w *Worker) Stop() {
	close(w.stopCh)
}

// expire runs one expiry sweep
func (w *Worker) expire(ctx context.Context) {
	expired, err := w.attestations.ExpireDue(ctx, time.Now().UTC(), w.batchSize)
	if err != nil {
		w.logger.Error("Failed to expire attestations", "error", err)
		return
	}
	if expired > 0 {
		w.logger.Info("Expired overdue attestations", "count", expired)
	}
}

// RunOnce runs one sweep (for testing or manual trigger)
func (w *Worker) RunOnce(ctx context.Context) {
	w.expire(ctx)
}
