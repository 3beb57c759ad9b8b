package relay_sweeper

import (
	"context"
	"time"

	"github.com/etrid/flarebridge/internal/domain/entities"
	apperrors "github.com/etrid/flarebridge/internal/domain/errors"
	"github.com/etrid/flarebridge/internal/domain/repositories"
	"github.com/etrid/flarebridge/pkg/logger"
)

// RelaySweeper requeues in-flight jobs abandoned by a crashed submitter
type RelaySweeper interface {
	SweepStale(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// AttestationSource lists ready attestations and repairs their relay jobs
type AttestationSource interface {
	List(ctx context.Context, filter repositories.AttestationFilter) ([]*entities.Attestation, error)
	EnsureRelayJob(ctx context.Context, attestation *entities.Attestation) error
}

// RelayJobLookup checks whether a relay job exists for a message hash
type RelayJobLookup interface {
	GetByMessageHash(ctx context.Context, messageHash string) (*entities.RelayJob, error)
}

// Worker heals the relay queue: it requeues stale in-flight jobs and
// backfills jobs for ready attestations that lost theirs to a crash between
// the promotion and job-creation writes.
type Worker struct {
	relay         RelaySweeper
	attestations  AttestationSource
	jobs          RelayJobLookup
	checkInterval time.Duration
	staleAfter    time.Duration
	batchSize     int
	logger        *logger.Logger
	stopCh        chan struct{}
}

// Config holds worker configuration
type Config struct {
	CheckInterval time.Duration
	StaleAfter    time.Duration
	BatchSize     int
}

// DefaultConfig returns default worker configuration
func DefaultConfig() *Config {
	return &Config{
		CheckInterval: 2 * time.Minute,
		StaleAfter:    10 * time.Minute,
		BatchSize:     50,
	}
}

// NewWorker creates a new relay sweeper worker
func NewWorker(relay RelaySweeper, attestations AttestationSource, jobs RelayJobLookup, config *Config, logger *logger.Logger) *Worker {
	if config == nil {
		config = DefaultConfig()
	}
	checkInterval := config.CheckInterval
	if checkInterval <= 0 {
		checkInterval = DefaultConfig().CheckInterval
	}
	staleAfter := config.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultConfig().StaleAfter
	}
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultConfig().BatchSize
	}
	return &Worker{
		relay:         relay,
		attestations:  attestations,
		jobs:          jobs,
		checkInterval: checkInterval,
		staleAfter:    staleAfter,
		batchSize:     batchSize,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the sweeper worker
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Starting relay sweeper worker",
		"check_interval", w.checkInterval.String(),
		"stale_after", w.staleAfter.String())

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Relay sweeper worker stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("Relay sweeper worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop stops the worker
func (w *Worker) Stop() {
	close(w.stopCh)
}

// sweep runs one healing pass
func (w *Worker) sweep(ctx context.Context) {
	olderThan := time.Now().UTC().Add(-w.staleAfter)
	requeued, err := w.relay.SweepStale(ctx, olderThan, w.batchSize)
	if err != nil {
		w.logger.Error("Failed to sweep stale relay jobs", "error", err)
	} else if requeued > 0 {
		w.logger.Info("Requeued stale in-flight relay jobs", "count", requeued)
	}

	w.backfill(ctx)
}

// backfill creates relay jobs for ready attestations that have none
func (w *Worker) backfill(ctx context.Context) {
	ready, err := w.attestations.List(ctx, repositories.AttestationFilter{
		Status: entities.AttestationStatusReady,
		Limit:  w.batchSize,
	})
	if err != nil {
		w.logger.Error("Failed to list ready attestations", "error", err)
		return
	}

	backfilled := 0
	for _, attestation := range ready {
		if ctx.Err() != nil {
			return
		}

		_, err := w.jobs.GetByMessageHash(ctx, attestation.MessageHash)
		if err == nil {
			continue
		}
		if !apperrors.IsNotFound(err) {
			w.logger.Error("Failed to check relay job",
				"message_hash", attestation.MessageHash,
				"error", err)
			continue
		}

		if err := w.attestations.EnsureRelayJob(ctx, attestation); err != nil {
			w.logger.Error("Failed to backfill relay job",
				"message_hash", attestation.MessageHash,
				"error", err)
			continue
		}
		backfilled++
		w.logger.Info("Backfilled relay job for ready attestation",
			"message_hash", attestation.MessageHash)
	}

	if backfilled > 0 {
		w.logger.Info("Relay job backfill completed", "count", backfilled)
	}
}

// RunOnce runs one healing pass (for testing or manual trigger)
func (w *Worker) RunOnce(ctx context.Context) {
	w.sweep(ctx)
}
