// Package relay drives ready attestations to their destination ledgers. The
// submitter polls queued relay jobs per destination, guards each message hash
// with a short Redis lease, leases an account nonce, and dispatches through
// the destination adapter. The destination contract stays the source of truth
// for replay protection; an already-relayed rejection is settled as success.
package relay

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/adapters/destination"
	"github.com/etrid/flarebridge/internal/domain/entities"
	apperrors "github.com/etrid/flarebridge/internal/domain/errors"
	"github.com/etrid/flarebridge/internal/domain/repositories"
	"github.com/etrid/flarebridge/pkg/metrics"
	"github.com/etrid/flarebridge/pkg/retry"
)

const leaseKeyPrefix = "relay:lease:"

// AttestationSource is the aggregator surface the submitter depends on
type AttestationSource interface {
	Get(ctx context.Context, messageHash string) (*entities.Attestation, error)
	MarkRelayed(ctx context.Context, messageHash string, relayedAt time.Time) error
}

// LeaseStore grants short exclusive leases on message hashes so concurrent
// submitter instances never race the same job.
type LeaseStore interface {
	AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, holder string) error
}

// EventSink receives relay lifecycle notifications
type EventSink interface {
	RelayFinalized(ctx context.Context, job *entities.RelayJob)
}

// NopSink discards all notifications
type NopSink struct{}

func (NopSink) RelayFinalized(context.Context, *entities.RelayJob) {}

// Alerter pushes operator notifications for terminal relay failures
type Alerter interface {
	RelayFailed(ctx context.Context, job *entities.RelayJob, reason string)
}

// NopAlerter discards all alerts
type NopAlerter struct{}

func (NopAlerter) RelayFailed(context.Context, *entities.RelayJob, string) {}

// Config tunes the relay submitter
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	LeaseTTL     time.Duration
	RetryPolicy  retry.Policy
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 2 * time.Minute
	}
	if c.RetryPolicy.InitialDelay <= 0 {
		c.RetryPolicy.InitialDelay = 2 * time.Second
	}
	if c.RetryPolicy.MaxDelay < c.RetryPolicy.InitialDelay {
		c.RetryPolicy.MaxDelay = time.Minute
	}
	if c.RetryPolicy.Multiplier < 1.0 {
		c.RetryPolicy.Multiplier = 2.0
	}
}

// Service is the relay submitter
type Service struct {
	cfg          Config
	relays       repositories.RelayRepository
	attestations AttestationSource
	dispatchers  map[uint32]destination.Dispatcher
	leases       LeaseStore
	nonces       *NonceManager
	events       EventSink
	alerts       Alerter
	holder       string
	logger       *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService builds the submitter over a set of destination dispatchers
func NewService(
	cfg Config,
	relays repositories.RelayRepository,
	attestations AttestationSource,
	dispatchers []destination.Dispatcher,
	leases LeaseStore,
	events EventSink,
	alerts Alerter,
	logger *zap.Logger,
) (*Service, error) {
	cfg.applyDefaults()
	if len(dispatchers) == 0 {
		return nil, fmt.Errorf("at least one destination dispatcher is required")
	}
	if events == nil {
		events = NopSink{}
	}
	if alerts == nil {
		alerts = NopAlerter{}
	}

	byDomain := make(map[uint32]destination.Dispatcher, len(dispatchers))
	for _, d := range dispatchers {
		if _, dup := byDomain[d.Domain()]; dup {
			return nil, fmt.Errorf("duplicate dispatcher for destination domain %d", d.Domain())
		}
		byDomain[d.Domain()] = d
	}

	return &Service{
		cfg:          cfg,
		relays:       relays,
		attestations: attestations,
		dispatchers:  byDomain,
		leases:       leases,
		nonces:       NewNonceManager(logger),
		events:       events,
		alerts:       alerts,
		holder:       uuid.NewString(),
		logger:       logger,
	}, nil
}

// Start launches one polling loop per destination domain
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("relay submitter already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel

	for _, d := range s.dispatchers {
		s.wg.Add(1)
		go s.pollLoop(runCtx, d)
	}

	s.logger.Info("relay submitter started",
		zap.Int("destinations", len(s.dispatchers)),
		zap.Duration("poll_interval", s.cfg.PollInterval))
	return nil
}

// Stop cancels the polling loops and waits for in-progress jobs to settle
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	for _, d := range s.dispatchers {
		if err := d.Close(); err != nil {
			s.logger.Warn("dispatcher close failed",
				zap.Uint32("domain", d.Domain()),
				zap.Error(err))
		}
	}
	s.logger.Info("relay submitter stopped")
}

func (s *Service) pollLoop(ctx context.Context, d destination.Dispatcher) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.processBatch(ctx, d)
		}
	}
}

func (s *Service) processBatch(ctx context.Context, d destination.Dispatcher) {
	jobs, err := s.relays.ListNotSubmitted(ctx, d.Domain(), s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("failed to list queued relay jobs",
			zap.Uint32("domain", d.Domain()),
			zap.Error(err))
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		s.processJob(ctx, d, job)
	}
}

// processJob drives one queued job to a settled state: finalized, failed, or
// back in the queue for a later pass. It never runs without holding the
// message lease.
func (s *Service) processJob(ctx context.Context, d destination.Dispatcher, job *entities.RelayJob) {
	leaseKey := leaseKeyPrefix + job.MessageHash
	acquired, err := s.leases.AcquireLease(ctx, leaseKey, s.holder, s.cfg.LeaseTTL)
	if err != nil {
		s.logger.Warn("lease acquisition failed, skipping job",
			zap.String("message_hash", job.MessageHash),
			zap.Error(err))
		return
	}
	if !acquired {
		s.logger.Debug("job leased by another submitter",
			zap.String("message_hash", job.MessageHash))
		return
	}
	defer func() {
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer releaseCancel()
		if err := s.leases.ReleaseLease(releaseCtx, leaseKey, s.holder); err != nil {
			s.logger.Warn("lease release failed",
				zap.String("message_hash", job.MessageHash),
				zap.Error(err))
		}
	}()

	att, err := s.attestations.Get(ctx, job.MessageHash)
	if err != nil {
		s.logger.Error("failed to load attestation for relay job",
			zap.String("message_hash", job.MessageHash),
			zap.Error(err))
		return
	}

	switch att.Status {
	case entities.AttestationStatusReady:
	case entities.AttestationStatusRelayed:
		// The attestation settled but the job never did, likely a crash
		// between the two writes. Align the job without dispatching.
		s.settleAlreadyRelayed(ctx, d, job, att)
		return
	default:
		s.logger.Debug("attestation not relayable, leaving job queued",
			zap.String("message_hash", job.MessageHash),
			zap.String("attestation_status", string(att.Status)))
		return
	}

	req := destination.Request{
		MessageHash: job.MessageHash,
		Message:     att.Message,
		Signatures:  att.SignatureBlob(),
	}

	backoff := retry.NewBackoff(s.cfg.RetryPolicy)
	started := time.Now()
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		already, err := d.AlreadyRelayed(ctx, job.MessageHash)
		if err != nil {
			s.logger.Warn("replay check failed, leaving job queued",
				zap.String("message_hash", job.MessageHash),
				zap.Error(err))
			return
		}
		if already {
			s.settleAlreadyRelayed(ctx, d, job, att)
			return
		}

		var receipt *destination.Receipt
		dispatchErr := s.nonces.WithNonce(ctx, d, func(nonce uint64) error {
			if terr := job.MarkInFlight(d.SignerAccount(), nonce); terr != nil {
				return terr
			}
			if uerr := s.relays.Update(ctx, job); uerr != nil {
				return uerr
			}
			metrics.RelaysSubmittedTotal.WithLabelValues(domainLabel(d.Domain())).Inc()

			r, derr := d.Dispatch(ctx, destination.Request{
				MessageHash: req.MessageHash,
				Message:     req.Message,
				Signatures:  req.Signatures,
				Nonce:       nonce,
			})
			if derr != nil {
				return derr
			}
			receipt = r
			return nil
		})
		attempts++

		if dispatchErr == nil {
			s.finalize(ctx, d, job, receipt, started)
			return
		}

		if job.Status == entities.RelayStatusNotSubmitted {
			// The nonce sync failed before anything was dispatched; the
			// destination is unreachable and the job is untouched.
			s.logger.Warn("destination unavailable, leaving job queued",
				zap.String("message_hash", job.MessageHash),
				zap.Error(dispatchErr))
			return
		}

		if apperrors.IsAlreadyRelayed(dispatchErr) {
			s.settleAlreadyRelayed(ctx, d, job, att)
			return
		}
		if apperrors.IsDeterministicRejection(dispatchErr) {
			s.failJob(ctx, d, job, "deterministic", dispatchErr)
			return
		}

		if attempts >= s.cfg.MaxAttempts {
			s.failJob(ctx, d, job, "retries_exhausted", dispatchErr)
			return
		}

		// Transient failure with attempts left: requeue and back off, then
		// try again with a freshly synced nonce.
		job.LastError = dispatchErr.Error()
		if rerr := job.Requeue(); rerr != nil {
			s.logger.Error("failed to requeue job between attempts",
				zap.String("message_hash", job.MessageHash),
				zap.Error(rerr))
			return
		}
		if uerr := s.relays.Update(ctx, job); uerr != nil {
			s.logger.Error("failed to persist requeued job",
				zap.String("message_hash", job.MessageHash),
				zap.Error(uerr))
			return
		}

		delay := backoff.Calculate(attempts)
		s.logger.Warn("dispatch failed transiently, backing off",
			zap.String("message_hash", job.MessageHash),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", delay),
			zap.Error(dispatchErr))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// finalize settles a successful dispatch: the job is finalized, the
// attestation marked relayed, and the outcome published.
func (s *Service) finalize(ctx context.Context, d destination.Dispatcher, job *entities.RelayJob, receipt *destination.Receipt, started time.Time) {
	if err := job.MarkFinalized(receipt.TxReference); err != nil {
		s.logger.Error("failed to mark job finalized",
			zap.String("message_hash", job.MessageHash),
			zap.Error(err))
		return
	}
	if err := s.relays.Update(ctx, job); err != nil {
		// The stale in-flight sweeper will requeue this job and the
		// destination replay check will settle it without re-dispatching.
		s.logger.Error("failed to persist finalized job",
			zap.String("message_hash", job.MessageHash),
			zap.Error(err))
		return
	}

	relayedAt := receipt.FinalizedAt
	if relayedAt.IsZero() {
		relayedAt = time.Now().UTC()
	}
	if err := s.attestations.MarkRelayed(ctx, job.MessageHash, relayedAt); err != nil && !apperrors.IsTerminalState(err) {
		s.logger.Warn("failed to mark attestation relayed",
			zap.String("message_hash", job.MessageHash),
			zap.Error(err))
	}

	label := domainLabel(d.Domain())
	metrics.RelaysFinalizedTotal.WithLabelValues(label).Inc()
	metrics.RelayAttempts.WithLabelValues(label).Observe(float64(job.AttemptCount))
	metrics.RelayDuration.WithLabelValues(label).Observe(time.Since(started).Seconds())

	s.events.RelayFinalized(ctx, job)
	s.logger.Info("relay finalized",
		zap.String("message_hash", job.MessageHash),
		zap.String("tx_reference", job.TxReference),
		zap.Int("attempts", job.AttemptCount))
}

// settleAlreadyRelayed records success for a message the destination has
// already executed. No transaction is sent.
func (s *Service) settleAlreadyRelayed(ctx context.Context, d destination.Dispatcher, job *entities.RelayJob, att *entities.Attestation) {
	if job.Status == entities.RelayStatusNotSubmitted {
		if err := job.MarkInFlight(d.SignerAccount(), job.Nonce); err != nil {
			s.logger.Error("failed to settle already-relayed job",
				zap.String("message_hash", job.MessageHash),
				zap.Error(err))
			return
		}
	}
	if err := job.MarkFinalized(job.TxReference); err != nil {
		s.logger.Error("failed to settle already-relayed job",
			zap.String("message_hash", job.MessageHash),
			zap.Error(err))
		return
	}
	if err := s.relays.Update(ctx, job); err != nil {
		s.logger.Error("failed to persist already-relayed job",
			zap.String("message_hash", job.MessageHash),
			zap.Error(err))
		return
	}

	if att.Status != entities.AttestationStatusRelayed {
		if err := s.attestations.MarkRelayed(ctx, job.MessageHash, time.Now().UTC()); err != nil && !apperrors.IsTerminalState(err) {
			s.logger.Warn("failed to mark attestation relayed",
				zap.String("message_hash", job.MessageHash),
				zap.Error(err))
		}
	}

	metrics.RelaysFinalizedTotal.WithLabelValues(domainLabel(d.Domain())).Inc()
	s.events.RelayFinalized(ctx, job)
	s.logger.Info("message already relayed on destination, job settled",
		zap.String("message_hash", job.MessageHash))
}

// failJob records a terminal failure and alerts the operators
func (s *Service) failJob(ctx context.Context, d destination.Dispatcher, job *entities.RelayJob, reason string, cause error) {
	if err := job.MarkFailed(cause.Error()); err != nil {
		s.logger.Error("failed to mark job failed",
			zap.String("message_hash", job.MessageHash),
			zap.Error(err))
		return
	}
	if err := s.relays.Update(ctx, job); err != nil {
		s.logger.Error("failed to persist failed job",
			zap.String("message_hash", job.MessageHash),
			zap.Error(err))
		return
	}

	metrics.RelaysFailedTotal.WithLabelValues(domainLabel(d.Domain()), reason).Inc()
	s.alerts.RelayFailed(ctx, job, reason)
	s.logger.Error("relay terminally failed",
		zap.String("message_hash", job.MessageHash),
		zap.String("reason", reason),
		zap.Int("attempts", job.AttemptCount),
		zap.Error(cause))
}

// Submit relays one ready attestation synchronously and reports the outcome.
// A message already in flight or finalized is a no-op returning the prior
// result, so concurrent callers never cause a second on-destination effect.
func (s *Service) Submit(ctx context.Context, messageHash string) (*entities.RelayResult, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil, apperrors.ServiceUnavailableError("relay submitter", nil)
	}

	hash := entities.NormalizeMessageHash(messageHash)
	att, err := s.attestations.Get(ctx, hash)
	if err != nil {
		return nil, err
	}

	d, ok := s.dispatchers[att.DestinationDomain]
	if !ok {
		return nil, apperrors.ValidationError("destination_domain",
			fmt.Sprintf("no dispatcher configured for destination domain %d", att.DestinationDomain))
	}

	job, err := s.relays.GetByMessageHash(ctx, hash)
	if apperrors.IsNotFound(err) {
		if att.Status != entities.AttestationStatusReady && att.Status != entities.AttestationStatusRelayed {
			return nil, apperrors.ValidationError("status",
				fmt.Sprintf("attestation is %s, not ready for relay", att.Status))
		}
		now := time.Now().UTC()
		job = &entities.RelayJob{
			ID:                uuid.New(),
			MessageHash:       hash,
			DestinationDomain: att.DestinationDomain,
			Status:            entities.RelayStatusNotSubmitted,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if cerr := s.relays.Create(ctx, job); cerr != nil {
			if !apperrors.IsConflict(cerr) {
				return nil, cerr
			}
			if job, err = s.relays.GetByMessageHash(ctx, hash); err != nil {
				return nil, err
			}
		}
	} else if err != nil {
		return nil, err
	}

	switch job.Status {
	case entities.RelayStatusFinalized:
		return relayResult(job), nil
	case entities.RelayStatusInFlight:
		return &entities.RelayResult{Success: false, Error: "relay already in flight"}, nil
	case entities.RelayStatusFailed:
		if rerr := job.Requeue(); rerr != nil {
			return nil, apperrors.ConflictError("relay job", rerr.Error())
		}
		if uerr := s.relays.Update(ctx, job); uerr != nil {
			return nil, uerr
		}
	}

	s.processJob(ctx, d, job)

	settled, err := s.relays.GetByMessageHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return relayResult(settled), nil
}

func relayResult(job *entities.RelayJob) *entities.RelayResult {
	result := &entities.RelayResult{
		Success:     job.Status == entities.RelayStatusFinalized,
		TxReference: job.TxReference,
		FinalizedAt: job.FinalizedAt,
	}
	if !result.Success {
		result.Error = job.LastError
	}
	return result
}

// Requeue returns a failed job to the queue. Only failed jobs are eligible;
// stalled in-flight jobs are the sweeper's responsibility.
func (s *Service) Requeue(ctx context.Context, messageHash string) (*entities.RelayJob, error) {
	job, err := s.relays.GetByMessageHash(ctx, entities.NormalizeMessageHash(messageHash))
	if err != nil {
		return nil, err
	}
	if job.Status == entities.RelayStatusFinalized {
		return nil, apperrors.TerminalStateError("relay job", string(job.Status))
	}
	if job.Status != entities.RelayStatusFailed {
		return nil, apperrors.ValidationError("status",
			fmt.Sprintf("only failed jobs can be requeued, job is %s", job.Status))
	}
	if err := job.Requeue(); err != nil {
		return nil, apperrors.ConflictError("relay job", err.Error())
	}
	if err := s.relays.Update(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("relay job requeued",
		zap.String("message_hash", job.MessageHash),
		zap.Int("previous_attempts", job.AttemptCount))
	return job, nil
}

// SweepStale requeues in-flight jobs whose lease holder disappeared without
// settling them. Jobs still under an active lease are skipped.
func (s *Service) SweepStale(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	stale, err := s.relays.ListStaleInFlight(ctx, olderThan, limit)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, job := range stale {
		if ctx.Err() != nil {
			return requeued, ctx.Err()
		}

		leaseKey := leaseKeyPrefix + job.MessageHash
		acquired, err := s.leases.AcquireLease(ctx, leaseKey, s.holder, s.cfg.LeaseTTL)
		if err != nil {
			s.logger.Warn("lease check failed during sweep",
				zap.String("message_hash", job.MessageHash),
				zap.Error(err))
			continue
		}
		if !acquired {
			// An active submitter still holds this job.
			continue
		}

		if rerr := job.Requeue(); rerr != nil {
			s.logger.Error("failed to requeue stale job",
				zap.String("message_hash", job.MessageHash),
				zap.Error(rerr))
		} else if uerr := s.relays.Update(ctx, job); uerr != nil {
			s.logger.Error("failed to persist requeued stale job",
				zap.String("message_hash", job.MessageHash),
				zap.Error(uerr))
		} else {
			requeued++
			s.logger.Warn("stale in-flight job requeued",
				zap.String("message_hash", job.MessageHash),
				zap.Time("last_update", job.UpdatedAt))
		}

		if rerr := s.leases.ReleaseLease(ctx, leaseKey, s.holder); rerr != nil {
			s.logger.Warn("lease release failed during sweep",
				zap.String("message_hash", job.MessageHash),
				zap.Error(rerr))
		}
	}
	return requeued, nil
}

// GetJob returns one relay job by message hash
func (s *Service) GetJob(ctx context.Context, messageHash string) (*entities.RelayJob, error) {
	return s.relays.GetByMessageHash(ctx, entities.NormalizeMessageHash(messageHash))
}

// ListJobs returns relay jobs filtered by status
func (s *Service) ListJobs(ctx context.Context, status entities.RelayStatus, limit, offset int) ([]*entities.RelayJob, error) {
	return s.relays.ListByStatus(ctx, status, limit, offset)
}

// CountByStatus returns relay job counts grouped by status
func (s *Service) CountByStatus(ctx context.Context) (map[entities.RelayStatus]int64, error) {
	return s.relays.CountByStatus(ctx)
}

// Destinations lists the configured destination domains
func (s *Service) Destinations() []uint32 {
	domains := make([]uint32, 0, len(s.dispatchers))
	for domain := range s.dispatchers {
		domains = append(domains, domain)
	}
	return domains
}

func domainLabel(domain uint32) string {
	return strconv.FormatUint(uint64(domain), 10)
}
