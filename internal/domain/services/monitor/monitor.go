// Package monitor drives the per-chain deposit pipeline: subscribe to an
// adapter's observation stream, track confirmations against the chain head,
// and emit confirmed deposits as canonical bridge messages. One Monitor owns
// one chain; an outage on one chain never stalls another.
package monitor

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/adapters/chain"
	"github.com/etrid/flarebridge/internal/domain/entities"
	apperrors "github.com/etrid/flarebridge/internal/domain/errors"
	"github.com/etrid/flarebridge/internal/domain/repositories"
	"github.com/etrid/flarebridge/pkg/metrics"
	"github.com/etrid/flarebridge/pkg/retry"
)

// MessageRecorder opens an attestation for a freshly emitted message
type MessageRecorder interface {
	RecordMessage(ctx context.Context, msg entities.Message) (*entities.Attestation, error)
}

// EventSink receives deposit lifecycle notifications. Implementations must
// not block; the monitor calls them inline on its processing loop.
type EventSink interface {
	DepositConfirmed(ctx context.Context, deposit *entities.Deposit)
	DepositEmitted(ctx context.Context, deposit *entities.Deposit)
}

// NopSink discards all notifications
type NopSink struct{}

func (NopSink) DepositConfirmed(context.Context, *entities.Deposit) {}
func (NopSink) DepositEmitted(context.Context, *entities.Deposit)   {}

// FatalEvent reports a monitor that stopped after exhausting its reconnect
// budget. The supervisor decides whether to alert, restart, or shut down.
type FatalEvent struct {
	Chain string
	Err   error
}

// Config tunes one chain monitor
type Config struct {
	Chain                 string
	Domain                uint32
	DestinationDomain     uint32
	RequiredConfirmations uint64
	Decimals              int
	MinDeposit            *decimal.Decimal
	MaxDeposit            *decimal.Decimal
	CheckInterval         time.Duration
	DedupWindow           time.Duration
	ObservationBuffer     int
	ReconnectPolicy       retry.Policy
}

// Validate checks the monitor configuration
func (c Config) Validate() error {
	if c.Chain == "" {
		return fmt.Errorf("chain name is required")
	}
	if c.RequiredConfirmations == 0 {
		return fmt.Errorf("required confirmations must be positive")
	}
	return nil
}

func (c *Config) applyDefaults(family entities.ChainFamily) {
	if c.RequiredConfirmations == 0 {
		c.RequiredConfirmations = entities.DefaultConfirmations[family]
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 10 * time.Second
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 6 * time.Hour
	}
	if c.ObservationBuffer <= 0 {
		c.ObservationBuffer = 256
	}
	if c.ReconnectPolicy.MaxRetries <= 0 {
		c.ReconnectPolicy.MaxRetries = 10
	}
	if c.ReconnectPolicy.InitialDelay <= 0 {
		c.ReconnectPolicy.InitialDelay = time.Second
	}
	if c.ReconnectPolicy.MaxDelay < c.ReconnectPolicy.InitialDelay {
		c.ReconnectPolicy.MaxDelay = 2 * time.Minute
	}
	if c.ReconnectPolicy.Multiplier < 1.0 {
		c.ReconnectPolicy.Multiplier = 2.0
	}
	if c.ReconnectPolicy.Jitter < 0 || c.ReconnectPolicy.Jitter > 1.0 {
		c.ReconnectPolicy.Jitter = 0.2
	}
}

// Monitor owns one chain's deposit pipeline
type Monitor struct {
	cfg      Config
	adapter  chain.Adapter
	deposits repositories.DepositRepository
	nonces   repositories.NonceRepository
	recorder MessageRecorder
	events   EventSink
	fatal    chan<- FatalEvent
	logger   *zap.Logger

	mu              sync.Mutex
	running         bool
	paused          bool
	connected       bool
	lastHeight      uint64
	eventsProcessed uint64
	lastErr         error
	cancel          context.CancelFunc

	seenMu sync.Mutex
	seen   map[string]time.Time

	wg sync.WaitGroup
}

// New builds a monitor for one chain. The fatal channel receives the terminal
// error when reconnect attempts are exhausted; sends never block.
func New(
	cfg Config,
	adapter chain.Adapter,
	deposits repositories.DepositRepository,
	nonces repositories.NonceRepository,
	recorder MessageRecorder,
	events EventSink,
	fatal chan<- FatalEvent,
	logger *zap.Logger,
) (*Monitor, error) {
	cfg.applyDefaults(adapter.Family())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if events == nil {
		events = NopSink{}
	}

	return &Monitor{
		cfg:      cfg,
		adapter:  adapter,
		deposits: deposits,
		nonces:   nonces,
		recorder: recorder,
		events:   events,
		fatal:    fatal,
		logger:   logger.With(zap.String("chain", cfg.Chain)),
		seen:     make(map[string]time.Time),
	}, nil
}

// Chain returns the monitored chain name
func (m *Monitor) Chain() string {
	return m.cfg.Chain
}

// Start verifies connectivity and launches the subscription and confirmation
// loops. It fails if the chain endpoint stays unreachable through the
// bounded reconnect policy.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor for %s already running", m.cfg.Chain)
	}
	m.mu.Unlock()

	err := retry.Do(ctx, m.connectPolicy(), m.logger, func() error {
		_, headErr := m.adapter.Head(ctx)
		return headErr
	})
	if err != nil {
		return apperrors.ConnectivityError(m.cfg.Chain, err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.running = true
	m.cancel = cancel
	m.lastErr = nil
	m.mu.Unlock()

	obsCh := make(chan chain.Observation, m.cfg.ObservationBuffer)

	m.wg.Add(2)
	go m.subscribeLoop(runCtx, obsCh)
	go m.processLoop(runCtx, obsCh)

	m.logger.Info("monitor started",
		zap.Uint64("required_confirmations", m.cfg.RequiredConfirmations),
		zap.Duration("check_interval", m.cfg.CheckInterval))
	return nil
}

// connectPolicy retries startup connectivity checks on any error
func (m *Monitor) connectPolicy() retry.Policy {
	policy := m.cfg.ReconnectPolicy
	policy.RetryableFunc = func(error) bool { return true }
	return policy
}

// Stop cancels the loops and waits for them to drain. No deposits are
// created or emitted after Stop returns.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	if err := m.adapter.Close(); err != nil {
		m.logger.Warn("adapter close failed", zap.Error(err))
	}
	metrics.ChainConnectedGauge.WithLabelValues(m.cfg.Chain).Set(0)
	m.logger.Info("monitor stopped")
}

// Pause stops observation intake and confirmation passes without dropping
// the subscription. The stream keeps filling the adapter cursor so nothing
// is missed on resume.
func (m *Monitor) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return fmt.Errorf("monitor for %s is not running", m.cfg.Chain)
	}
	if m.paused {
		return nil
	}
	m.paused = true
	m.logger.Info("monitor paused")
	return nil
}

// Resume restarts a paused monitor
func (m *Monitor) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return fmt.Errorf("monitor for %s is not running", m.cfg.Chain)
	}
	if !m.paused {
		return nil
	}
	m.paused = false
	m.logger.Info("monitor resumed")
	return nil
}

// GetStatus reports the monitor's health snapshot
func (m *Monitor) GetStatus() entities.MonitorHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	health := entities.MonitorHealth{
		Chain:           m.cfg.Chain,
		Family:          m.adapter.Family(),
		Running:         m.running,
		Paused:          m.paused,
		Connected:       m.connected,
		LastHeight:      m.lastHeight,
		EventsProcessed: m.eventsProcessed,
	}
	if m.lastErr != nil {
		health.LastError = m.lastErr.Error()
	}
	return health
}

// subscribeLoop keeps the adapter subscription alive, reconnecting with
// backoff. Exhausting the policy escalates a fatal error and stops the loop;
// the monitor never retries silently forever.
func (m *Monitor) subscribeLoop(ctx context.Context, obsCh chan<- chain.Observation) {
	defer m.wg.Done()

	backoff := retry.NewBackoff(m.cfg.ReconnectPolicy)
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		m.setConnected(true)
		started := time.Now()
		err := m.adapter.Subscribe(ctx, obsCh)
		m.setConnected(false)

		if ctx.Err() != nil {
			return
		}

		// A connection that survived a while earns a fresh reconnect budget
		if time.Since(started) > time.Minute {
			attempts = 0
		}

		attempts++
		metrics.MonitorReconnectsTotal.WithLabelValues(m.cfg.Chain).Inc()

		if attempts > m.cfg.ReconnectPolicy.MaxRetries {
			fatalErr := apperrors.ConnectivityError(m.cfg.Chain,
				fmt.Errorf("subscription lost after %d reconnect attempts: %w", attempts-1, err))
			m.recordError(fatalErr)
			metrics.MonitorFatalTotal.WithLabelValues(m.cfg.Chain).Inc()
			m.logger.Error("monitor connection permanently lost",
				zap.Int("attempts", attempts-1),
				zap.Error(err))
			m.escalate(fatalErr)
			return
		}

		delay := backoff.Calculate(attempts)
		m.recordError(err)
		m.logger.Warn("subscription lost, reconnecting",
			zap.Int("attempt", attempts),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// processLoop consumes observations and runs periodic confirmation passes
func (m *Monitor) processLoop(ctx context.Context, obsCh <-chan chain.Observation) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case obs := <-obsCh:
			if m.isPaused() {
				continue
			}
			if err := m.handleObservation(ctx, obs); err != nil {
				m.recordError(err)
				m.logger.Error("failed to record observation",
					zap.String("tx_reference", obs.TxReference),
					zap.Error(err))
			}
		case <-ticker.C:
			if m.isPaused() {
				continue
			}
			m.pruneSeen()
			if err := m.confirmationPass(ctx); err != nil {
				m.recordError(err)
				m.logger.Warn("confirmation pass failed", zap.Error(err))
			}
		}
	}
}

// handleObservation screens one raw sighting and persists it as a pending
// deposit. Malformed or out-of-bounds observations are dropped and counted,
// never retried: the adapter cursor has already moved past them.
func (m *Monitor) handleObservation(ctx context.Context, obs chain.Observation) error {
	if m.wasSeen(obs.TxReference) {
		metrics.DepositsDroppedTotal.WithLabelValues(m.cfg.Chain, "duplicate").Inc()
		return nil
	}

	recipient, err := m.adapter.ParseRecipient(obs.RecipientPayload)
	if err != nil {
		m.markSeen(obs.TxReference)
		metrics.DepositsDroppedTotal.WithLabelValues(m.cfg.Chain, "malformed_recipient").Inc()
		m.logger.Warn("dropping observation with unusable recipient",
			zap.String("tx_reference", obs.TxReference),
			zap.String("source_address", obs.SourceAddress),
			zap.Error(err))
		return nil
	}

	if reason := m.screenAmount(obs); reason != "" {
		m.markSeen(obs.TxReference)
		metrics.DepositsDroppedTotal.WithLabelValues(m.cfg.Chain, reason).Inc()
		m.logger.Warn("dropping observation outside transfer bounds",
			zap.String("tx_reference", obs.TxReference),
			zap.String("amount", obs.Amount.String()),
			zap.String("reason", reason))
		return nil
	}

	now := time.Now().UTC()
	deposit := &entities.Deposit{
		ID:                 uuid.New(),
		Chain:              m.cfg.Chain,
		SourceAddress:      obs.SourceAddress,
		DestinationAccount: "0x" + hex.EncodeToString(recipient[:]),
		Amount:             decimal.NewFromBigInt(obs.Amount, 0),
		TxReference:        obs.TxReference,
		ObservedHeight:     obs.Height,
		Confirmations:      1,
		Status:             entities.DepositStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := m.deposits.Create(ctx, deposit); err != nil {
		if apperrors.IsConflict(err) {
			m.markSeen(obs.TxReference)
			metrics.DepositsDroppedTotal.WithLabelValues(m.cfg.Chain, "duplicate").Inc()
			return nil
		}
		return err
	}

	m.markSeen(obs.TxReference)
	metrics.DepositsSeenTotal.WithLabelValues(m.cfg.Chain).Inc()

	m.mu.Lock()
	m.eventsProcessed++
	if obs.Height > m.lastHeight {
		m.lastHeight = obs.Height
	}
	m.mu.Unlock()

	m.logger.Info("deposit observed",
		zap.String("tx_reference", obs.TxReference),
		zap.String("amount", obs.Amount.String()),
		zap.Uint64("height", obs.Height))
	return nil
}

// screenAmount checks the observation against the configured transfer bounds.
// Bounds are expressed in display units, so the raw amount is shifted by the
// chain's decimals before comparison.
func (m *Monitor) screenAmount(obs chain.Observation) string {
	if m.cfg.MinDeposit == nil && m.cfg.MaxDeposit == nil {
		return ""
	}
	normalized := decimal.NewFromBigInt(obs.Amount, -int32(m.cfg.Decimals))
	if m.cfg.MinDeposit != nil && normalized.LessThan(*m.cfg.MinDeposit) {
		return "below_minimum"
	}
	if m.cfg.MaxDeposit != nil && normalized.GreaterThan(*m.cfg.MaxDeposit) {
		return "above_maximum"
	}
	return ""
}

// confirmationPass refreshes the head once and advances every unemitted
// deposit: pending deposits that reached the confirmation depth are
// confirmed, and confirmed deposits are emitted as bridge messages.
func (m *Monitor) confirmationPass(ctx context.Context) error {
	head, err := m.adapter.Head(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch %s head: %w", m.cfg.Chain, err)
	}

	m.mu.Lock()
	if head > m.lastHeight {
		m.lastHeight = head
	}
	m.mu.Unlock()
	metrics.ChainHeadGauge.WithLabelValues(m.cfg.Chain).Set(float64(head))

	deposits, err := m.deposits.ListUnemittedByChain(ctx, m.cfg.Chain)
	if err != nil {
		return err
	}

	for _, deposit := range deposits {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := m.advanceDeposit(ctx, deposit, head); err != nil {
			m.logger.Error("failed to advance deposit",
				zap.String("tx_reference", deposit.TxReference),
				zap.String("status", string(deposit.Status)),
				zap.Error(err))
		}
	}
	return nil
}

func (m *Monitor) advanceDeposit(ctx context.Context, deposit *entities.Deposit, head uint64) error {
	depth := chain.Depth(head, deposit.ObservedHeight)
	before := deposit.Confirmations
	deposit.ObserveConfirmations(depth)

	if deposit.Status == entities.DepositStatusPending {
		if deposit.Confirmations < m.cfg.RequiredConfirmations {
			if deposit.Confirmations != before {
				deposit.UpdatedAt = time.Now().UTC()
				return m.deposits.Update(ctx, deposit)
			}
			return nil
		}

		if err := deposit.MarkConfirmed(); err != nil {
			return err
		}
		if err := m.deposits.Update(ctx, deposit); err != nil {
			return err
		}
		metrics.DepositsConfirmedTotal.WithLabelValues(m.cfg.Chain).Inc()
		m.events.DepositConfirmed(ctx, deposit)
		m.logger.Info("deposit confirmed",
			zap.String("tx_reference", deposit.TxReference),
			zap.Uint64("confirmations", deposit.Confirmations))
	}

	if deposit.Status == entities.DepositStatusConfirmed {
		return m.emit(ctx, deposit)
	}
	return nil
}

// emit turns a confirmed deposit into a canonical bridge message. The
// attestation is recorded before the deposit flips to emitted; a crash
// between the two writes re-emits with a fresh nonce and leaves the earlier
// attestation to expire unsigned, never double-marking the deposit.
func (m *Monitor) emit(ctx context.Context, deposit *entities.Deposit) error {
	recipient, err := decodeAccountHex(deposit.DestinationAccount)
	if err != nil {
		return fmt.Errorf("stored destination account is corrupt: %w", err)
	}

	nonce, err := m.nonces.NextSourceNonce(ctx, m.cfg.Domain)
	if err != nil {
		return err
	}

	msg := entities.Message{
		SourceDomain:      m.cfg.Domain,
		DestinationDomain: m.cfg.DestinationDomain,
		Nonce:             nonce,
		Recipient:         recipient,
		Amount:            deposit.Amount.BigInt(),
	}

	if _, err := m.recorder.RecordMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to open attestation: %w", err)
	}

	if err := deposit.MarkEmitted(msg.HashHex()); err != nil {
		return err
	}
	if err := m.deposits.Update(ctx, deposit); err != nil {
		return err
	}

	m.events.DepositEmitted(ctx, deposit)
	m.logger.Info("deposit emitted",
		zap.String("tx_reference", deposit.TxReference),
		zap.String("message_hash", deposit.MessageHash),
		zap.Uint64("nonce", nonce))
	return nil
}

func decodeAccountHex(account string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(account, "0x"))
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("account must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func (m *Monitor) isPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *Monitor) setConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	m.mu.Unlock()
	v := 0.0
	if connected {
		v = 1.0
	}
	metrics.ChainConnectedGauge.WithLabelValues(m.cfg.Chain).Set(v)
}

func (m *Monitor) recordError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// escalate pushes a fatal event to the service error channel without ever
// blocking the monitor goroutine.
func (m *Monitor) escalate(err error) {
	if m.fatal == nil {
		return
	}
	select {
	case m.fatal <- FatalEvent{Chain: m.cfg.Chain, Err: err}:
	default:
		m.logger.Error("fatal channel full, dropping escalation", zap.Error(err))
	}
}

func (m *Monitor) wasSeen(txReference string) bool {
	m.seenMu.Lock()
	defer m.seenMu.Unlock()
	_, ok := m.seen[txReference]
	return ok
}

func (m *Monitor) markSeen(txReference string) {
	m.seenMu.Lock()
	m.seen[txReference] = time.Now()
	m.seenMu.Unlock()
}

// pruneSeen drops dedup entries older than the rolling window. The database
// unique constraint stays authoritative; the set only spares hot lookups.
func (m *Monitor) pruneSeen() {
	cutoff := time.Now().Add(-m.cfg.DedupWindow)
	m.seenMu.Lock()
	for ref, seenAt := range m.seen {
		if seenAt.Before(cutoff) {
			delete(m.seen, ref)
		}
	}
	m.seenMu.Unlock()
}
