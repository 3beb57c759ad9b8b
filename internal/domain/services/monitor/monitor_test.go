package monitor

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/adapters/chain"
	"github.com/etrid/flarebridge/internal/domain/entities"
	apperrors "github.com/etrid/flarebridge/internal/domain/errors"
	"github.com/etrid/flarebridge/internal/domain/repositories"
	"github.com/etrid/flarebridge/pkg/retry"
)

type fakeAdapter struct {
	name   string
	family entities.ChainFamily

	mu       sync.Mutex
	head     uint64
	headErr  error
	parseErr error
	subErr   error
	source   chan chain.Observation
	closed   int
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{
		name:   name,
		family: entities.ChainFamilyEVM,
		head:   100,
		source: make(chan chain.Observation, 16),
	}
}

func (a *fakeAdapter) Chain() string                { return a.name }
func (a *fakeAdapter) Family() entities.ChainFamily { return a.family }

func (a *fakeAdapter) Head(ctx context.Context) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.headErr != nil {
		return 0, a.headErr
	}
	return a.head, nil
}

func (a *fakeAdapter) setHead(h uint64) {
	a.mu.Lock()
	a.head = h
	a.mu.Unlock()
}

func (a *fakeAdapter) Confirmations(ctx context.Context, observedHeight uint64) (uint64, error) {
	head, err := a.Head(ctx)
	if err != nil {
		return 0, err
	}
	return chain.Depth(head, observedHeight), nil
}

func (a *fakeAdapter) ParseRecipient(payload []byte) ([32]byte, error) {
	var out [32]byte
	a.mu.Lock()
	parseErr := a.parseErr
	a.mu.Unlock()
	if parseErr != nil {
		return out, parseErr
	}
	if len(payload) != 32 {
		return out, fmt.Errorf("payload must be 32 bytes, got %d", len(payload))
	}
	copy(out[:], payload)
	return out, nil
}

func (a *fakeAdapter) Subscribe(ctx context.Context, out chan<- chain.Observation) error {
	a.mu.Lock()
	subErr := a.subErr
	a.mu.Unlock()
	if subErr != nil {
		return subErr
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case obs := <-a.source:
			select {
			case out <- obs:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	a.closed++
	a.mu.Unlock()
	return nil
}

type fakeDepositRepo struct {
	mu    sync.Mutex
	byKey map[string]*entities.Deposit
}

func newFakeDepositRepo() *fakeDepositRepo {
	return &fakeDepositRepo{byKey: make(map[string]*entities.Deposit)}
}

func (r *fakeDepositRepo) Create(ctx context.Context, deposit *entities.Deposit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[deposit.Key()]; exists {
		return apperrors.ConflictError("deposit", deposit.Key())
	}
	cp := *deposit
	r.byKey[deposit.Key()] = &cp
	return nil
}

func (r *fakeDepositRepo) GetByID(ctx context.Context, id uuid.UUID) (*entities.Deposit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.byKey {
		if d.ID == id {
			cp := *d
			return &cp, nil
		}
	}
	return nil, apperrors.NotFoundError("deposit")
}

func (r *fakeDepositRepo) GetByKey(ctx context.Context, chainName, txReference string) (*entities.Deposit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byKey[chainName+":"+txReference]
	if !ok {
		return nil, apperrors.NotFoundError("deposit")
	}
	cp := *d
	return &cp, nil
}

func (r *fakeDepositRepo) Update(ctx context.Context, deposit *entities.Deposit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[deposit.Key()]; !ok {
		return apperrors.NotFoundError("deposit")
	}
	cp := *deposit
	r.byKey[deposit.Key()] = &cp
	return nil
}

func (r *fakeDepositRepo) List(ctx context.Context, filter repositories.DepositFilter) ([]*entities.Deposit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Deposit
	for _, d := range r.byKey {
		if filter.Chain != "" && d.Chain != filter.Chain {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeDepositRepo) ListUnemittedByChain(ctx context.Context, chainName string) ([]*entities.Deposit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Deposit
	for _, d := range r.byKey {
		if d.Chain == chainName && d.Status != entities.DepositStatusEmitted {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeDepositRepo) CountByStatus(ctx context.Context) (map[entities.DepositStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[entities.DepositStatus]int64)
	for _, d := range r.byKey {
		counts[d.Status]++
	}
	return counts, nil
}

func (r *fakeDepositRepo) DeleteEmittedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for key, d := range r.byKey {
		if d.Status == entities.DepositStatusEmitted && d.EmittedAt != nil && d.EmittedAt.Before(cutoff) {
			delete(r.byKey, key)
			deleted++
		}
	}
	return deleted, nil
}

func (r *fakeDepositRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}

func (r *fakeDepositRepo) get(t *testing.T, chainName, txReference string) *entities.Deposit {
	t.Helper()
	d, err := r.GetByKey(context.Background(), chainName, txReference)
	require.NoError(t, err)
	return d
}

type fakeNonceRepo struct {
	mu    sync.Mutex
	next  uint64
	calls int
}

func (r *fakeNonceRepo) NextSourceNonce(ctx context.Context, sourceDomain uint32) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.next++
	return r.next, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	messages []entities.Message
	err      error
}

func (r *fakeRecorder) RecordMessage(ctx context.Context, msg entities.Message) (*entities.Attestation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.messages = append(r.messages, msg)
	return &entities.Attestation{MessageHash: msg.HashHex()}, nil
}

func (r *fakeRecorder) recorded() []entities.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entities.Message(nil), r.messages...)
}

type recordingDepositSink struct {
	mu        sync.Mutex
	confirmed []string
	emitted   []string
}

func (s *recordingDepositSink) DepositConfirmed(ctx context.Context, d *entities.Deposit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed = append(s.confirmed, d.TxReference)
}

func (s *recordingDepositSink) DepositEmitted(ctx context.Context, d *entities.Deposit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitted = append(s.emitted, d.TxReference)
}

type monitorFixture struct {
	monitor  *Monitor
	adapter  *fakeAdapter
	deposits *fakeDepositRepo
	nonces   *fakeNonceRepo
	recorder *fakeRecorder
	sink     *recordingDepositSink
	fatal    chan FatalEvent
}

func newMonitor(t *testing.T, cfg Config) *monitorFixture {
	t.Helper()
	fx := &monitorFixture{
		adapter:  newFakeAdapter(cfg.Chain),
		deposits: newFakeDepositRepo(),
		nonces:   &fakeNonceRepo{},
		recorder: &fakeRecorder{},
		sink:     &recordingDepositSink{},
		fatal:    make(chan FatalEvent, 4),
	}

	m, err := New(cfg, fx.adapter, fx.deposits, fx.nonces, fx.recorder, fx.sink, fx.fatal, zap.NewNop())
	require.NoError(t, err)
	fx.monitor = m
	return fx
}

func testConfig() Config {
	return Config{
		Chain:                 "polygon",
		Domain:                3,
		DestinationDomain:     1,
		RequiredConfirmations: 6,
		Decimals:              6,
		CheckInterval:         time.Hour,
		ReconnectPolicy:       retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
	}
}

func testObservation(txRef string, height uint64, amount int64) chain.Observation {
	payload := make([]byte, 32)
	payload[0] = 0xaa
	payload[31] = 0x01
	return chain.Observation{
		Chain:            "polygon",
		TxReference:      txRef,
		SourceAddress:    "0xdeadbeef",
		RecipientPayload: payload,
		Amount:           big.NewInt(amount),
		Height:           height,
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	assert.NoError(t, cfg.Validate())

	missing := testConfig()
	missing.Chain = ""
	assert.Error(t, missing.Validate())

	zero := testConfig()
	zero.RequiredConfirmations = 0
	assert.Error(t, zero.Validate())
}

func TestConfigDefaultsFromFamily(t *testing.T) {
	cfg := Config{Chain: "bitcoin"}
	cfg.applyDefaults(entities.ChainFamilyUTXO)

	assert.Equal(t, entities.DefaultConfirmations[entities.ChainFamilyUTXO], cfg.RequiredConfirmations)
	assert.Equal(t, 10*time.Second, cfg.CheckInterval)
	assert.Equal(t, 6*time.Hour, cfg.DedupWindow)
	assert.Equal(t, 256, cfg.ObservationBuffer)
	assert.Equal(t, 10, cfg.ReconnectPolicy.MaxRetries)
}

func TestHandleObservationPersistsPendingDeposit(t *testing.T) {
	fx := newMonitor(t, testConfig())
	ctx := context.Background()
	obs := testObservation("0xtx1", 120, 1_000_000)

	require.NoError(t, fx.monitor.handleObservation(ctx, obs))

	deposit := fx.deposits.get(t, "polygon", "0xtx1")
	assert.Equal(t, entities.DepositStatusPending, deposit.Status)
	assert.Equal(t, uint64(1), deposit.Confirmations)
	assert.Equal(t, uint64(120), deposit.ObservedHeight)
	assert.Equal(t, "0xdeadbeef", deposit.SourceAddress)
	assert.True(t, deposit.Amount.Equal(decimal.NewFromInt(1_000_000)))

	// Recipient payload round-trips into the stored destination account.
	assert.Len(t, deposit.DestinationAccount, 66)
	assert.Equal(t, "0xaa", deposit.DestinationAccount[:4])
}

func TestHandleObservationDeduplicates(t *testing.T) {
	fx := newMonitor(t, testConfig())
	ctx := context.Background()
	obs := testObservation("0xtx1", 120, 1_000_000)

	require.NoError(t, fx.monitor.handleObservation(ctx, obs))
	require.NoError(t, fx.monitor.handleObservation(ctx, obs))

	assert.Equal(t, 1, fx.deposits.count())
}

func TestHandleObservationTreatsStoredDuplicateAsReplay(t *testing.T) {
	// A restart clears the in-memory dedup set; the database constraint
	// still absorbs the replayed observation.
	fx := newMonitor(t, testConfig())
	ctx := context.Background()
	obs := testObservation("0xtx1", 120, 1_000_000)

	require.NoError(t, fx.monitor.handleObservation(ctx, obs))
	fx.monitor.seenMu.Lock()
	fx.monitor.seen = make(map[string]time.Time)
	fx.monitor.seenMu.Unlock()

	require.NoError(t, fx.monitor.handleObservation(ctx, obs))
	assert.Equal(t, 1, fx.deposits.count())
	assert.True(t, fx.monitor.wasSeen("0xtx1"))
}

func TestHandleObservationDropsMalformedRecipient(t *testing.T) {
	fx := newMonitor(t, testConfig())
	fx.adapter.parseErr = errors.New("memo is not a bridge recipient")
	ctx := context.Background()

	require.NoError(t, fx.monitor.handleObservation(ctx, testObservation("0xbad", 120, 1_000_000)))

	assert.Zero(t, fx.deposits.count())
	// The drop is final: the observation is marked seen and never retried.
	assert.True(t, fx.monitor.wasSeen("0xbad"))
}

func TestHandleObservationScreensTransferBounds(t *testing.T) {
	cfg := testConfig()
	minDep := decimal.NewFromFloat(1.0)
	maxDep := decimal.NewFromInt(100)
	cfg.MinDeposit = &minDep
	cfg.MaxDeposit = &maxDep

	fx := newMonitor(t, cfg)
	ctx := context.Background()

	// 0.5 units at 6 decimals: below the minimum.
	require.NoError(t, fx.monitor.handleObservation(ctx, testObservation("0xsmall", 120, 500_000)))
	// 200 units: above the maximum.
	require.NoError(t, fx.monitor.handleObservation(ctx, testObservation("0xlarge", 120, 200_000_000)))
	// 2 units: in bounds.
	require.NoError(t, fx.monitor.handleObservation(ctx, testObservation("0xok", 120, 2_000_000)))

	assert.Equal(t, 1, fx.deposits.count())
	_, err := fx.deposits.GetByKey(ctx, "polygon", "0xok")
	assert.NoError(t, err)
}

func TestConfirmationPassConfirmsAndEmits(t *testing.T) {
	fx := newMonitor(t, testConfig())
	ctx := context.Background()

	require.NoError(t, fx.monitor.handleObservation(ctx, testObservation("0xtx1", 95, 1_000_000)))

	// Depth 100-95+1 = 6 meets the required confirmations.
	fx.adapter.setHead(100)
	require.NoError(t, fx.monitor.confirmationPass(ctx))

	deposit := fx.deposits.get(t, "polygon", "0xtx1")
	assert.Equal(t, entities.DepositStatusEmitted, deposit.Status)
	assert.Equal(t, uint64(6), deposit.Confirmations)
	require.NotNil(t, deposit.EmittedAt)

	msgs := fx.recorder.recorded()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint32(3), msgs[0].SourceDomain)
	assert.Equal(t, uint32(1), msgs[0].DestinationDomain)
	assert.Equal(t, uint64(1), msgs[0].Nonce)
	assert.Equal(t, byte(0xaa), msgs[0].Recipient[0])
	assert.Equal(t, int64(1_000_000), msgs[0].Amount.Int64())
	assert.Equal(t, msgs[0].HashHex(), deposit.MessageHash)

	assert.Equal(t, []string{"0xtx1"}, fx.sink.confirmed)
	assert.Equal(t, []string{"0xtx1"}, fx.sink.emitted)
}

func TestConfirmationPassBelowThresholdOnlyAdvancesCount(t *testing.T) {
	fx := newMonitor(t, testConfig())
	ctx := context.Background()

	require.NoError(t, fx.monitor.handleObservation(ctx, testObservation("0xtx1", 98, 1_000_000)))

	// Depth 100-98+1 = 3, still short of 6.
	fx.adapter.setHead(100)
	require.NoError(t, fx.monitor.confirmationPass(ctx))

	deposit := fx.deposits.get(t, "polygon", "0xtx1")
	assert.Equal(t, entities.DepositStatusPending, deposit.Status)
	assert.Equal(t, uint64(3), deposit.Confirmations)
	assert.Empty(t, fx.recorder.recorded())
	assert.Empty(t, fx.sink.confirmed)
}

func TestConfirmationPassToleratesHeadBehindObservation(t *testing.T) {
	// A lagging or briefly reorged node reports a head below the observed
	// height; the confirmation count must hold, not regress.
	fx := newMonitor(t, testConfig())
	ctx := context.Background()

	require.NoError(t, fx.monitor.handleObservation(ctx, testObservation("0xtx1", 120, 1_000_000)))

	fx.adapter.setHead(110)
	require.NoError(t, fx.monitor.confirmationPass(ctx))

	deposit := fx.deposits.get(t, "polygon", "0xtx1")
	assert.Equal(t, uint64(1), deposit.Confirmations)
	assert.Equal(t, entities.DepositStatusPending, deposit.Status)
}

func TestEmitRetriesWithFreshNonceAfterRecorderFailure(t *testing.T) {
	fx := newMonitor(t, testConfig())
	ctx := context.Background()

	require.NoError(t, fx.monitor.handleObservation(ctx, testObservation("0xtx1", 95, 1_000_000)))
	fx.adapter.setHead(100)

	fx.recorder.mu.Lock()
	fx.recorder.err = errors.New("attestation store unavailable")
	fx.recorder.mu.Unlock()

	require.NoError(t, fx.monitor.confirmationPass(ctx))
	deposit := fx.deposits.get(t, "polygon", "0xtx1")
	assert.Equal(t, entities.DepositStatusConfirmed, deposit.Status)
	assert.Empty(t, deposit.MessageHash)

	fx.recorder.mu.Lock()
	fx.recorder.err = nil
	fx.recorder.mu.Unlock()

	require.NoError(t, fx.monitor.confirmationPass(ctx))
	deposit = fx.deposits.get(t, "polygon", "0xtx1")
	assert.Equal(t, entities.DepositStatusEmitted, deposit.Status)

	// The first emit consumed a nonce before failing; the retry allocates a
	// fresh one rather than reusing it.
	msgs := fx.recorder.recorded()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint64(2), msgs[0].Nonce)
	assert.Equal(t, 2, fx.nonces.calls)
}

func TestStartFailsWhenChainUnreachable(t *testing.T) {
	fx := newMonitor(t, testConfig())
	fx.adapter.headErr = errors.New("dial tcp: connection refused")

	err := fx.monitor.Start(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsConnectivity(err))

	status := fx.monitor.GetStatus()
	assert.False(t, status.Running)
}

func TestPauseAndResume(t *testing.T) {
	fx := newMonitor(t, testConfig())

	// Lifecycle controls reject a monitor that was never started.
	assert.Error(t, fx.monitor.Pause())
	assert.Error(t, fx.monitor.Resume())

	require.NoError(t, fx.monitor.Start(context.Background()))
	defer fx.monitor.Stop()

	require.NoError(t, fx.monitor.Pause())
	assert.True(t, fx.monitor.GetStatus().Paused)
	// Pausing twice is a no-op.
	require.NoError(t, fx.monitor.Pause())

	require.NoError(t, fx.monitor.Resume())
	assert.False(t, fx.monitor.GetStatus().Paused)
	require.NoError(t, fx.monitor.Resume())
}

func TestStartTwiceFails(t *testing.T) {
	fx := newMonitor(t, testConfig())
	require.NoError(t, fx.monitor.Start(context.Background()))
	defer fx.monitor.Stop()

	assert.Error(t, fx.monitor.Start(context.Background()))
}

func TestStopClosesAdapter(t *testing.T) {
	fx := newMonitor(t, testConfig())
	require.NoError(t, fx.monitor.Start(context.Background()))

	fx.monitor.Stop()
	assert.False(t, fx.monitor.GetStatus().Running)
	assert.Equal(t, 1, fx.adapter.closed)

	// Stop is idempotent.
	fx.monitor.Stop()
	assert.Equal(t, 1, fx.adapter.closed)
}

func TestMonitorPipelineEndToEnd(t *testing.T) {
	cfg := testConfig()
	cfg.RequiredConfirmations = 3
	cfg.CheckInterval = 5 * time.Millisecond

	fx := newMonitor(t, cfg)
	fx.adapter.setHead(100)
	require.NoError(t, fx.monitor.Start(context.Background()))
	defer fx.monitor.Stop()

	fx.adapter.source <- testObservation("0xlive", 100, 3_000_000)

	require.Eventually(t, func() bool {
		return fx.deposits.count() == 1
	}, 2*time.Second, 5*time.Millisecond, "deposit never recorded")

	fx.adapter.setHead(102)

	require.Eventually(t, func() bool {
		d, err := fx.deposits.GetByKey(context.Background(), "polygon", "0xlive")
		return err == nil && d.Status == entities.DepositStatusEmitted
	}, 2*time.Second, 5*time.Millisecond, "deposit never emitted")

	status := fx.monitor.GetStatus()
	assert.True(t, status.Connected)
	assert.Equal(t, uint64(102), status.LastHeight)
	assert.Equal(t, uint64(1), status.EventsProcessed)
}

func TestPausedMonitorHoldsObservations(t *testing.T) {
	cfg := testConfig()
	cfg.CheckInterval = 5 * time.Millisecond

	fx := newMonitor(t, cfg)
	require.NoError(t, fx.monitor.Start(context.Background()))
	defer fx.monitor.Stop()
	require.NoError(t, fx.monitor.Pause())

	fx.adapter.source <- testObservation("0xheld", 100, 3_000_000)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fx.deposits.count())
}

func TestSubscribeLoopEscalatesAfterExhaustedReconnects(t *testing.T) {
	fx := newMonitor(t, testConfig())
	fx.adapter.mu.Lock()
	fx.adapter.subErr = errors.New("stream reset by peer")
	fx.adapter.mu.Unlock()

	require.NoError(t, fx.monitor.Start(context.Background()))
	defer fx.monitor.Stop()

	select {
	case ev := <-fx.fatal:
		assert.Equal(t, "polygon", ev.Chain)
		assert.True(t, apperrors.IsConnectivity(ev.Err))
	case <-time.After(2 * time.Second):
		t.Fatal("expected a fatal event after reconnect budget was exhausted")
	}

	status := fx.monitor.GetStatus()
	assert.NotEmpty(t, status.LastError)
}

func TestDecodeAccountHex(t *testing.T) {
	var want [32]byte
	want[0] = 0xaa
	want[31] = 0x01

	got, err := decodeAccountHex("0x" + hex.EncodeToString(want[:]))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = decodeAccountHex(hex.EncodeToString(want[:]))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = decodeAccountHex("0x" + hex.EncodeToString(want[:31]))
	assert.Error(t, err)

	_, err = decodeAccountHex("0xzz")
	assert.Error(t, err)
}
