package attestation

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"math/big"
	"sync"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/domain/entities"
	apperrors "github.com/etrid/flarebridge/internal/domain/errors"
	"github.com/etrid/flarebridge/internal/domain/repositories"
	"github.com/etrid/flarebridge/pkg/crypto"
)

// fakeAttestationRepo is an in-memory AttestationRepository with the same
// conflict and not-found semantics as the postgres implementation.
type fakeAttestationRepo struct {
	mu     sync.Mutex
	byHash map[string]*entities.Attestation
}

func newFakeAttestationRepo() *fakeAttestationRepo {
	return &fakeAttestationRepo{byHash: make(map[string]*entities.Attestation)}
}

func copyAttestation(a *entities.Attestation) *entities.Attestation {
	out := *a
	out.Signatures = append([]entities.AttesterSignature(nil), a.Signatures...)
	return &out
}

func (r *fakeAttestationRepo) Create(ctx context.Context, a *entities.Attestation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byHash[a.MessageHash]; exists {
		return apperrors.ConflictError("attestation", "already exists")
	}
	r.byHash[a.MessageHash] = copyAttestation(a)
	return nil
}

func (r *fakeAttestationRepo) GetByMessageHash(ctx context.Context, hash string) (*entities.Attestation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byHash[hash]
	if !ok {
		return nil, apperrors.NotFoundError("attestation")
	}
	return copyAttestation(a), nil
}

func (r *fakeAttestationRepo) AddSignature(ctx context.Context, hash string, sig entities.AttesterSignature) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byHash[hash]
	if !ok {
		return false, apperrors.NotFoundError("attestation")
	}
	if a.HasSigned(sig.AttesterID) {
		return false, nil
	}
	a.Signatures = append(a.Signatures, sig)
	return true, nil
}

func (r *fakeAttestationRepo) TransitionStatus(ctx context.Context, hash string, from, to entities.AttestationStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byHash[hash]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	return true, nil
}

func (r *fakeAttestationRepo) MarkRelayed(ctx context.Context, hash string, relayedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byHash[hash]
	if !ok {
		return apperrors.NotFoundError("attestation")
	}
	a.Status = entities.AttestationStatusRelayed
	a.RelayedAt = &relayedAt
	return nil
}

func (r *fakeAttestationRepo) List(ctx context.Context, filter repositories.AttestationFilter) ([]*entities.Attestation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Attestation
	for _, a := range r.byHash {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, copyAttestation(a))
	}
	return out, nil
}

func (r *fakeAttestationRepo) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*entities.Attestation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Attestation
	for _, a := range r.byHash {
		if a.Status == entities.AttestationStatusPending && a.ExpiresAt.Before(now) {
			out = append(out, copyAttestation(a))
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeAttestationRepo) CountByStatus(ctx context.Context) (map[entities.AttestationStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[entities.AttestationStatus]int64)
	for _, a := range r.byHash {
		counts[a.Status]++
	}
	return counts, nil
}

// setStatus force-sets a status, bypassing the transition table
func (r *fakeAttestationRepo) setStatus(hash string, status entities.AttestationStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHash[hash].Status = status
}

type fakeRelayRepo struct {
	mu     sync.Mutex
	byHash map[string]*entities.RelayJob
}

func newFakeRelayRepo() *fakeRelayRepo {
	return &fakeRelayRepo{byHash: make(map[string]*entities.RelayJob)}
}

func (r *fakeRelayRepo) Create(ctx context.Context, job *entities.RelayJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byHash[job.MessageHash]; exists {
		return apperrors.ConflictError("relay job", "already exists")
	}
	cp := *job
	r.byHash[job.MessageHash] = &cp
	return nil
}

func (r *fakeRelayRepo) GetByMessageHash(ctx context.Context, hash string) (*entities.RelayJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byHash[hash]
	if !ok {
		return nil, apperrors.NotFoundError("relay job")
	}
	cp := *job
	return &cp, nil
}

func (r *fakeRelayRepo) Update(ctx context.Context, job *entities.RelayJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byHash[job.MessageHash]; !ok {
		return apperrors.NotFoundError("relay job")
	}
	cp := *job
	r.byHash[job.MessageHash] = &cp
	return nil
}

func (r *fakeRelayRepo) ListByStatus(ctx context.Context, status entities.RelayStatus, limit, offset int) ([]*entities.RelayJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.RelayJob
	for _, job := range r.byHash {
		if job.Status == status {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRelayRepo) ListNotSubmitted(ctx context.Context, destinationDomain uint32, limit int) ([]*entities.RelayJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.RelayJob
	for _, job := range r.byHash {
		if job.Status == entities.RelayStatusNotSubmitted && job.DestinationDomain == destinationDomain {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRelayRepo) ListStaleInFlight(ctx context.Context, olderThan time.Time, limit int) ([]*entities.RelayJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.RelayJob
	for _, job := range r.byHash {
		if job.Status == entities.RelayStatusInFlight && job.UpdatedAt.Before(olderThan) {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRelayRepo) CountByStatus(ctx context.Context) (map[entities.RelayStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[entities.RelayStatus]int64)
	for _, job := range r.byHash {
		counts[job.Status]++
	}
	return counts, nil
}

func newTestAttester(t *testing.T, id string) (Attester, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	pub := hex.EncodeToString(ethcrypto.FromECDSAPub(&key.PublicKey))
	return Attester{ID: id, PublicKey: pub}, key
}

func testMessage(nonce uint64) entities.Message {
	var recipient [32]byte
	recipient[0] = 0xaa
	return entities.Message{
		SourceDomain:      3,
		DestinationDomain: 1,
		Nonce:             nonce,
		Recipient:         recipient,
		Amount:            big.NewInt(1_000_000),
	}
}

func signDigest(t *testing.T, key *ecdsa.PrivateKey, messageHash string) []byte {
	t.Helper()
	digest, err := crypto.DecodeDigestHex(messageHash)
	require.NoError(t, err)
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	return sig
}

type aggregatorFixture struct {
	service *Service
	attRepo *fakeAttestationRepo
	relays  *fakeRelayRepo
	keys    map[string]*ecdsa.PrivateKey
}

func newAggregator(t *testing.T, attesterIDs []string, threshold int) *aggregatorFixture {
	t.Helper()
	attesters := make([]Attester, 0, len(attesterIDs))
	keys := make(map[string]*ecdsa.PrivateKey, len(attesterIDs))
	for _, id := range attesterIDs {
		a, key := newTestAttester(t, id)
		attesters = append(attesters, a)
		keys[id] = key
	}

	attRepo := newFakeAttestationRepo()
	relays := newFakeRelayRepo()
	service, err := NewService(attRepo, relays, attesters, threshold, time.Hour, zap.NewNop())
	require.NoError(t, err)

	return &aggregatorFixture{service: service, attRepo: attRepo, relays: relays, keys: keys}
}

func TestNewServiceValidatesAttesterSet(t *testing.T) {
	a1, _ := newTestAttester(t, "a1")
	a2, _ := newTestAttester(t, "a2")

	_, err := NewService(newFakeAttestationRepo(), newFakeRelayRepo(), []Attester{a1}, 0, time.Hour, zap.NewNop())
	assert.Error(t, err)

	_, err = NewService(newFakeAttestationRepo(), newFakeRelayRepo(), []Attester{a1}, 2, time.Hour, zap.NewNop())
	assert.Error(t, err)

	dup := a2
	dup.ID = a1.ID
	_, err = NewService(newFakeAttestationRepo(), newFakeRelayRepo(), []Attester{a1, dup}, 1, time.Hour, zap.NewNop())
	assert.Error(t, err)

	bad := a1
	bad.PublicKey = "zz"
	_, err = NewService(newFakeAttestationRepo(), newFakeRelayRepo(), []Attester{bad}, 1, time.Hour, zap.NewNop())
	assert.Error(t, err)
}

func TestRecordMessageIsIdempotent(t *testing.T) {
	fx := newAggregator(t, []string{"a1", "a2"}, 2)
	ctx := context.Background()
	msg := testMessage(1)

	first, err := fx.service.RecordMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, entities.AttestationStatusPending, first.Status)
	assert.Equal(t, msg.Encode(), first.Message)

	second, err := fx.service.RecordMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, first.MessageHash, second.MessageHash)

	counts, err := fx.attRepo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[entities.AttestationStatusPending])
}

func TestSubmitSignatureAggregatesToThreshold(t *testing.T) {
	fx := newAggregator(t, []string{"a1", "a2", "a3"}, 2)
	ctx := context.Background()
	msg := testMessage(1)
	hash := msg.HashHex()

	_, err := fx.service.RecordMessage(ctx, msg)
	require.NoError(t, err)

	got, err := fx.service.SubmitSignature(ctx, hash, "a1", signDigest(t, fx.keys["a1"], hash), nil)
	require.NoError(t, err)
	assert.Equal(t, entities.AttestationStatusPending, got.Status)
	assert.Equal(t, 1, got.SignatureCount())

	// The second signature crosses the 2-of-3 threshold.
	got, err = fx.service.SubmitSignature(ctx, hash, "a2", signDigest(t, fx.keys["a2"], hash), nil)
	require.NoError(t, err)
	assert.Equal(t, entities.AttestationStatusReady, got.Status)
	assert.Equal(t, 2, got.SignatureCount())
	assert.ElementsMatch(t, []string{"a1", "a2"}, got.AttesterList())

	job, err := fx.relays.GetByMessageHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, entities.RelayStatusNotSubmitted, job.Status)
	assert.Equal(t, msg.DestinationDomain, job.DestinationDomain)

	// A third signature keeps collecting without disturbing the relay job.
	got, err = fx.service.SubmitSignature(ctx, hash, "a3", signDigest(t, fx.keys["a3"], hash), nil)
	require.NoError(t, err)
	assert.Equal(t, entities.AttestationStatusReady, got.Status)
	assert.Equal(t, 3, got.SignatureCount())
}

func TestSubmitSignatureRejectsUnknownAttester(t *testing.T) {
	fx := newAggregator(t, []string{"a1"}, 1)
	ctx := context.Background()
	msg := testMessage(1)
	hash := msg.HashHex()

	_, err := fx.service.RecordMessage(ctx, msg)
	require.NoError(t, err)

	_, err = fx.service.SubmitSignature(ctx, hash, "intruder", signDigest(t, fx.keys["a1"], hash), nil)
	assert.True(t, apperrors.IsUnknownAttester(err))
}

func TestSubmitSignatureRejectsForgedSignature(t *testing.T) {
	fx := newAggregator(t, []string{"a1", "a2"}, 2)
	ctx := context.Background()
	msg := testMessage(1)
	hash := msg.HashHex()

	_, err := fx.service.RecordMessage(ctx, msg)
	require.NoError(t, err)

	// a2's key signing under a1's identity must not count.
	_, err = fx.service.SubmitSignature(ctx, hash, "a1", signDigest(t, fx.keys["a2"], hash), nil)
	assert.True(t, apperrors.IsInvalidSignature(err))

	got, err := fx.service.Get(ctx, hash)
	require.NoError(t, err)
	assert.Zero(t, got.SignatureCount())
}

func TestSubmitSignatureDuplicateIsIdempotent(t *testing.T) {
	fx := newAggregator(t, []string{"a1", "a2"}, 2)
	ctx := context.Background()
	msg := testMessage(1)
	hash := msg.HashHex()

	_, err := fx.service.RecordMessage(ctx, msg)
	require.NoError(t, err)

	sig := signDigest(t, fx.keys["a1"], hash)
	_, err = fx.service.SubmitSignature(ctx, hash, "a1", sig, nil)
	require.NoError(t, err)

	got, err := fx.service.SubmitSignature(ctx, hash, "a1", sig, nil)
	assert.True(t, apperrors.IsAlreadySigned(err))
	require.NotNil(t, got)
	assert.Equal(t, 1, got.SignatureCount())
}

func TestSubmitSignatureOpensAttestationFromMessageBytes(t *testing.T) {
	fx := newAggregator(t, []string{"a1"}, 1)
	ctx := context.Background()
	msg := testMessage(7)
	hash := msg.HashHex()

	// No RecordMessage: the attester races ahead of this relayer's monitor.
	got, err := fx.service.SubmitSignature(ctx, hash, "a1", signDigest(t, fx.keys["a1"], hash), msg.Encode())
	require.NoError(t, err)
	assert.Equal(t, entities.AttestationStatusReady, got.Status)
	assert.Equal(t, 1, got.SignatureCount())
}

func TestSubmitSignatureUnknownHashWithoutMessage(t *testing.T) {
	fx := newAggregator(t, []string{"a1"}, 1)
	ctx := context.Background()
	msg := testMessage(7)
	hash := msg.HashHex()

	_, err := fx.service.SubmitSignature(ctx, hash, "a1", signDigest(t, fx.keys["a1"], hash), nil)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSubmitSignatureRejectsMismatchedMessageBytes(t *testing.T) {
	fx := newAggregator(t, []string{"a1"}, 1)
	ctx := context.Background()
	msg := testMessage(7)
	hash := msg.HashHex()

	other := testMessage(8)
	_, err := fx.service.SubmitSignature(ctx, hash, "a1", signDigest(t, fx.keys["a1"], hash), other.Encode())
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestSubmitSignatureRefusesRelayedAttestation(t *testing.T) {
	fx := newAggregator(t, []string{"a1", "a2"}, 2)
	ctx := context.Background()
	msg := testMessage(1)
	hash := msg.HashHex()

	_, err := fx.service.RecordMessage(ctx, msg)
	require.NoError(t, err)
	fx.attRepo.setStatus(hash, entities.AttestationStatusRelayed)

	got, err := fx.service.SubmitSignature(ctx, hash, "a1", signDigest(t, fx.keys["a1"], hash), nil)
	assert.True(t, apperrors.IsTerminalState(err))
	require.NotNil(t, got)
	assert.Equal(t, entities.AttestationStatusRelayed, got.Status)
}

func TestLateSignatureRevivesExpiredAttestation(t *testing.T) {
	fx := newAggregator(t, []string{"a1", "a2"}, 2)
	ctx := context.Background()
	msg := testMessage(1)
	hash := msg.HashHex()

	_, err := fx.service.RecordMessage(ctx, msg)
	require.NoError(t, err)
	_, err = fx.service.SubmitSignature(ctx, hash, "a1", signDigest(t, fx.keys["a1"], hash), nil)
	require.NoError(t, err)

	fx.attRepo.setStatus(hash, entities.AttestationStatusExpired)

	got, err := fx.service.SubmitSignature(ctx, hash, "a2", signDigest(t, fx.keys["a2"], hash), nil)
	require.NoError(t, err)
	assert.Equal(t, entities.AttestationStatusReady, got.Status)

	job, err := fx.relays.GetByMessageHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, entities.RelayStatusNotSubmitted, job.Status)
}

func TestExpireDue(t *testing.T) {
	fx := newAggregator(t, []string{"a1"}, 1)
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := &entities.Attestation{
		MessageHash: testMessage(1).HashHex(),
		Status:      entities.AttestationStatusPending,
		ExpiresAt:   now.Add(-time.Minute),
	}
	fresh := &entities.Attestation{
		MessageHash: testMessage(2).HashHex(),
		Status:      entities.AttestationStatusPending,
		ExpiresAt:   now.Add(time.Hour),
	}
	readyOverdue := &entities.Attestation{
		MessageHash: testMessage(3).HashHex(),
		Status:      entities.AttestationStatusReady,
		ExpiresAt:   now.Add(-time.Minute),
	}
	require.NoError(t, fx.attRepo.Create(ctx, overdue))
	require.NoError(t, fx.attRepo.Create(ctx, fresh))
	require.NoError(t, fx.attRepo.Create(ctx, readyOverdue))

	expired, err := fx.service.ExpireDue(ctx, now, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := fx.service.Get(ctx, overdue.MessageHash)
	require.NoError(t, err)
	assert.Equal(t, entities.AttestationStatusExpired, got.Status)

	got, err = fx.service.Get(ctx, fresh.MessageHash)
	require.NoError(t, err)
	assert.Equal(t, entities.AttestationStatusPending, got.Status)

	// Ready attestations hold their place in the relay queue.
	got, err = fx.service.Get(ctx, readyOverdue.MessageHash)
	require.NoError(t, err)
	assert.Equal(t, entities.AttestationStatusReady, got.Status)
}

func TestForceExpire(t *testing.T) {
	fx := newAggregator(t, []string{"a1"}, 1)
	ctx := context.Background()
	msg := testMessage(1)
	hash := msg.HashHex()

	_, err := fx.service.RecordMessage(ctx, msg)
	require.NoError(t, err)

	got, err := fx.service.ForceExpire(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, entities.AttestationStatusExpired, got.Status)

	fx.attRepo.setStatus(hash, entities.AttestationStatusRelayed)
	_, err = fx.service.ForceExpire(ctx, hash)
	assert.True(t, apperrors.IsTerminalState(err))
}

func TestEnsureRelayJobRequeuesFailedJob(t *testing.T) {
	fx := newAggregator(t, []string{"a1"}, 1)
	ctx := context.Background()
	hash := testMessage(1).HashHex()

	failed := &entities.RelayJob{
		MessageHash:       hash,
		DestinationDomain: 1,
		Status:            entities.RelayStatusFailed,
		AttemptCount:      3,
	}
	require.NoError(t, fx.relays.Create(ctx, failed))

	err := fx.service.EnsureRelayJob(ctx, &entities.Attestation{
		MessageHash:       hash,
		DestinationDomain: 1,
		Status:            entities.AttestationStatusReady,
	})
	require.NoError(t, err)

	job, err := fx.relays.GetByMessageHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, entities.RelayStatusNotSubmitted, job.Status)
	assert.Equal(t, 3, job.AttemptCount)
}

func TestEnsureRelayJobLeavesActiveJobAlone(t *testing.T) {
	fx := newAggregator(t, []string{"a1"}, 1)
	ctx := context.Background()
	hash := testMessage(1).HashHex()

	inFlight := &entities.RelayJob{
		MessageHash:       hash,
		DestinationDomain: 1,
		Status:            entities.RelayStatusInFlight,
		AttemptCount:      1,
	}
	require.NoError(t, fx.relays.Create(ctx, inFlight))

	err := fx.service.EnsureRelayJob(ctx, &entities.Attestation{
		MessageHash:       hash,
		DestinationDomain: 1,
	})
	require.NoError(t, err)

	job, err := fx.relays.GetByMessageHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, entities.RelayStatusInFlight, job.Status)
}

func TestReloadAttesters(t *testing.T) {
	fx := newAggregator(t, []string{"a1", "a2"}, 2)

	assert.Equal(t, 2, fx.service.Threshold())
	assert.ElementsMatch(t, []string{"a1", "a2"}, fx.service.AttesterIDs())

	b1, _ := newTestAttester(t, "b1")
	b2, _ := newTestAttester(t, "b2")
	b3, _ := newTestAttester(t, "b3")
	require.NoError(t, fx.service.ReloadAttesters([]Attester{b1, b2, b3}, 3))

	assert.Equal(t, 3, fx.service.Threshold())
	assert.ElementsMatch(t, []string{"b1", "b2", "b3"}, fx.service.AttesterIDs())

	// An invalid reload leaves the previous set in place.
	err := fx.service.ReloadAttesters([]Attester{b1}, 2)
	assert.Error(t, err)
	assert.Equal(t, 3, fx.service.Threshold())
}

func TestGetStatus(t *testing.T) {
	fx := newAggregator(t, []string{"a1", "a2", "a3"}, 2)
	ctx := context.Background()
	msg := testMessage(1)
	hash := msg.HashHex()

	_, err := fx.service.RecordMessage(ctx, msg)
	require.NoError(t, err)
	_, err = fx.service.SubmitSignature(ctx, hash, "a2", signDigest(t, fx.keys["a2"], hash), nil)
	require.NoError(t, err)

	status, err := fx.service.GetStatus(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, hash, status.MessageHash)
	assert.Equal(t, entities.AttestationStatusPending, status.Status)
	assert.Equal(t, 1, status.SignatureCount)
	assert.Equal(t, 2, status.Threshold)
	assert.Equal(t, []string{"a2"}, status.Attesters)
}
