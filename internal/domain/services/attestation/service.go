// Package attestation implements the M-of-N signature aggregator. Attesters
// observe emitted messages independently and submit recoverable secp256k1
// signatures over the canonical message hash; once the threshold is met the
// attestation is promoted to ready and a relay job is enqueued.
package attestation

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/domain/entities"
	apperrors "github.com/etrid/flarebridge/internal/domain/errors"
	"github.com/etrid/flarebridge/internal/domain/repositories"
	"github.com/etrid/flarebridge/pkg/crypto"
	"github.com/etrid/flarebridge/pkg/metrics"
)

// Attester is one authorized signer identity. PublicKey is the hex-encoded
// secp256k1 public key, compressed or uncompressed.
type Attester struct {
	ID        string `json:"id"`
	PublicKey string `json:"public_key"`
}

// attesterSet is the resolved signer registry. The whole set plus threshold
// swaps atomically on reload so in-flight verifications see one consistent view.
type attesterSet struct {
	addressByID map[string]string
	ids         []string
	threshold   int
}

// Status is the aggregation progress snapshot for one message
type Status struct {
	MessageHash    string                     `json:"message_hash"`
	Status         entities.AttestationStatus `json:"status"`
	SignatureCount int                        `json:"signature_count"`
	Threshold      int                        `json:"threshold"`
	Attesters      []string                   `json:"attesters"`
	ExpiresAt      time.Time                  `json:"expires_at"`
}

type Service struct {
	attestations repositories.AttestationRepository
	relays       repositories.RelayRepository
	set          atomic.Pointer[attesterSet]
	expiryTTL    time.Duration
	logger       *zap.Logger
}

// NewService builds the aggregator with its initial attester set
func NewService(
	attestations repositories.AttestationRepository,
	relays repositories.RelayRepository,
	attesters []Attester,
	threshold int,
	expiryTTL time.Duration,
	logger *zap.Logger,
) (*Service, error) {
	set, err := buildAttesterSet(attesters, threshold)
	if err != nil {
		return nil, err
	}

	if expiryTTL <= 0 {
		expiryTTL = 24 * time.Hour
	}

	s := &Service{
		attestations: attestations,
		relays:       relays,
		expiryTTL:    expiryTTL,
		logger:       logger,
	}
	s.set.Store(set)
	return s, nil
}

func buildAttesterSet(attesters []Attester, threshold int) (*attesterSet, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("attestation threshold must be at least 1")
	}
	if threshold > len(attesters) {
		return nil, fmt.Errorf("attestation threshold %d exceeds attester count %d", threshold, len(attesters))
	}

	set := &attesterSet{
		addressByID: make(map[string]string, len(attesters)),
		ids:         make([]string, 0, len(attesters)),
		threshold:   threshold,
	}
	for _, a := range attesters {
		if a.ID == "" {
			return nil, fmt.Errorf("attester id cannot be empty")
		}
		if _, dup := set.addressByID[a.ID]; dup {
			return nil, fmt.Errorf("duplicate attester id %s", a.ID)
		}
		address, err := crypto.AddressFromPublicKeyHex(a.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("attester %s: %w", a.ID, err)
		}
		set.addressByID[a.ID] = address
		set.ids = append(set.ids, a.ID)
	}
	return set, nil
}

// Threshold returns the current M of the M-of-N policy
func (s *Service) Threshold() int {
	return s.set.Load().threshold
}

// AttesterIDs returns the configured attester identities
func (s *Service) AttesterIDs() []string {
	ids := s.set.Load().ids
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// ReloadAttesters swaps the attester set and threshold in one step.
// Signatures already persisted stay counted even if their attester was removed.
func (s *Service) ReloadAttesters(attesters []Attester, threshold int) error {
	set, err := buildAttesterSet(attesters, threshold)
	if err != nil {
		return apperrors.ValidationError("attesters", err.Error())
	}
	s.set.Store(set)
	s.logger.Info("attester set reloaded",
		zap.Int("attesters", len(set.ids)),
		zap.Int("threshold", set.threshold))
	return nil
}

// RecordMessage registers a freshly emitted message for aggregation. Safe to
// call again for the same message; the existing attestation is returned.
func (s *Service) RecordMessage(ctx context.Context, msg entities.Message) (*entities.Attestation, error) {
	now := time.Now().UTC()
	attestation := &entities.Attestation{
		MessageHash:       msg.HashHex(),
		Message:           msg.Encode(),
		SourceDomain:      msg.SourceDomain,
		DestinationDomain: msg.DestinationDomain,
		Nonce:             msg.Nonce,
		Status:            entities.AttestationStatusPending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.expiryTTL),
	}

	err := s.attestations.Create(ctx, attestation)
	if err != nil {
		if apperrors.IsConflict(err) {
			return s.attestations.GetByMessageHash(ctx, attestation.MessageHash)
		}
		return nil, err
	}

	s.logger.Info("attestation opened",
		zap.String("message_hash", attestation.MessageHash),
		zap.Uint32("source_domain", msg.SourceDomain),
		zap.Uint32("destination_domain", msg.DestinationDomain),
		zap.Uint64("nonce", msg.Nonce))
	return attestation, nil
}

// SubmitSignature verifies and stores one attester's signature. The message
// bytes are optional: when the attestation does not exist yet they allow the
// attester to open it, provided they hash to messageHash.
func (s *Service) SubmitSignature(ctx context.Context, messageHash, attesterID string, signature, message []byte) (*entities.Attestation, error) {
	hash := entities.NormalizeMessageHash(messageHash)
	if !entities.IsMessageHash(hash) {
		return nil, apperrors.ValidationError("message_hash", "message hash must be a 32-byte hex digest")
	}

	set := s.set.Load()
	address, known := set.addressByID[attesterID]
	if !known {
		metrics.SignaturesRejectedTotal.WithLabelValues("unknown_attester").Inc()
		return nil, apperrors.UnknownAttesterError(attesterID)
	}

	digest, err := crypto.DecodeDigestHex(hash)
	if err != nil {
		return nil, apperrors.ValidationError("message_hash", err.Error())
	}
	if err := crypto.VerifySignature(digest, signature, address); err != nil {
		metrics.SignaturesRejectedTotal.WithLabelValues("invalid_signature").Inc()
		s.logger.Warn("signature failed verification",
			zap.String("attester", attesterID),
			zap.String("message_hash", hash),
			zap.Error(err))
		return nil, apperrors.InvalidSignatureError(attesterID)
	}

	attestation, err := s.attestations.GetByMessageHash(ctx, hash)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			return nil, err
		}
		attestation, err = s.openFromMessage(ctx, hash, message)
		if err != nil {
			return nil, err
		}
	}

	if attestation.Status.IsTerminal() {
		metrics.SignaturesRejectedTotal.WithLabelValues("terminal_state").Inc()
		return attestation, apperrors.TerminalStateError("attestation", string(attestation.Status))
	}

	inserted, err := s.attestations.AddSignature(ctx, hash, entities.AttesterSignature{
		AttesterID: attesterID,
		Signature:  signature,
		SignedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		metrics.SignaturesDuplicateTotal.Inc()
		return attestation, apperrors.AlreadySignedError(attesterID)
	}

	metrics.SignaturesAcceptedTotal.WithLabelValues(attesterID).Inc()
	s.logger.Info("signature accepted",
		zap.String("attester", attesterID),
		zap.String("message_hash", hash))

	attestation, err = s.attestations.GetByMessageHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	if attestation.MeetsThreshold(set.threshold) {
		if err := s.promote(ctx, attestation); err != nil {
			return nil, err
		}
		attestation, err = s.attestations.GetByMessageHash(ctx, hash)
		if err != nil {
			return nil, err
		}
	}

	return attestation, nil
}

// openFromMessage creates an attestation from attester-supplied message bytes
func (s *Service) openFromMessage(ctx context.Context, hash string, message []byte) (*entities.Attestation, error) {
	if len(message) == 0 {
		return nil, apperrors.NotFoundError("attestation")
	}

	msg, err := entities.DecodeMessage(message)
	if err != nil {
		return nil, apperrors.ValidationError("message", err.Error())
	}
	if !strings.EqualFold(msg.HashHex(), hash) {
		return nil, apperrors.ValidationError("message", "message does not hash to the submitted message hash")
	}

	return s.RecordMessage(ctx, msg)
}

// promote moves a threshold-satisfying attestation to ready and enqueues its
// relay job. Concurrent promotions collapse; exactly one caller enqueues.
func (s *Service) promote(ctx context.Context, attestation *entities.Attestation) error {
	switch attestation.Status {
	case entities.AttestationStatusPending, entities.AttestationStatusExpired:
	default:
		return nil
	}

	won, err := s.attestations.TransitionStatus(ctx, attestation.MessageHash, attestation.Status, entities.AttestationStatusReady)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	metrics.AttestationsReadyTotal.Inc()
	s.logger.Info("attestation ready",
		zap.String("message_hash", attestation.MessageHash),
		zap.Int("signatures", attestation.SignatureCount()),
		zap.Uint32("destination_domain", attestation.DestinationDomain))

	return s.EnsureRelayJob(ctx, attestation)
}

// EnsureRelayJob guarantees a queued relay job exists for a ready
// attestation. An existing failed job is requeued, which covers attestations
// revived by late signatures after an operator force-expired them.
func (s *Service) EnsureRelayJob(ctx context.Context, attestation *entities.Attestation) error {
	now := time.Now().UTC()
	job := &entities.RelayJob{
		ID:                uuid.New(),
		MessageHash:       attestation.MessageHash,
		DestinationDomain: attestation.DestinationDomain,
		Status:            entities.RelayStatusNotSubmitted,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.relays.Create(ctx, job)
	if err == nil {
		return nil
	}
	if !apperrors.IsConflict(err) {
		return err
	}

	existing, err := s.relays.GetByMessageHash(ctx, attestation.MessageHash)
	if err != nil {
		return err
	}
	if existing.Status != entities.RelayStatusFailed {
		return nil
	}
	if err := existing.Requeue(); err != nil {
		return err
	}
	return s.relays.Update(ctx, existing)
}

// Get returns the attestation with its signatures
func (s *Service) Get(ctx context.Context, messageHash string) (*entities.Attestation, error) {
	return s.attestations.GetByMessageHash(ctx, entities.NormalizeMessageHash(messageHash))
}

// GetStatus returns the aggregation progress for one message
func (s *Service) GetStatus(ctx context.Context, messageHash string) (*Status, error) {
	attestation, err := s.Get(ctx, messageHash)
	if err != nil {
		return nil, err
	}
	return &Status{
		MessageHash:    attestation.MessageHash,
		Status:         attestation.Status,
		SignatureCount: attestation.SignatureCount(),
		Threshold:      s.set.Load().threshold,
		Attesters:      attestation.AttesterList(),
		ExpiresAt:      attestation.ExpiresAt,
	}, nil
}

// List returns attestations matching the filter
func (s *Service) List(ctx context.Context, filter repositories.AttestationFilter) ([]*entities.Attestation, error) {
	return s.attestations.List(ctx, filter)
}

// CountByStatus returns attestation counts grouped by status
func (s *Service) CountByStatus(ctx context.Context) (map[entities.AttestationStatus]int64, error) {
	return s.attestations.CountByStatus(ctx)
}

// ExpireDue expires pending attestations whose horizon passed and returns the
// number expired. Late signatures can still revive them through promotion.
func (s *Service) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.attestations.ListExpirable(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, attestation := range due {
		won, err := s.attestations.TransitionStatus(ctx, attestation.MessageHash,
			entities.AttestationStatusPending, entities.AttestationStatusExpired)
		if err != nil {
			return expired, err
		}
		if !won {
			continue
		}
		expired++
		metrics.AttestationsExpiredTotal.Inc()
		s.logger.Info("attestation expired",
			zap.String("message_hash", attestation.MessageHash),
			zap.Int("signatures", attestation.SignatureCount()),
			zap.Time("expires_at", attestation.ExpiresAt))
	}

	if counts, err := s.attestations.CountByStatus(ctx); err == nil {
		metrics.AttestationsPendingGauge.Set(float64(counts[entities.AttestationStatusPending]))
	}
	return expired, nil
}

// ForceExpire moves a pending or ready attestation to expired on operator
// request. Relayed attestations are immutable.
func (s *Service) ForceExpire(ctx context.Context, messageHash string) (*entities.Attestation, error) {
	hash := entities.NormalizeMessageHash(messageHash)
	attestation, err := s.attestations.GetByMessageHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	if !attestation.Status.CanTransitionTo(entities.AttestationStatusExpired) {
		return nil, apperrors.TerminalStateError("attestation", string(attestation.Status))
	}

	won, err := s.attestations.TransitionStatus(ctx, hash, attestation.Status, entities.AttestationStatusExpired)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, apperrors.ConflictError("attestation", "status changed concurrently")
	}

	metrics.AttestationsExpiredTotal.Inc()
	s.logger.Info("attestation force-expired", zap.String("message_hash", hash))
	return s.attestations.GetByMessageHash(ctx, hash)
}

// MarkRelayed finalizes an attestation after its relay job finalized
func (s *Service) MarkRelayed(ctx context.Context, messageHash string, relayedAt time.Time) error {
	return s.attestations.MarkRelayed(ctx, entities.NormalizeMessageHash(messageHash), relayedAt)
}
