package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/etrid/flarebridge/internal/domain/entities"
)

// DepositRepository defines the interface for deposit persistence. The
// (chain, tx_reference) pair is unique; inserting a duplicate returns a
// conflict the tracker treats as an idempotent replay.
type DepositRepository interface {
	Create(ctx context.Context, deposit *entities.Deposit) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Deposit, error)
	GetByKey(ctx context.Context, chain, txReference string) (*entities.Deposit, error)
	Update(ctx context.Context, deposit *entities.Deposit) error
	List(ctx context.Context, filter DepositFilter) ([]*entities.Deposit, error)
	ListUnemittedByChain(ctx context.Context, chain string) ([]*entities.Deposit, error)
	CountByStatus(ctx context.Context) (map[entities.DepositStatus]int64, error)
	DeleteEmittedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DepositFilter narrows deposit listings
type DepositFilter struct {
	Chain  string
	Status entities.DepositStatus
	Limit  int
	Offset int
}

// AttestationRepository defines the interface for attestation and
// signature persistence. Signatures are keyed by (message_hash,
// attester_id); duplicate inserts are reported, not failed.
type AttestationRepository interface {
	Create(ctx context.Context, attestation *entities.Attestation) error
	GetByMessageHash(ctx context.Context, messageHash string) (*entities.Attestation, error)
	AddSignature(ctx context.Context, messageHash string, sig entities.AttesterSignature) (bool, error)
	// TransitionStatus moves the attestation from one status to another
	// and reports whether the row actually changed, so concurrent
	// promotions collapse to a single winner.
	TransitionStatus(ctx context.Context, messageHash string, from, to entities.AttestationStatus) (bool, error)
	MarkRelayed(ctx context.Context, messageHash string, relayedAt time.Time) error
	List(ctx context.Context, filter AttestationFilter) ([]*entities.Attestation, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]*entities.Attestation, error)
	CountByStatus(ctx context.Context) (map[entities.AttestationStatus]int64, error)
}

// AttestationFilter narrows attestation listings
type AttestationFilter struct {
	Status entities.AttestationStatus
	Limit  int
	Offset int
}

// RelayRepository defines the interface for relay job persistence
type RelayRepository interface {
	Create(ctx context.Context, job *entities.RelayJob) error
	GetByMessageHash(ctx context.Context, messageHash string) (*entities.RelayJob, error)
	Update(ctx context.Context, job *entities.RelayJob) error
	ListByStatus(ctx context.Context, status entities.RelayStatus, limit, offset int) ([]*entities.RelayJob, error)
	ListNotSubmitted(ctx context.Context, destinationDomain uint32, limit int) ([]*entities.RelayJob, error)
	ListStaleInFlight(ctx context.Context, olderThan time.Time, limit int) ([]*entities.RelayJob, error)
	CountByStatus(ctx context.Context) (map[entities.RelayStatus]int64, error)
}

// NonceRepository allocates monotonic per-source-domain message nonces.
// Allocation is atomic; two concurrent emits never share a nonce.
type NonceRepository interface {
	NextSourceNonce(ctx context.Context, sourceDomain uint32) (uint64, error)
}
