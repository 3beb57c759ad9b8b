package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/etrid/flarebridge/internal/domain/entities"
	apperrors "github.com/etrid/flarebridge/internal/domain/errors"
	domainrepos "github.com/etrid/flarebridge/internal/domain/repositories"
)

const attestationColumns = `message_hash, message, source_domain, destination_domain,
	   nonce, status, created_at, expires_at, relayed_at`

// AttestationRepository implements attestation and signature persistence
type AttestationRepository struct {
	db *sqlx.DB
}

// NewAttestationRepository creates a new attestation repository
func NewAttestationRepository(db *sqlx.DB) *AttestationRepository {
	return &AttestationRepository{db: db}
}

// Create inserts a new attestation with no signatures yet
func (r *AttestationRepository) Create(ctx context.Context, attestation *entities.Attestation) error {
	query := `
		INSERT INTO attestations (
			message_hash, message, source_domain, destination_domain,
			nonce, status, created_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		attestation.MessageHash,
		attestation.Message,
		attestation.SourceDomain,
		attestation.DestinationDomain,
		attestation.Nonce,
		attestation.Status,
		attestation.CreatedAt,
		attestation.ExpiresAt,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apperrors.ConflictError("attestation", attestation.MessageHash)
		}
		return fmt.Errorf("failed to create attestation: %w", err)
	}

	return nil
}

// GetByMessageHash retrieves an attestation with its signatures
func (r *AttestationRepository) GetByMessageHash(ctx context.Context, messageHash string) (*entities.Attestation, error) {
	query := `SELECT ` + attestationColumns + ` FROM attestations WHERE message_hash = $1`

	var attestation entities.Attestation
	err := r.db.GetContext(ctx, &attestation, query, messageHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFoundError("attestation")
		}
		return nil, fmt.Errorf("failed to get attestation: %w", err)
	}

	signatures, err := r.loadSignatures(ctx, []string{messageHash})
	if err != nil {
		return nil, err
	}
	attestation.Signatures = signatures[messageHash]

	return &attestation, nil
}

// AddSignature stores one attester's signature. Returns false when the
// attester already signed this message.
func (r *AttestationRepository) AddSignature(ctx context.Context, messageHash string, sig entities.AttesterSignature) (bool, error) {
	query := `
		INSERT INTO attestation_signatures (message_hash, attester_id, signature, signed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_hash, attester_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, messageHash, sig.AttesterID, sig.Signature, sig.SignedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return false, apperrors.NotFoundError("attestation")
		}
		return false, fmt.Errorf("failed to add signature: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read signature insert count: %w", err)
	}
	return inserted > 0, nil
}

// TransitionStatus performs a compare-and-set status update. It reports
// whether this caller won the transition; losers see the row already moved.
func (r *AttestationRepository) TransitionStatus(ctx context.Context, messageHash string, from, to entities.AttestationStatus) (bool, error) {
	query := `UPDATE attestations SET status = $3 WHERE message_hash = $1 AND status = $2`

	result, err := r.db.ExecContext(ctx, query, messageHash, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to transition attestation: %w", err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read transition row count: %w", err)
	}
	return updated > 0, nil
}

// MarkRelayed moves the attestation into its terminal relayed state
func (r *AttestationRepository) MarkRelayed(ctx context.Context, messageHash string, relayedAt time.Time) error {
	query := `
		UPDATE attestations
		SET status = 'relayed', relayed_at = $2
		WHERE message_hash = $1
	`

	result, err := r.db.ExecContext(ctx, query, messageHash, relayedAt)
	if err != nil {
		return fmt.Errorf("failed to mark attestation relayed: %w", err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read relayed row count: %w", err)
	}
	if updated == 0 {
		return apperrors.NotFoundError("attestation")
	}
	return nil
}

// List retrieves attestations matching the filter, newest first,
// with signatures attached.
func (r *AttestationRepository) List(ctx context.Context, filter domainrepos.AttestationFilter) ([]*entities.Attestation, error) {
	query := `SELECT ` + attestationColumns + ` FROM attestations WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, filter.Offset)

	var attestations []*entities.Attestation
	err := r.db.SelectContext(ctx, &attestations, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attestations: %w", err)
	}

	if err := r.attachSignatures(ctx, attestations); err != nil {
		return nil, err
	}
	return attestations, nil
}

// ListExpirable retrieves pending attestations whose expiry horizon has
// passed, oldest horizon first. Ready attestations are left to the relay
// pipeline; only an operator can force-expire those.
func (r *AttestationRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*entities.Attestation, error) {
	query := `
		SELECT ` + attestationColumns + `
		FROM attestations
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
	`

	var attestations []*entities.Attestation
	err := r.db.SelectContext(ctx, &attestations, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expirable attestations: %w", err)
	}

	if err := r.attachSignatures(ctx, attestations); err != nil {
		return nil, err
	}
	return attestations, nil
}

// CountByStatus returns attestation counts grouped by status
func (r *AttestationRepository) CountByStatus(ctx context.Context) (map[entities.AttestationStatus]int64, error) {
	query := `SELECT status, COUNT(*) AS count FROM attestations GROUP BY status`

	rows := []struct {
		Status entities.AttestationStatus `db:"status"`
		Count  int64                      `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count attestations: %w", err)
	}

	counts := make(map[entities.AttestationStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// attachSignatures loads signatures for each attestation in one query
func (r *AttestationRepository) attachSignatures(ctx context.Context, attestations []*entities.Attestation) error {
	if len(attestations) == 0 {
		return nil
	}

	hashes := make([]string, 0, len(attestations))
	for _, a := range attestations {
		hashes = append(hashes, a.MessageHash)
	}

	signatures, err := r.loadSignatures(ctx, hashes)
	if err != nil {
		return err
	}
	for _, a := range attestations {
		a.Signatures = signatures[a.MessageHash]
	}
	return nil
}

func (r *AttestationRepository) loadSignatures(ctx context.Context, messageHashes []string) (map[string][]entities.AttesterSignature, error) {
	query := `
		SELECT message_hash, attester_id, signature, signed_at
		FROM attestation_signatures
		WHERE message_hash = ANY($1)
		ORDER BY signed_at ASC, attester_id ASC
	`

	rows := []struct {
		MessageHash string    `db:"message_hash"`
		AttesterID  string    `db:"attester_id"`
		Signature   []byte    `db:"signature"`
		SignedAt    time.Time `db:"signed_at"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(messageHashes)); err != nil {
		return nil, fmt.Errorf("failed to load signatures: %w", err)
	}

	signatures := make(map[string][]entities.AttesterSignature, len(messageHashes))
	for _, row := range rows {
		signatures[row.MessageHash] = append(signatures[row.MessageHash], entities.AttesterSignature{
			AttesterID: row.AttesterID,
			Signature:  row.Signature,
			SignedAt:   row.SignedAt,
		})
	}
	return signatures, nil
}
