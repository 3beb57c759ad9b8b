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
)

const relayJobColumns = `id, message_hash, destination_domain, account, nonce,
	   attempt_count, last_error, status, tx_reference,
	   finalized_at, created_at, updated_at`

// RelayRepository implements relay job persistence
type RelayRepository struct {
	db *sqlx.DB
}

// NewRelayRepository creates a new relay repository
func NewRelayRepository(db *sqlx.DB) *RelayRepository {
	return &RelayRepository{db: db}
}

// Create inserts a new relay job. The unique constraint on message_hash
// keeps each ready attestation bound to exactly one job.
func (r *RelayRepository) Create(ctx context.Context, job *entities.RelayJob) error {
	query := `
		INSERT INTO relay_jobs (
			id, message_hash, destination_domain, account, nonce,
			attempt_count, last_error, status, tx_reference,
			finalized_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.MessageHash,
		job.DestinationDomain,
		job.Account,
		job.Nonce,
		job.AttemptCount,
		job.LastError,
		job.Status,
		job.TxReference,
		job.FinalizedAt,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apperrors.ConflictError("relay job", job.MessageHash)
		}
		return fmt.Errorf("failed to create relay job: %w", err)
	}

	return nil
}

// GetByMessageHash retrieves the relay job for a message hash
func (r *RelayRepository) GetByMessageHash(ctx context.Context, messageHash string) (*entities.RelayJob, error) {
	query := `SELECT ` + relayJobColumns + ` FROM relay_jobs WHERE message_hash = $1`

	var job entities.RelayJob
	err := r.db.GetContext(ctx, &job, query, messageHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFoundError("relay job")
		}
		return nil, fmt.Errorf("failed to get relay job: %w", err)
	}

	return &job, nil
}

// Update updates a relay job's mutable fields
func (r *RelayRepository) Update(ctx context.Context, job *entities.RelayJob) error {
	query := `
		UPDATE relay_jobs
		SET account = $2,
			nonce = $3,
			attempt_count = $4,
			last_error = $5,
			status = $6,
			tx_reference = $7,
			finalized_at = $8,
			updated_at = $9
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.Account,
		job.Nonce,
		job.AttemptCount,
		job.LastError,
		job.Status,
		job.TxReference,
		job.FinalizedAt,
		job.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update relay job: %w", err)
	}

	return nil
}

// ListByStatus retrieves relay jobs in a status, newest first
func (r *RelayRepository) ListByStatus(ctx context.Context, status entities.RelayStatus, limit, offset int) ([]*entities.RelayJob, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + relayJobColumns + `
		FROM relay_jobs
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	var jobs []*entities.RelayJob
	err := r.db.SelectContext(ctx, &jobs, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list relay jobs: %w", err)
	}

	return jobs, nil
}

// ListNotSubmitted retrieves queued jobs for one destination, oldest first,
// so submission order follows emission order.
func (r *RelayRepository) ListNotSubmitted(ctx context.Context, destinationDomain uint32, limit int) ([]*entities.RelayJob, error) {
	query := `
		SELECT ` + relayJobColumns + `
		FROM relay_jobs
		WHERE status = 'not_submitted' AND destination_domain = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	var jobs []*entities.RelayJob
	err := r.db.SelectContext(ctx, &jobs, query, destinationDomain, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued relay jobs: %w", err)
	}

	return jobs, nil
}

// ListStaleInFlight retrieves in-flight jobs untouched since olderThan.
// These are candidates for requeue after a crash mid-submission.
func (r *RelayRepository) ListStaleInFlight(ctx context.Context, olderThan time.Time, limit int) ([]*entities.RelayJob, error) {
	query := `
		SELECT ` + relayJobColumns + `
		FROM relay_jobs
		WHERE status = 'in_flight' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`

	var jobs []*entities.RelayJob
	err := r.db.SelectContext(ctx, &jobs, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale relay jobs: %w", err)
	}

	return jobs, nil
}

// CountByStatus returns relay job counts grouped by status
func (r *RelayRepository) CountByStatus(ctx context.Context) (map[entities.RelayStatus]int64, error) {
	query := `SELECT status, COUNT(*) AS count FROM relay_jobs GROUP BY status`

	rows := []struct {
		Status entities.RelayStatus `db:"status"`
		Count  int64                `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count relay jobs: %w", err)
	}

	counts := make(map[entities.RelayStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
