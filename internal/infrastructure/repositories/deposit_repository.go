package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/etrid/flarebridge/internal/domain/entities"
	apperrors "github.com/etrid/flarebridge/internal/domain/errors"
	domainrepos "github.com/etrid/flarebridge/internal/domain/repositories"
)

const depositColumns = `id, chain, source_address, destination_account, amount,
	   tx_reference, observed_height, confirmations, status,
	   message_hash, emitted_at, created_at, updated_at`

// DepositRepository implements the deposit repository interface
type DepositRepository struct {
	db *sqlx.DB
}

// NewDepositRepository creates a new deposit repository
func NewDepositRepository(db *sqlx.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

// Create inserts a new deposit. A unique violation on (chain,
// tx_reference) comes back as a conflict so callers can treat stream
// replays as no-ops.
func (r *DepositRepository) Create(ctx context.Context, deposit *entities.Deposit) error {
	query := `
		INSERT INTO deposits (
			id, chain, source_address, destination_account, amount,
			tx_reference, observed_height, confirmations, status,
			message_hash, emitted_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		deposit.ID,
		deposit.Chain,
		deposit.SourceAddress,
		deposit.DestinationAccount,
		deposit.Amount,
		deposit.TxReference,
		deposit.ObservedHeight,
		deposit.Confirmations,
		deposit.Status,
		deposit.MessageHash,
		deposit.EmittedAt,
		deposit.CreatedAt,
		deposit.UpdatedAt,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apperrors.ConflictError("deposit", deposit.Key())
		}
		return fmt.Errorf("failed to create deposit: %w", err)
	}

	return nil
}

// GetByID retrieves a deposit by ID
func (r *DepositRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE id = $1`

	var deposit entities.Deposit
	err := r.db.GetContext(ctx, &deposit, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFoundError("deposit")
		}
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}

	return &deposit, nil
}

// GetByKey retrieves a deposit by its chain and transaction reference
func (r *DepositRepository) GetByKey(ctx context.Context, chain, txReference string) (*entities.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE chain = $1 AND tx_reference = $2`

	var deposit entities.Deposit
	err := r.db.GetContext(ctx, &deposit, query, chain, txReference)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFoundError("deposit")
		}
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}

	return &deposit, nil
}

// Update updates a deposit's mutable fields
func (r *DepositRepository) Update(ctx context.Context, deposit *entities.Deposit) error {
	query := `
		UPDATE deposits
		SET confirmations = $2,
			status = $3,
			message_hash = $4,
			emitted_at = $5,
			updated_at = $6
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		deposit.ID,
		deposit.Confirmations,
		deposit.Status,
		deposit.MessageHash,
		deposit.EmittedAt,
		deposit.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update deposit: %w", err)
	}

	return nil
}

// List retrieves deposits matching the filter, newest first
func (r *DepositRepository) List(ctx context.Context, filter domainrepos.DepositFilter) ([]*entities.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Chain != "" {
		query += fmt.Sprintf(" AND chain = $%d", argIdx)
		args = append(args, filter.Chain)
		argIdx++
	}
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

	var deposits []*entities.Deposit
	err := r.db.SelectContext(ctx, &deposits, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}

	return deposits, nil
}

// ListUnemittedByChain retrieves pending and confirmed deposits for a
// chain, oldest first. The tracker reloads these on startup.
func (r *DepositRepository) ListUnemittedByChain(ctx context.Context, chain string) ([]*entities.Deposit, error) {
	query := `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE chain = $1 AND status IN ('pending', 'confirmed')
		ORDER BY observed_height ASC
	`

	var deposits []*entities.Deposit
	err := r.db.SelectContext(ctx, &deposits, query, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to list unemitted deposits: %w", err)
	}

	return deposits, nil
}

// CountByStatus returns deposit counts grouped by status
func (r *DepositRepository) CountByStatus(ctx context.Context) (map[entities.DepositStatus]int64, error) {
	query := `SELECT status, COUNT(*) AS count FROM deposits GROUP BY status`

	rows := []struct {
		Status entities.DepositStatus `db:"status"`
		Count  int64                  `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count deposits: %w", err)
	}

	counts := make(map[entities.DepositStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// DeleteEmittedBefore removes emitted deposits older than the cutoff
// and returns the number of rows deleted.
func (r *DepositRepository) DeleteEmittedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM deposits WHERE status = 'emitted' AND emitted_at < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune deposits: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read pruned row count: %w", err)
	}
	return deleted, nil
}
