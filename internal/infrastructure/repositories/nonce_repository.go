package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// NonceRepository allocates per-source-domain message nonces from a
// single-row-per-domain counter table. The upsert increments and returns
// in one statement, so concurrent emitters never collide.
type NonceRepository struct {
	db *sqlx.DB
}

// NewNonceRepository creates a new nonce repository
func NewNonceRepository(db *sqlx.DB) *NonceRepository {
	return &NonceRepository{db: db}
}

// NextSourceNonce returns the next unused nonce for the source domain,
// starting at zero for a domain never seen before.
func (r *NonceRepository) NextSourceNonce(ctx context.Context, sourceDomain uint32) (uint64, error) {
	query := `
		INSERT INTO source_nonces (domain, next_nonce)
		VALUES ($1, 1)
		ON CONFLICT (domain)
		DO UPDATE SET next_nonce = source_nonces.next_nonce + 1
		RETURNING next_nonce - 1
	`

	var nonce uint64
	err := r.db.GetContext(ctx, &nonce, query, sourceDomain)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate nonce for domain %d: %w", sourceDomain, err)
	}

	return nonce, nil
}
