package relay

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/adapters/destination"
	apperrors "github.com/etrid/flarebridge/internal/domain/errors"
	"github.com/etrid/flarebridge/pkg/metrics"
)

// NonceManager serializes destination account nonces. One mutex per signer
// account means at most one transaction is ever built against an account at
// a time, and the cached counter is dropped after any failure so the next
// use resyncs from the destination instead of trusting local state.
type NonceManager struct {
	mu       sync.Mutex
	accounts map[string]*accountNonce
	logger   *zap.Logger
}

type accountNonce struct {
	mu     sync.Mutex
	synced bool
	next   uint64
}

// NewNonceManager creates an empty nonce manager
func NewNonceManager(logger *zap.Logger) *NonceManager {
	return &NonceManager{
		accounts: make(map[string]*accountNonce),
		logger:   logger,
	}
}

func (nm *NonceManager) account(key string) *accountNonce {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	acct, ok := nm.accounts[key]
	if !ok {
		acct = &accountNonce{}
		nm.accounts[key] = acct
	}
	return acct
}

// WithNonce runs fn under the account lock with the next usable nonce. A nil
// return from fn commits nonce+1; any error marks the account unsynced so the
// following call re-reads the pending nonce from the destination. The lock is
// held for the full duration of fn, which is what keeps concurrent submitters
// off the same account.
func (nm *NonceManager) WithNonce(ctx context.Context, d destination.Dispatcher, fn func(nonce uint64) error) error {
	acct := nm.account(d.SignerAccount())
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if !acct.synced {
		pending, err := d.PendingNonce(ctx)
		if err != nil {
			return apperrors.TransientDispatchError(d.Domain(), fmt.Errorf("failed to sync account nonce: %w", err))
		}
		acct.next = pending
		acct.synced = true
		nm.logger.Debug("account nonce synced",
			zap.String("account", d.SignerAccount()),
			zap.Uint64("nonce", pending))
	}

	nonce := acct.next
	metrics.DestinationNonceGauge.WithLabelValues(domainLabel(d.Domain()), d.SignerAccount()).Set(float64(nonce))

	if err := fn(nonce); err != nil {
		acct.synced = false
		return err
	}

	acct.next = nonce + 1
	return nil
}
