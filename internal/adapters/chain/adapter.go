// Package chain defines the capability surface every external-chain adapter
// implements. Monitors drive adapters through this interface only; nothing
// outside an adapter package branches on chain names.
package chain

import (
	"context"
	"math/big"

	"github.com/etrid/flarebridge/internal/domain/entities"
)

// Observation is a raw sighting of a transfer to the bridge-controlled
// address, before confirmation tracking and recipient screening.
type Observation struct {
	Chain            string
	TxReference      string
	SourceAddress    string
	RecipientPayload []byte
	Amount           *big.Int
	Height           uint64
}

// Adapter is the per-chain capability set: report the head, compute
// confirmation depth, decode recipient payloads, and stream observations.
// Implementations are selected by configuration, one per configured chain.
type Adapter interface {
	// Chain returns the configured chain name (e.g. "bitcoin", "polygon")
	Chain() string

	// Family returns the finality/parsing model this adapter implements
	Family() entities.ChainFamily

	// Head returns the current chain head: block height, ledger index, or slot
	Head(ctx context.Context) (uint64, error)

	// Confirmations returns the confirmation depth for a transaction observed
	// at the given height against the current head
	Confirmations(ctx context.Context, observedHeight uint64) (uint64, error)

	// ParseRecipient decodes the chain's memo payload into the canonical
	// 32-byte destination account using the chain-declared format
	ParseRecipient(payload []byte) ([32]byte, error)

	// Subscribe streams observations of qualifying transfers until the context
	// is canceled. It blocks; a returned error means the connection was lost
	// and the monitor decides whether to reconnect.
	Subscribe(ctx context.Context, out chan<- Observation) error

	// Close releases the underlying connection. Safe to call more than once.
	Close() error
}

// Depth computes the confirmation depth of a transaction included at
// observedHeight when the chain head is head. Depth is the inclusive block
// count from observedHeight to head, not the number of blocks mined after
// it: a transaction in the head block has depth 1, and a threshold of N is
// met N-1 blocks after inclusion.
func Depth(head, observedHeight uint64) uint64 {
	if head < observedHeight {
		return 0
	}
	return head - observedHeight + 1
}
