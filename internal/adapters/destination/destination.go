// Package destination defines the contract between the relay submitter
// and destination chain dispatchers. The submitter owns nonce leasing,
// retries, and persistence; dispatchers translate an attested message
// into one chain-specific transaction and block until it finalizes.
package destination

import (
	"context"
	"time"
)

// Request carries one attested message to submit
type Request struct {
	MessageHash string
	Message     []byte
	// Signatures is the concatenation of 65-byte attester signatures.
	Signatures []byte
	// Nonce is the signer account nonce leased by the caller.
	Nonce uint64
}

// Receipt reports a finalized submission
type Receipt struct {
	TxReference string
	FinalizedAt time.Time
}

// Dispatcher submits attested messages to one destination domain.
//
// Dispatch errors are classified: deterministic rejections come back as
// domain errors that fail the relay permanently, everything else is
// wrapped as a transient dispatch error and the caller may retry with a
// fresh nonce.
type Dispatcher interface {
	// Domain returns the destination domain identifier.
	Domain() uint32

	// SignerAccount returns the relayer identity on this destination.
	SignerAccount() string

	// PendingNonce reads the signer's next usable account nonce.
	PendingNonce(ctx context.Context) (uint64, error)

	// AlreadyRelayed reports whether the destination has already
	// executed the message. The destination is the source of truth for
	// replay protection.
	AlreadyRelayed(ctx context.Context, messageHash string) (bool, error)

	// Dispatch submits the message and blocks until the transaction
	// finalizes or fails.
	Dispatch(ctx context.Context, req Request) (*Receipt, error)

	Close() error
}
