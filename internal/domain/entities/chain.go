package entities

import "fmt"

// ChainFamily classifies an external chain by its finality signal and
// recipient-resolution model. The family selects the adapter implementation;
// per-chain numbers (confirmation depth, endpoints) come from configuration.
type ChainFamily string

const (
	ChainFamilyUTXO   ChainFamily = "utxo"
	ChainFamilyEVM    ChainFamily = "evm"
	ChainFamilyTron   ChainFamily = "tron"
	ChainFamilyXRP    ChainFamily = "xrp"
	ChainFamilySolana ChainFamily = "solana"
)

// ValidChainFamilies contains all supported chain families
var ValidChainFamilies = map[ChainFamily]bool{
	ChainFamilyUTXO:   true,
	ChainFamilyEVM:    true,
	ChainFamilyTron:   true,
	ChainFamilyXRP:    true,
	ChainFamilySolana: true,
}

// DefaultConfirmations holds the per-family confirmation depth used when a
// chain's configuration does not override it.
var DefaultConfirmations = map[ChainFamily]uint64{
	ChainFamilyUTXO:   6,
	ChainFamilyEVM:    12,
	ChainFamilyTron:   19,
	ChainFamilyXRP:    1,
	ChainFamilySolana: 31,
}

// IsValid checks if the family is supported
func (f ChainFamily) IsValid() bool {
	return ValidChainFamilies[f]
}

// RecipientFormat declares how a chain's memo payload encodes the destination
// account. Each chain declares exactly one format in configuration; payloads
// are never format-guessed at runtime.
type RecipientFormat string

const (
	// RecipientFormatRaw32 is the literal 32 account bytes
	RecipientFormatRaw32 RecipientFormat = "raw32"

	// RecipientFormatHex32 is a 32-byte account as 64 hex characters,
	// optionally 0x-prefixed
	RecipientFormatHex32 RecipientFormat = "hex32"

	// RecipientFormatBase58 is a base58-encoded 32-byte account
	// (Solana-style addresses)
	RecipientFormatBase58 RecipientFormat = "base58"

	// RecipientFormatSS58 is a Substrate SS58 address carrying a 32-byte
	// public key with a blake2 checksum
	RecipientFormatSS58 RecipientFormat = "ss58"
)

// ValidRecipientFormats contains all supported recipient formats
var ValidRecipientFormats = map[RecipientFormat]bool{
	RecipientFormatRaw32:  true,
	RecipientFormatHex32:  true,
	RecipientFormatBase58: true,
	RecipientFormatSS58:   true,
}

// IsValid checks if the format is supported
func (f RecipientFormat) IsValid() bool {
	return ValidRecipientFormats[f]
}

// MonitorHealth is the status snapshot a chain monitor reports
type MonitorHealth struct {
	Chain           string      `json:"chain"`
	Family          ChainFamily `json:"family"`
	Running         bool        `json:"running"`
	Paused          bool        `json:"paused"`
	Connected       bool        `json:"connected"`
	LastHeight      uint64      `json:"last_height"`
	EventsProcessed uint64      `json:"events_processed"`
	LastError       string      `json:"last_error,omitempty"`
}

// Validate checks the health snapshot is well formed
func (h *MonitorHealth) Validate() error {
	if h.Chain == "" {
		return fmt.Errorf("chain is required")
	}
	if !h.Family.IsValid() {
		return fmt.Errorf("invalid chain family: %s", h.Family)
	}
	return nil
}
