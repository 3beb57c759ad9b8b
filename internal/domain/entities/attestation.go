package entities

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// AttestationStatus represents the lifecycle state of an attestation
type AttestationStatus string

const (
	AttestationStatusPending AttestationStatus = "pending"
	AttestationStatusReady   AttestationStatus = "ready"
	AttestationStatusRelayed AttestationStatus = "relayed"
	AttestationStatusExpired AttestationStatus = "expired"
)

// ValidAttestationStatuses contains all valid attestation statuses
var ValidAttestationStatuses = map[AttestationStatus]bool{
	AttestationStatusPending: true,
	AttestationStatusReady:   true,
	AttestationStatusRelayed: true,
	AttestationStatusExpired: true,
}

// ValidAttestationTransitions defines allowed status transitions. Expired
// attestations may still collect late signatures and become ready again, but
// relayed is terminal.
var ValidAttestationTransitions = map[AttestationStatus][]AttestationStatus{
	AttestationStatusPending: {AttestationStatusReady, AttestationStatusExpired},
	AttestationStatusReady:   {AttestationStatusRelayed, AttestationStatusExpired},
	AttestationStatusExpired: {AttestationStatusReady},
	AttestationStatusRelayed: {}, // Terminal state
}

// IsValid checks if the status is a valid attestation status
func (s AttestationStatus) IsValid() bool {
	return ValidAttestationStatuses[s]
}

// CanTransitionTo checks if transition to new status is allowed
func (s AttestationStatus) CanTransitionTo(newStatus AttestationStatus) bool {
	allowed, exists := ValidAttestationTransitions[s]
	if !exists {
		return false
	}
	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further mutation is permitted
func (s AttestationStatus) IsTerminal() bool {
	return s == AttestationStatusRelayed
}

// AttesterSignature is one attester's contribution toward an attestation.
// Signatures are 65-byte secp256k1 recoverable signatures over the message hash.
type AttesterSignature struct {
	AttesterID string    `json:"attester_id" db:"attester_id"`
	Signature  []byte    `json:"signature" db:"signature"`
	SignedAt   time.Time `json:"signed_at" db:"signed_at"`
}

// SignatureHex returns the signature as a 0x-prefixed hex string
func (s AttesterSignature) SignatureHex() string {
	return "0x" + hex.EncodeToString(s.Signature)
}

// Attestation is a cross-chain message plus the attester signatures vouching
// for it. The message hash is canonical across all attesters.
type Attestation struct {
	MessageHash       string              `json:"message_hash" db:"message_hash"`
	Message           []byte              `json:"message" db:"message"`
	SourceDomain      uint32              `json:"source_domain" db:"source_domain"`
	DestinationDomain uint32              `json:"destination_domain" db:"destination_domain"`
	Nonce             uint64              `json:"nonce" db:"nonce"`
	Signatures        []AttesterSignature `json:"signatures"`
	Status            AttestationStatus   `json:"status" db:"status"`
	CreatedAt         time.Time           `json:"created_at" db:"created_at"`
	ExpiresAt         time.Time           `json:"expires_at" db:"expires_at"`
	RelayedAt         *time.Time          `json:"relayed_at,omitempty" db:"relayed_at"`
}

// Validate validates the attestation fields
func (a *Attestation) Validate() error {
	if !IsMessageHash(a.MessageHash) {
		return fmt.Errorf("message hash must be a 32-byte hex digest")
	}
	if !a.Status.IsValid() {
		return fmt.Errorf("invalid attestation status: %s", a.Status)
	}
	return nil
}

// HasSigned reports whether the attester already contributed a signature
func (a *Attestation) HasSigned(attesterID string) bool {
	for _, sig := range a.Signatures {
		if sig.AttesterID == attesterID {
			return true
		}
	}
	return false
}

// AddSignature appends a signature, deduplicating by attester identity.
// Returns false if the attester already signed. Mutation of a relayed
// attestation is refused.
func (a *Attestation) AddSignature(sig AttesterSignature) (bool, error) {
	if a.Status.IsTerminal() {
		return false, fmt.Errorf("attestation %s is in terminal state %s", a.MessageHash, a.Status)
	}
	if a.HasSigned(sig.AttesterID) {
		return false, nil
	}
	a.Signatures = append(a.Signatures, sig)
	return true, nil
}

// SignatureCount returns the number of distinct attester signatures
func (a *Attestation) SignatureCount() int {
	return len(a.Signatures)
}

// AttesterList returns the identities that have signed, in arrival order
func (a *Attestation) AttesterList() []string {
	ids := make([]string, 0, len(a.Signatures))
	for _, sig := range a.Signatures {
		ids = append(ids, sig.AttesterID)
	}
	return ids
}

// MeetsThreshold reports whether the signature count satisfies M-of-N
func (a *Attestation) MeetsThreshold(threshold int) bool {
	return len(a.Signatures) >= threshold
}

// IsExpired reports whether the attestation has passed its expiry horizon
func (a *Attestation) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// SignatureBlob concatenates all signatures in arrival order for destination
// submission (count * 65 bytes).
func (a *Attestation) SignatureBlob() []byte {
	blob := make([]byte, 0, len(a.Signatures)*65)
	for _, sig := range a.Signatures {
		blob = append(blob, sig.Signature...)
	}
	return blob
}

// IsMessageHash reports whether s is a 0x-prefixed 32-byte hex digest
func IsMessageHash(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

// NormalizeMessageHash lowercases a message hash and ensures the 0x prefix
func NormalizeMessageHash(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return s
}
