package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DepositStatus represents the lifecycle state of an observed deposit
type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "pending"
	DepositStatusConfirmed DepositStatus = "confirmed"
	DepositStatusEmitted   DepositStatus = "emitted"
)

// ValidDepositStatuses contains all valid deposit statuses
var ValidDepositStatuses = map[DepositStatus]bool{
	DepositStatusPending:   true,
	DepositStatusConfirmed: true,
	DepositStatusEmitted:   true,
}

// ValidDepositTransitions defines allowed status transitions
var ValidDepositTransitions = map[DepositStatus][]DepositStatus{
	DepositStatusPending:   {DepositStatusConfirmed},
	DepositStatusConfirmed: {DepositStatusEmitted},
	DepositStatusEmitted:   {}, // Terminal state
}

// IsValid checks if the status is a valid deposit status
func (s DepositStatus) IsValid() bool {
	return ValidDepositStatuses[s]
}

// CanTransitionTo checks if transition to new status is allowed
func (s DepositStatus) CanTransitionTo(newStatus DepositStatus) bool {
	allowed, exists := ValidDepositTransitions[s]
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

// IsTerminal returns true if this is a terminal state
func (s DepositStatus) IsTerminal() bool {
	return s == DepositStatusEmitted
}

// Deposit is an observed inbound transfer on an external chain. A deposit is
// owned by its originating monitor until emitted, after which it is immutable.
type Deposit struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	Chain              string          `json:"chain" db:"chain"`
	SourceAddress      string          `json:"source_address" db:"source_address"`
	DestinationAccount string          `json:"destination_account" db:"destination_account"`
	Amount             decimal.Decimal `json:"amount" db:"amount"`
	TxReference        string          `json:"tx_reference" db:"tx_reference"`
	ObservedHeight     uint64          `json:"observed_height" db:"observed_height"`
	Confirmations      uint64          `json:"confirmations" db:"confirmations"`
	Status             DepositStatus   `json:"status" db:"status"`
	MessageHash        string          `json:"message_hash,omitempty" db:"message_hash"`
	EmittedAt          *time.Time      `json:"emitted_at,omitempty" db:"emitted_at"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// Validate validates the deposit fields
func (d *Deposit) Validate() error {
	if d.Chain == "" {
		return fmt.Errorf("chain is required")
	}
	if d.TxReference == "" {
		return fmt.Errorf("tx reference is required")
	}
	if d.DestinationAccount == "" {
		return fmt.Errorf("destination account is required")
	}
	if d.Amount.IsNegative() || d.Amount.IsZero() {
		return fmt.Errorf("amount must be positive")
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("invalid deposit status: %s", d.Status)
	}
	return nil
}

// Key returns the dedup identity of the deposit. A (chain, txReference) pair
// is emitted at most once regardless of stream replays.
func (d *Deposit) Key() string {
	return DepositKey(d.Chain, d.TxReference)
}

// DepositKey builds the dedup identity for a chain and transaction reference
func DepositKey(chain, txReference string) string {
	return chain + ":" + txReference
}

// ObserveConfirmations updates the confirmation count, enforcing that the
// value never decreases across successive observations.
func (d *Deposit) ObserveConfirmations(confirmations uint64) {
	if confirmations > d.Confirmations {
		d.Confirmations = confirmations
	}
}

// MarkConfirmed transitions the deposit to confirmed
func (d *Deposit) MarkConfirmed() error {
	if d.Status == DepositStatusConfirmed {
		return nil
	}
	if !d.Status.CanTransitionTo(DepositStatusConfirmed) {
		return fmt.Errorf("invalid status transition from %s to %s", d.Status, DepositStatusConfirmed)
	}
	d.Status = DepositStatusConfirmed
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkEmitted transitions the deposit to its terminal emitted state and
// records the message hash derived from it.
func (d *Deposit) MarkEmitted(messageHash string) error {
	if !d.Status.CanTransitionTo(DepositStatusEmitted) {
		return fmt.Errorf("invalid status transition from %s to %s", d.Status, DepositStatusEmitted)
	}
	now := time.Now().UTC()
	d.Status = DepositStatusEmitted
	d.MessageHash = messageHash
	d.EmittedAt = &now
	d.UpdatedAt = now
	return nil
}
