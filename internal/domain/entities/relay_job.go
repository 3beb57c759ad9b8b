package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RelayStatus represents the lifecycle state of a relay job
type RelayStatus string

const (
	RelayStatusNotSubmitted RelayStatus = "not_submitted"
	RelayStatusInFlight     RelayStatus = "in_flight"
	RelayStatusFinalized    RelayStatus = "finalized"
	RelayStatusFailed       RelayStatus = "failed"
)

// ValidRelayStatuses contains all valid relay statuses
var ValidRelayStatuses = map[RelayStatus]bool{
	RelayStatusNotSubmitted: true,
	RelayStatusInFlight:     true,
	RelayStatusFinalized:    true,
	RelayStatusFailed:       true,
}

// ValidRelayTransitions defines allowed status transitions. A failed job may
// be requeued by an operator, which moves it back to not_submitted.
var ValidRelayTransitions = map[RelayStatus][]RelayStatus{
	RelayStatusNotSubmitted: {RelayStatusInFlight},
	RelayStatusInFlight:     {RelayStatusFinalized, RelayStatusFailed, RelayStatusNotSubmitted},
	RelayStatusFailed:       {RelayStatusNotSubmitted},
	RelayStatusFinalized:    {}, // Terminal state
}

// IsValid checks if the status is a valid relay status
func (s RelayStatus) IsValid() bool {
	return ValidRelayStatuses[s]
}

// CanTransitionTo checks if transition to new status is allowed
func (s RelayStatus) CanTransitionTo(newStatus RelayStatus) bool {
	allowed, exists := ValidRelayTransitions[s]
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
func (s RelayStatus) IsTerminal() bool {
	return s == RelayStatusFinalized
}

// RelayJob is one submission of a ready attestation to a destination ledger.
// At most one job per message hash is in flight at any time.
type RelayJob struct {
	ID                uuid.UUID   `json:"id" db:"id"`
	MessageHash       string      `json:"message_hash" db:"message_hash"`
	DestinationDomain uint32      `json:"destination_domain" db:"destination_domain"`
	Account           string      `json:"account" db:"account"`
	Nonce             uint64      `json:"nonce" db:"nonce"`
	AttemptCount      int         `json:"attempt_count" db:"attempt_count"`
	LastError         string      `json:"last_error,omitempty" db:"last_error"`
	Status            RelayStatus `json:"status" db:"status"`
	TxReference       string      `json:"tx_reference,omitempty" db:"tx_reference"`
	FinalizedAt       *time.Time  `json:"finalized_at,omitempty" db:"finalized_at"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" db:"updated_at"`
}

// Validate validates the relay job fields
func (j *RelayJob) Validate() error {
	if !IsMessageHash(j.MessageHash) {
		return fmt.Errorf("message hash must be a 32-byte hex digest")
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("invalid relay status: %s", j.Status)
	}
	if j.AttemptCount < 0 {
		return fmt.Errorf("attempt count cannot be negative")
	}
	return nil
}

// MarkInFlight transitions the job to in_flight with the allocated nonce
func (j *RelayJob) MarkInFlight(account string, nonce uint64) error {
	if !j.Status.CanTransitionTo(RelayStatusInFlight) {
		return fmt.Errorf("invalid status transition from %s to %s", j.Status, RelayStatusInFlight)
	}
	j.Status = RelayStatusInFlight
	j.Account = account
	j.Nonce = nonce
	j.AttemptCount++
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFinalized transitions the job to its terminal finalized state
func (j *RelayJob) MarkFinalized(txReference string) error {
	if !j.Status.CanTransitionTo(RelayStatusFinalized) {
		return fmt.Errorf("invalid status transition from %s to %s", j.Status, RelayStatusFinalized)
	}
	now := time.Now().UTC()
	j.Status = RelayStatusFinalized
	j.TxReference = txReference
	j.FinalizedAt = &now
	j.LastError = ""
	j.UpdatedAt = now
	return nil
}

// MarkFailed records a terminal failure after retries are exhausted
func (j *RelayJob) MarkFailed(lastError string) error {
	if !j.Status.CanTransitionTo(RelayStatusFailed) {
		return fmt.Errorf("invalid status transition from %s to %s", j.Status, RelayStatusFailed)
	}
	j.Status = RelayStatusFailed
	j.LastError = lastError
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Requeue returns a failed or stalled job to not_submitted for another pass
func (j *RelayJob) Requeue() error {
	if !j.Status.CanTransitionTo(RelayStatusNotSubmitted) {
		return fmt.Errorf("invalid status transition from %s to %s", j.Status, RelayStatusNotSubmitted)
	}
	j.Status = RelayStatusNotSubmitted
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// RelayResult is the outcome of one Submit call
type RelayResult struct {
	Success     bool       `json:"success"`
	TxReference string     `json:"tx_reference,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}
