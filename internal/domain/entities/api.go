package entities

import "time"

// ErrorResponse is the standard error body returned by every endpoint
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SubmitSignatureRequest carries one attester signature for a message hash.
// Message is the hex-encoded canonical message body and is required the
// first time a hash is seen; later submissions may omit it.
type SubmitSignatureRequest struct {
	AttesterID string `json:"attester_id" validate:"required"`
	Signature  string `json:"signature" validate:"required,hexadecimal"`
	Message    string `json:"message,omitempty" validate:"omitempty,hexadecimal"`
}

// SubmitSignatureResponse reports aggregation progress after a signature
// submission, including whether this signature crossed the threshold.
type SubmitSignatureResponse struct {
	MessageHash    string            `json:"message_hash"`
	Status         AttestationStatus `json:"status"`
	SignatureCount int               `json:"signature_count"`
	Threshold      int               `json:"threshold"`
	Accepted       bool              `json:"accepted"`
}

// ReloadAttestersRequest swaps the authorized attester set and threshold
type ReloadAttestersRequest struct {
	Threshold int                     `json:"threshold" validate:"required,min=1"`
	Attesters []AttesterConfigPayload `json:"attesters" validate:"required,min=1,dive"`
}

// AttesterConfigPayload is one attester identity in a reload request
type AttesterConfigPayload struct {
	ID        string `json:"id" validate:"required"`
	PublicKey string `json:"public_key" validate:"required,hexadecimal"`
}

// AttesterSetResponse describes the active signing policy
type AttesterSetResponse struct {
	Threshold int      `json:"threshold"`
	Attesters []string `json:"attesters"`
}

// DepositListResponse wraps a deposit page
type DepositListResponse struct {
	Deposits []*Deposit `json:"deposits"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}

// AttestationListResponse wraps an attestation page
type AttestationListResponse struct {
	Attestations []*Attestation `json:"attestations"`
	Limit        int            `json:"limit"`
	Offset       int            `json:"offset"`
}

// RelayJobListResponse wraps a relay job page
type RelayJobListResponse struct {
	Jobs   []*RelayJob `json:"jobs"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// BridgeStatsResponse aggregates pipeline counters by status
type BridgeStatsResponse struct {
	Deposits     map[DepositStatus]int64     `json:"deposits"`
	Attestations map[AttestationStatus]int64 `json:"attestations"`
	Relays       map[RelayStatus]int64       `json:"relays"`
	GeneratedAt  time.Time                   `json:"generated_at"`
}

// AuditLogListResponse wraps an audit trail page
type AuditLogListResponse struct {
	Logs   []*AuditLog `json:"logs"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}
