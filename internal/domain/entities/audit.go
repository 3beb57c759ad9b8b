package entities

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies an operator action recorded in the audit trail
type AuditAction string

const (
	AuditActionRequeueRelay      AuditAction = "relay.requeue"
	AuditActionExpireAttestation AuditAction = "attestation.expire"
	AuditActionReloadAttesters   AuditAction = "attesters.reload"
	AuditActionPauseMonitor      AuditAction = "monitor.pause"
	AuditActionResumeMonitor     AuditAction = "monitor.resume"
)

// AuditLog records one operator action against the bridge control surface
type AuditLog struct {
	ID          uuid.UUID              `json:"id" db:"id"`
	Actor       string                 `json:"actor" db:"actor"`
	Action      AuditAction            `json:"action" db:"action"`
	Resource    string                 `json:"resource" db:"resource"`
	ResourceKey string                 `json:"resource_key" db:"resource_key"`
	IPAddress   string                 `json:"ip_address" db:"ip_address"`
	UserAgent   string                 `json:"user_agent" db:"user_agent"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" db:"-"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
}

// NewAuditLog builds an audit record for an operator action
func NewAuditLog(actor string, action AuditAction, resource, resourceKey string) *AuditLog {
	return &AuditLog{
		ID:          uuid.New(),
		Actor:       actor,
		Action:      action,
		Resource:    resource,
		ResourceKey: resourceKey,
		CreatedAt:   time.Now().UTC(),
	}
}
