package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/domain/entities"
	"github.com/etrid/flarebridge/internal/domain/repositories"
)

// Context keys for audit data
type contextKey string

const (
	ContextKeyIPAddress contextKey = "audit_ip_address"
	ContextKeyUserAgent contextKey = "audit_user_agent"
	ContextKeyActor     contextKey = "audit_actor"
)

type Service struct {
	repo   repositories.AuditRepository
	logger *zap.Logger
}

func NewService(repo repositories.AuditRepository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Log creates an audit log entry for an operator action
func (s *Service) Log(ctx context.Context, actor string, action entities.AuditAction, resource, resourceKey string, metadata map[string]interface{}) error {
	entry := &entities.AuditLog{
		ID:          uuid.New(),
		Actor:       actor,
		Action:      action,
		Resource:    resource,
		ResourceKey: resourceKey,
		IPAddress:   getStringFromContext(ctx, ContextKeyIPAddress),
		UserAgent:   getStringFromContext(ctx, ContextKeyUserAgent),
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error("failed to create audit log",
			zap.Error(err),
			zap.String("action", string(action)),
			zap.String("actor", actor),
		)
		return err
	}
	return nil
}

// LogRequeue records a relay job requeue
func (s *Service) LogRequeue(ctx context.Context, actor, messageHash string, previousAttempts int) error {
	return s.Log(ctx, actor, entities.AuditActionRequeueRelay, "relay_job", messageHash, map[string]interface{}{
		"previous_attempts": previousAttempts,
	})
}

// LogForceExpire records a forced attestation expiry
func (s *Service) LogForceExpire(ctx context.Context, actor, messageHash string, previousStatus entities.AttestationStatus) error {
	return s.Log(ctx, actor, entities.AuditActionExpireAttestation, "attestation", messageHash, map[string]interface{}{
		"previous_status": string(previousStatus),
	})
}

// LogReloadAttesters records an attester set reload
func (s *Service) LogReloadAttesters(ctx context.Context, actor string, attesterCount, threshold int) error {
	return s.Log(ctx, actor, entities.AuditActionReloadAttesters, "attester_set", "", map[string]interface{}{
		"attesters": attesterCount,
		"threshold": threshold,
	})
}

// LogMonitorPause records a monitor pause
func (s *Service) LogMonitorPause(ctx context.Context, actor, chain string) error {
	return s.Log(ctx, actor, entities.AuditActionPauseMonitor, "monitor", chain, nil)
}

// LogMonitorResume records a monitor resume
func (s *Service) LogMonitorResume(ctx context.Context, actor, chain string) error {
	return s.Log(ctx, actor, entities.AuditActionResumeMonitor, "monitor", chain, nil)
}

// List retrieves audit logs with their total count
func (s *Service) List(ctx context.Context, filter repositories.AuditLogFilter) ([]*entities.AuditLog, int64, error) {
	logs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	count, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	return logs, count, nil
}

// WithAuditContext adds request metadata to the context for later Log calls
func WithAuditContext(ctx context.Context, ipAddress, userAgent, actor string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyIPAddress, ipAddress)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	if actor != "" {
		ctx = context.WithValue(ctx, ContextKeyActor, actor)
	}
	return ctx
}

// ActorFromContext returns the authenticated actor, if any
func ActorFromContext(ctx context.Context) string {
	return getStringFromContext(ctx, ContextKeyActor)
}

func getStringFromContext(ctx context.Context, key contextKey) string {
	if val, ok := ctx.Value(key).(string); ok {
		return val
	}
	return ""
}
