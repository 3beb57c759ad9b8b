package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/domain/entities"
	"github.com/etrid/flarebridge/internal/domain/repositories"
	"github.com/etrid/flarebridge/internal/domain/services/attestation"
	"github.com/etrid/flarebridge/internal/domain/services/audit"
	"github.com/etrid/flarebridge/internal/domain/services/monitor"
	"github.com/etrid/flarebridge/internal/domain/services/relay"
)

// AdminHandler serves the operator endpoints. Every mutation lands in the
// audit trail with the authenticated actor.
type AdminHandler struct {
	attestations *attestation.Service
	submitter    *relay.Service
	monitors     *monitor.Registry
	audit        *audit.Service
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	attestations *attestation.Service,
	submitter *relay.Service,
	monitors *monitor.Registry,
	auditService *audit.Service,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		attestations: attestations,
		submitter:    submitter,
		monitors:     monitors,
		audit:        auditService,
		validator:    validator.New(),
		logger:       logger,
	}
}

// RequeueRelay puts a failed relay job back in the queue
// @Summary Requeue a failed relay job
// @Description Resets a failed relay job to queued with a fresh attempt budget. Finalized jobs cannot be requeued.
// @Tags admin
// @Produce json
// @Param messageHash path string true "Canonical message hash"
// @Success 200 {object} entities.RelayJob
// @Failure 400 {object} entities.ErrorResponse
// @Failure 404 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /admin/relays/{messageHash}/requeue [post]
func (h *AdminHandler) RequeueRelay(c *gin.Context) {
	messageHash := c.Param("messageHash")
	actor := getActor(c)

	previous, err := h.submitter.GetJob(c.Request.Context(), messageHash)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	previousAttempts := previous.AttemptCount

	job, err := h.submitter.Requeue(c.Request.Context(), messageHash)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	if err := h.audit.LogRequeue(c.Request.Context(), actor, job.MessageHash, previousAttempts); err != nil {
		h.logger.Warn("failed to record requeue audit entry",
			zap.String("message_hash", job.MessageHash),
			zap.Error(err))
	}

	respondSuccess(c, job)
}

// ForceExpireAttestation expires an attestation on operator request
// @Summary Force-expire an attestation
// @Description Moves a pending or ready attestation to expired. Late signatures meeting the threshold can still revive it.
// @Tags admin
// @Produce json
// @Param messageHash path string true "Canonical message hash"
// @Success 200 {object} entities.Attestation
// @Failure 404 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /admin/attestations/{messageHash}/expire [post]
func (h *AdminHandler) ForceExpireAttestation(c *gin.Context) {
	messageHash := c.Param("messageHash")
	actor := getActor(c)

	previous, err := h.attestations.Get(c.Request.Context(), messageHash)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	previousStatus := previous.Status

	att, err := h.attestations.ForceExpire(c.Request.Context(), messageHash)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	if err := h.audit.LogForceExpire(c.Request.Context(), actor, att.MessageHash, previousStatus); err != nil {
		h.logger.Warn("failed to record force-expire audit entry",
			zap.String("message_hash", att.MessageHash),
			zap.Error(err))
	}

	respondSuccess(c, att)
}

// ReloadAttesters swaps the authorized attester set
// @Summary Reload the attester set
// @Description Atomically replaces the attester registry and threshold. In-flight verifications finish against the old set.
// @Tags admin
// @Accept json
// @Produce json
// @Param request body entities.ReloadAttestersRequest true "New attester set"
// @Success 200 {object} entities.AttesterSetResponse
// @Failure 400 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /admin/attesters/reload [post]
func (h *AdminHandler) ReloadAttesters(c *gin.Context) {
	var req entities.ReloadAttestersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	attesters := make([]attestation.Attester, 0, len(req.Attesters))
	for _, a := range req.Attesters {
		attesters = append(attesters, attestation.Attester{ID: a.ID, PublicKey: a.PublicKey})
	}

	if err := h.attestations.ReloadAttesters(attesters, req.Threshold); err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	actor := getActor(c)
	if err := h.audit.LogReloadAttesters(c.Request.Context(), actor, len(attesters), req.Threshold); err != nil {
		h.logger.Warn("failed to record attester reload audit entry", zap.Error(err))
	}

	respondSuccess(c, entities.AttesterSetResponse{
		Threshold: h.attestations.Threshold(),
		Attesters: h.attestations.AttesterIDs(),
	})
}

// PauseMonitor suspends deposit processing for one chain
// @Summary Pause a chain monitor
// @Description Stops observation intake and confirmation passes for the chain. The subscription stays connected.
// @Tags admin
// @Produce json
// @Param chain path string true "Chain name"
// @Success 200 {object} entities.MonitorHealth
// @Failure 404 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /admin/monitors/{chain}/pause [post]
func (h *AdminHandler) PauseMonitor(c *gin.Context) {
	chain := c.Param("chain")
	actor := getActor(c)

	if err := h.monitors.Pause(chain); err != nil {
		respondDomainError(c, err)
		return
	}

	if err := h.audit.LogMonitorPause(c.Request.Context(), actor, chain); err != nil {
		h.logger.Warn("failed to record monitor pause audit entry",
			zap.String("chain", chain),
			zap.Error(err))
	}

	h.respondMonitorHealth(c, chain)
}

// ResumeMonitor resumes deposit processing for one chain
// @Summary Resume a chain monitor
// @Tags admin
// @Produce json
// @Param chain path string true "Chain name"
// @Success 200 {object} entities.MonitorHealth
// @Failure 404 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /admin/monitors/{chain}/resume [post]
func (h *AdminHandler) ResumeMonitor(c *gin.Context) {
	chain := c.Param("chain")
	actor := getActor(c)

	if err := h.monitors.Resume(chain); err != nil {
		respondDomainError(c, err)
		return
	}

	if err := h.audit.LogMonitorResume(c.Request.Context(), actor, chain); err != nil {
		h.logger.Warn("failed to record monitor resume audit entry",
			zap.String("chain", chain),
			zap.Error(err))
	}

	h.respondMonitorHealth(c, chain)
}

func (h *AdminHandler) respondMonitorHealth(c *gin.Context, chain string) {
	m, err := h.monitors.Get(chain)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, m.GetStatus())
}

// ListAuditLogs returns the operator audit trail
// @Summary List audit logs
// @Tags admin
// @Produce json
// @Param actor query string false "Filter by actor"
// @Param action query string false "Filter by action"
// @Param resource_key query string false "Filter by resource key (message hash or chain)"
// @Param start_date query string false "Earliest entry (RFC3339)"
// @Param end_date query string false "Latest entry (RFC3339)"
// @Param limit query int false "Page size (default 50, max 500)"
// @Param offset query int false "Page offset"
// @Success 200 {object} entities.AuditLogListResponse
// @Failure 400 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /admin/audit-logs [get]
func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	limit, offset := parsePagination(c)
	filter := repositories.AuditLogFilter{Limit: limit, Offset: offset}

	if actor := c.Query("actor"); actor != "" {
		filter.Actor = &actor
	}
	if action := c.Query("action"); action != "" {
		parsed := entities.AuditAction(action)
		filter.Action = &parsed
	}
	if key := c.Query("resource_key"); key != "" {
		filter.ResourceKey = &key
	}
	if raw := c.Query("start_date"); raw != "" {
		start, err := parseTime(raw)
		if err != nil {
			respondBadRequest(c, "start_date must be RFC3339")
			return
		}
		filter.StartDate = &start
	}
	if raw := c.Query("end_date"); raw != "" {
		end, err := parseTime(raw)
		if err != nil {
			respondBadRequest(c, "end_date must be RFC3339")
			return
		}
		filter.EndDate = &end
	}

	logs, total, err := h.audit.List(c.Request.Context(), filter)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondSuccess(c, entities.AuditLogListResponse{
		Logs:   logs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}
