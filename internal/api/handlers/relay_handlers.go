package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/domain/entities"
	"github.com/etrid/flarebridge/internal/domain/services/relay"
)

// RelayHandler serves relay job inspection and synchronous submission
type RelayHandler struct {
	submitter *relay.Service
	logger    *zap.Logger
}

// NewRelayHandler creates a new relay handler
func NewRelayHandler(submitter *relay.Service, logger *zap.Logger) *RelayHandler {
	return &RelayHandler{submitter: submitter, logger: logger}
}

// SubmitRelay synchronously relays a ready attestation
// @Summary Submit a relay
// @Description Drives the relay job for the message hash to completion in the calling request. If a relay is already in flight the prior outcome is reported without a second dispatch.
// @Tags relays
// @Produce json
// @Param messageHash path string true "Canonical message hash"
// @Success 200 {object} entities.RelayResult
// @Failure 400 {object} entities.ErrorResponse
// @Failure 404 {object} entities.ErrorResponse
// @Failure 503 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /relays/{messageHash}/submit [post]
func (h *RelayHandler) SubmitRelay(c *gin.Context) {
	result, err := h.submitter.Submit(c.Request.Context(), c.Param("messageHash"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, result)
}

// GetRelayJob returns one relay job
// @Summary Get a relay job
// @Tags relays
// @Produce json
// @Param messageHash path string true "Canonical message hash"
// @Success 200 {object} entities.RelayJob
// @Failure 404 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /relays/{messageHash} [get]
func (h *RelayHandler) GetRelayJob(c *gin.Context) {
	job, err := h.submitter.GetJob(c.Request.Context(), c.Param("messageHash"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, job)
}

// ListRelayJobs returns relay jobs in one status
// @Summary List relay jobs
// @Tags relays
// @Produce json
// @Param status query string true "Status to list (not_submitted, in_flight, finalized, failed)"
// @Param limit query int false "Page size (default 50, max 500)"
// @Param offset query int false "Page offset"
// @Success 200 {object} entities.RelayJobListResponse
// @Failure 400 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /relays [get]
func (h *RelayHandler) ListRelayJobs(c *gin.Context) {
	limit, offset := parsePagination(c)

	status := entities.RelayStatus(c.Query("status"))
	if !status.IsValid() {
		respondBadRequest(c, "status query parameter must be one of not_submitted, in_flight, finalized, failed")
		return
	}

	jobs, err := h.submitter.ListJobs(c.Request.Context(), status, limit, offset)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondSuccess(c, entities.RelayJobListResponse{
		Jobs:   jobs,
		Limit:  limit,
		Offset: offset,
	})
}
