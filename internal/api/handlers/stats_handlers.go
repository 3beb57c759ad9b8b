package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/domain/entities"
	"github.com/etrid/flarebridge/internal/domain/repositories"
	"github.com/etrid/flarebridge/internal/domain/services/relay"
)

// StatsHandler serves the pipeline counters dashboard endpoint
type StatsHandler struct {
	deposits     repositories.DepositRepository
	attestations repositories.AttestationRepository
	submitter    *relay.Service
	logger       *zap.Logger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(
	deposits repositories.DepositRepository,
	attestations repositories.AttestationRepository,
	submitter *relay.Service,
	logger *zap.Logger,
) *StatsHandler {
	return &StatsHandler{
		deposits:     deposits,
		attestations: attestations,
		submitter:    submitter,
		logger:       logger,
	}
}

// GetStats returns deposit, attestation, and relay counts grouped by status
// @Summary Bridge pipeline statistics
// @Tags stats
// @Produce json
// @Success 200 {object} entities.BridgeStatsResponse
// @Security BearerAuth
// @Router /stats [get]
func (h *StatsHandler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	deposits, err := h.deposits.CountByStatus(ctx)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	attestations, err := h.attestations.CountByStatus(ctx)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	relays, err := h.submitter.CountByStatus(ctx)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondSuccess(c, entities.BridgeStatsResponse{
		Deposits:     deposits,
		Attestations: attestations,
		Relays:       relays,
		GeneratedAt:  time.Now().UTC(),
	})
}
