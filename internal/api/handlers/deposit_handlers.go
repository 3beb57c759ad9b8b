package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/domain/entities"
	"github.com/etrid/flarebridge/internal/domain/repositories"
)

// DepositHandler serves read access to tracked deposits. Deposits are
// written only by the chain monitors; the API never mutates them.
type DepositHandler struct {
	deposits repositories.DepositRepository
	logger   *zap.Logger
}

// NewDepositHandler creates a new deposit handler
func NewDepositHandler(deposits repositories.DepositRepository, logger *zap.Logger) *DepositHandler {
	return &DepositHandler{deposits: deposits, logger: logger}
}

// ListDeposits returns deposits filtered by chain and status
// @Summary List deposits
// @Tags deposits
// @Produce json
// @Param chain query string false "Filter by source chain"
// @Param status query string false "Filter by status (pending, confirmed, emitted)"
// @Param limit query int false "Page size (default 50, max 500)"
// @Param offset query int false "Page offset"
// @Success 200 {object} entities.DepositListResponse
// @Failure 400 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /deposits [get]
func (h *DepositHandler) ListDeposits(c *gin.Context) {
	limit, offset := parsePagination(c)

	filter := repositories.DepositFilter{
		Chain:  c.Query("chain"),
		Limit:  limit,
		Offset: offset,
	}
	if status := c.Query("status"); status != "" {
		parsed := entities.DepositStatus(status)
		if !parsed.IsValid() {
			respondBadRequest(c, "unknown deposit status", map[string]interface{}{"status": status})
			return
		}
		filter.Status = parsed
	}

	deposits, err := h.deposits.List(c.Request.Context(), filter)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondSuccess(c, entities.DepositListResponse{
		Deposits: deposits,
		Limit:    limit,
		Offset:   offset,
	})
}

// LookupDeposit returns the deposit for a (chain, tx_reference) pair
// @Summary Look up a deposit by source transaction
// @Tags deposits
// @Produce json
// @Param chain query string true "Source chain"
// @Param tx_reference query string true "Source transaction reference"
// @Success 200 {object} entities.Deposit
// @Failure 400 {object} entities.ErrorResponse
// @Failure 404 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /deposits/lookup [get]
func (h *DepositHandler) LookupDeposit(c *gin.Context) {
	chain := c.Query("chain")
	txReference := c.Query("tx_reference")
	if chain == "" || txReference == "" {
		respondBadRequest(c, "chain and tx_reference query parameters are required")
		return
	}

	deposit, err := h.deposits.GetByKey(c.Request.Context(), chain, txReference)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, deposit)
}

// GetDeposit returns one deposit by its identifier
// @Summary Get a deposit
// @Tags deposits
// @Produce json
// @Param id path string true "Deposit ID (UUID)"
// @Success 200 {object} entities.Deposit
// @Failure 400 {object} entities.ErrorResponse
// @Failure 404 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /deposits/{id} [get]
func (h *DepositHandler) GetDeposit(c *gin.Context) {
	id, err := parseUUID(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "deposit id must be a UUID")
		return
	}

	deposit, err := h.deposits.GetByID(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, deposit)
}
