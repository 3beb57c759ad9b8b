package handlers

import (
	"encoding/hex"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/domain/entities"
	apperrors "github.com/etrid/flarebridge/internal/domain/errors"
	"github.com/etrid/flarebridge/internal/domain/repositories"
	"github.com/etrid/flarebridge/internal/domain/services/attestation"
	"github.com/etrid/flarebridge/pkg/auth"
)

// AttestationHandler serves the signature submission and aggregation
// inspection endpoints
type AttestationHandler struct {
	service   *attestation.Service
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAttestationHandler creates a new attestation handler
func NewAttestationHandler(service *attestation.Service, logger *zap.Logger) *AttestationHandler {
	return &AttestationHandler{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
}

// SubmitSignature handles an attester signature submission
// @Summary Submit an attester signature
// @Description Verifies and stores one attester signature over the message hash. The hex message body is required when the attestation does not exist yet.
// @Tags attestations
// @Accept json
// @Produce json
// @Param messageHash path string true "Canonical message hash (0x-prefixed hex)"
// @Param request body entities.SubmitSignatureRequest true "Signature submission"
// @Success 201 {object} entities.SubmitSignatureResponse
// @Success 200 {object} entities.SubmitSignatureResponse "Duplicate submission from the same attester; no-op"
// @Failure 400 {object} entities.ErrorResponse
// @Failure 401 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /attestations/{messageHash}/signatures [post]
func (h *AttestationHandler) SubmitSignature(c *gin.Context) {
	messageHash := c.Param("messageHash")

	var req entities.SubmitSignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	// Attesters may only submit under their own identity; admins may proxy
	subject := c.GetString("subject")
	role := c.GetString("role")
	if role == auth.RoleAttester && subject != req.AttesterID {
		respondError(c, 403, ErrCodeForbidden, "token subject does not match attester_id", nil)
		return
	}

	signature, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil {
		respondBadRequest(c, "signature must be hex encoded")
		return
	}

	var message []byte
	if req.Message != "" {
		message, err = hex.DecodeString(strings.TrimPrefix(req.Message, "0x"))
		if err != nil {
			respondBadRequest(c, "message must be hex encoded")
			return
		}
	}

	att, err := h.service.SubmitSignature(c.Request.Context(), messageHash, req.AttesterID, signature, message)
	if err != nil {
		// A repeat submission from the same attester is a no-op: report the
		// current aggregation state instead of an error
		if apperrors.IsAlreadySigned(err) && att != nil {
			respondSuccess(c, entities.SubmitSignatureResponse{
				MessageHash:    att.MessageHash,
				Status:         att.Status,
				SignatureCount: att.SignatureCount(),
				Threshold:      h.service.Threshold(),
				Accepted:       false,
			})
			return
		}
		respondDomainError(c, err)
		return
	}

	respondCreated(c, entities.SubmitSignatureResponse{
		MessageHash:    att.MessageHash,
		Status:         att.Status,
		SignatureCount: att.SignatureCount(),
		Threshold:      h.service.Threshold(),
		Accepted:       true,
	})
}

// GetAttestation returns the full attestation with signatures
// @Summary Get an attestation
// @Tags attestations
// @Produce json
// @Param messageHash path string true "Canonical message hash"
// @Success 200 {object} entities.Attestation
// @Failure 404 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /attestations/{messageHash} [get]
func (h *AttestationHandler) GetAttestation(c *gin.Context) {
	att, err := h.service.Get(c.Request.Context(), c.Param("messageHash"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, att)
}

// GetAttestationStatus returns aggregation progress for one message
// @Summary Get attestation status
// @Description Returns the signature count, threshold, and which attesters have signed.
// @Tags attestations
// @Produce json
// @Param messageHash path string true "Canonical message hash"
// @Success 200 {object} attestation.Status
// @Failure 404 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /attestations/{messageHash}/status [get]
func (h *AttestationHandler) GetAttestationStatus(c *gin.Context) {
	status, err := h.service.GetStatus(c.Request.Context(), c.Param("messageHash"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, status)
}

// ListAttestations returns attestations filtered by status
// @Summary List attestations
// @Tags attestations
// @Produce json
// @Param status query string false "Filter by status (pending, ready, relayed, expired)"
// @Param limit query int false "Page size (default 50, max 500)"
// @Param offset query int false "Page offset"
// @Success 200 {object} entities.AttestationListResponse
// @Failure 400 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /attestations [get]
func (h *AttestationHandler) ListAttestations(c *gin.Context) {
	limit, offset := parsePagination(c)

	filter := repositories.AttestationFilter{Limit: limit, Offset: offset}
	if status := c.Query("status"); status != "" {
		parsed := entities.AttestationStatus(status)
		if !parsed.IsValid() {
			respondBadRequest(c, "unknown attestation status", map[string]interface{}{"status": status})
			return
		}
		filter.Status = parsed
	}

	attestations, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondSuccess(c, entities.AttestationListResponse{
		Attestations: attestations,
		Limit:        limit,
		Offset:       offset,
	})
}

// GetAttesterSet returns the active signing policy
// @Summary Get the attester set
// @Tags attestations
// @Produce json
// @Success 200 {object} entities.AttesterSetResponse
// @Security BearerAuth
// @Router /attesters [get]
func (h *AttestationHandler) GetAttesterSet(c *gin.Context) {
	respondSuccess(c, entities.AttesterSetResponse{
		Threshold: h.service.Threshold(),
		Attesters: h.service.AttesterIDs(),
	})
}
