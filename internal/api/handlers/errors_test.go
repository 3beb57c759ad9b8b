package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/etrid/flarebridge/internal/domain/errors"
)

func TestRespondDomainErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"already signed is a no-op", apperrors.AlreadySignedError("a1"), http.StatusOK},
		{"validation", apperrors.ValidationError("field", "bad"), http.StatusBadRequest},
		{"unknown attester", apperrors.UnknownAttesterError("ghost"), http.StatusUnauthorized},
		{"invalid signature", apperrors.InvalidSignatureError("a1"), http.StatusUnauthorized},
		{"not found", apperrors.NotFoundError("attestation"), http.StatusNotFound},
		{"conflict", apperrors.ConflictError("deposit", "exists"), http.StatusConflict},
		{"terminal state", apperrors.TerminalStateError("attestation", "expired"), http.StatusConflict},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			respondDomainError(c, tc.err)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestRespondDomainErrorMasksInternalCause(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	respondDomainError(c, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}
