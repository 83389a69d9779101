package handlers

import (
	"errors"
	"net/http"

	"github.com/codesense-io/central/internal/attest"
	"github.com/codesense-io/central/internal/db"
	"github.com/codesense-io/central/internal/keystore"
	"github.com/codesense-io/central/internal/token"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// respondError maps a domain error to its HTTP status and writes the
// JSON error body. Unrecognized errors are treated as storage failures:
// logged server-side and surfaced as a retriable 503.
func respondError(c *gin.Context, logger zerolog.Logger, err error) {
	status, message := classify(err)
	if status == http.StatusServiceUnavailable {
		logger.Error().Err(err).
			Str("path", c.Request.URL.Path).
			Msg("storage layer failure")
		message = "storage unavailable"
	}
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).
			Str("path", c.Request.URL.Path).
			Msg("key material unavailable")
	}
	c.JSON(status, gin.H{"error": message})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, db.ErrValidationFailed),
		errors.Is(err, attest.ErrKeyMalformed):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, attest.ErrLicenseInvalid),
		errors.Is(err, db.ErrLicenseNotFound),
		errors.Is(err, db.ErrLocalNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, db.ErrLicenseInactive),
		errors.Is(err, db.ErrLicenseExpired),
		errors.Is(err, db.ErrLimitExhausted),
		errors.Is(err, attest.ErrTokenMismatch),
		errors.Is(err, attest.ErrNonceInvalid),
		errors.Is(err, attest.ErrSignatureInvalid):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, token.ErrTokenExpired),
		errors.Is(err, token.ErrTokenInvalid),
		errors.Is(err, token.ErrTokenMalformed):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, keystore.ErrKeyMaterialMissing):
		return http.StatusInternalServerError, err.Error()
	default:
		return http.StatusServiceUnavailable, err.Error()
	}
}
