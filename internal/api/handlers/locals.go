package handlers

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/codesense-io/central/internal/attest"
	"github.com/codesense-io/central/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LocalDetailStore is the read-side persistence for the local detail view.
type LocalDetailStore interface {
	GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error)
	GetLocalByLicense(ctx context.Context, licenseID uuid.UUID) (*models.Local, error)
}

// LocalsHandler handles the attestation endpoints called by local servers.
type LocalsHandler struct {
	engine *attest.Engine
	store  LocalDetailStore
	logger zerolog.Logger
}

// NewLocalsHandler creates a new LocalsHandler.
func NewLocalsHandler(engine *attest.Engine, store LocalDetailStore, logger zerolog.Logger) *LocalsHandler {
	return &LocalsHandler{
		engine: engine,
		store:  store,
		logger: logger.With().Str("component", "locals_handler").Logger(),
	}
}

// RegisterRoutes registers the attestation routes.
func (h *LocalsHandler) RegisterRoutes(r *gin.Engine) {
	local := r.Group("/local")
	{
		local.POST("/provision/", h.Provision)
		local.POST("/challenge/", h.RequestChallenge)
		local.POST("/assertion/", h.SubmitAssertion)
		// Kept as an alias of /assertion/ for local-server compatibility.
		local.POST("/update-usage/", h.SubmitAssertion)
		local.GET("/license/:license_id/", h.LocalDetails)
	}
}

// Provision registers a local server under a license.
// POST /local/provision/
func (h *LocalsHandler) Provision(c *gin.Context) {
	var req models.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	licenseID, err := uuid.Parse(req.LicenseID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid license_id"})
		return
	}

	resp, err := h.engine.Provision(c.Request.Context(), licenseID, req.LocalPubkey, req.MachineUUID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// RequestChallenge issues a fresh challenge nonce to a provisioned local.
// POST /local/challenge/
func (h *LocalsHandler) RequestChallenge(c *gin.Context) {
	var req models.ChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required fields"})
		return
	}

	licenseID, err := uuid.Parse(req.LicenseID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid license_id"})
		return
	}

	n, err := h.engine.RequestChallenge(c.Request.Context(), licenseID, req.LocalID, req.ProvisioningJWT)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, models.ChallengeResponse{Nonce: n})
}

// SubmitAssertion verifies a signed nonce, meters usage, and issues an
// assertion token.
// POST /local/assertion/
func (h *LocalsHandler) SubmitAssertion(c *gin.Context) {
	var req models.AssertionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required fields"})
		return
	}

	licenseID, err := uuid.Parse(req.LicenseID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid license_id"})
		return
	}

	resp, err := h.engine.SubmitAssertion(c.Request.Context(), licenseID, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// LocalDetails returns the license's quota consumption and its local.
// GET /local/license/:license_id/
func (h *LocalsHandler) LocalDetails(c *gin.Context) {
	licenseID, err := uuid.Parse(c.Param("license_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid license_id"})
		return
	}

	lic, err := h.store.GetLicense(c.Request.Context(), licenseID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	local, err := h.store.GetLocalByLicense(c.Request.Context(), licenseID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	daysLeft := int(time.Until(lic.Expiry).Hours() / 24)

	c.JSON(http.StatusOK, models.LocalDetails{
		Client:     lic.Client,
		Status:     lic.Status,
		ExpiryDate: lic.Expiry.UTC().Format("2006-01-02"),
		DaysLeft:   daysLeft,
		Scans:      quotaDetail(lic.Usage.Scans, lic.Limits.Scans),
		Users:      quotaDetail(lic.Usage.Users, lic.Limits.Users),
		Local:      local,
	})
}

func quotaDetail(used, limit int) models.QuotaDetail {
	d := models.QuotaDetail{Used: used, Limit: limit}
	if limit > 0 {
		d.Percentage = math.Round(float64(used)/float64(limit)*10000) / 100
	}
	return d
}
