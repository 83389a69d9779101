package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/codesense-io/central/internal/keystore"
	"github.com/codesense-io/central/internal/license"
	"github.com/codesense-io/central/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LicenseStore is the license persistence the management API depends on.
type LicenseStore interface {
	CreateLicense(ctx context.Context, client models.Client, limits models.Limits, expiry time.Time) (*models.License, error)
	GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error)
	ListLicenses(ctx context.Context, page, limit int) ([]*models.License, int, error)
	UpdateLicense(ctx context.Context, id uuid.UUID, patch models.UpdateLicenseRequest) (*models.License, error)
	SetLicenseStatus(ctx context.Context, id uuid.UUID, status models.LicenseStatus) (*models.License, error)
}

// LicensesHandler handles license management endpoints.
type LicensesHandler struct {
	store     LicenseStore
	keys      *keystore.KeyStore
	listLimit int
	logger    zerolog.Logger
}

// NewLicensesHandler creates a new LicensesHandler.
func NewLicensesHandler(store LicenseStore, keys *keystore.KeyStore, listLimit int, logger zerolog.Logger) *LicensesHandler {
	if listLimit < 1 {
		listLimit = 10
	}
	return &LicensesHandler{
		store:     store,
		keys:      keys,
		listLimit: listLimit,
		logger:    logger.With().Str("component", "licenses_handler").Logger(),
	}
}

// RegisterRoutes registers license management routes.
func (h *LicensesHandler) RegisterRoutes(r *gin.Engine) {
	licenses := r.Group("/licenses")
	{
		licenses.POST("/create/", h.Create)
		licenses.GET("/", h.List)
		licenses.GET("/:license_id/", h.Get)
		licenses.PATCH("/:license_id/", h.Update)
		licenses.PATCH("/status/:license_id/", h.UpdateStatus)
		licenses.GET("/config/:license_id/", h.ExportConfig)
	}
}

// Create creates a new license.
// POST /licenses/create/
func (h *LicensesHandler) Create(c *gin.Context) {
	var req models.CreateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	lic, err := h.store.CreateLicense(c.Request.Context(), req.Client, req.Limits, req.Expiry)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info().
		Str("license_id", lic.ID.String()).
		Str("client", lic.Client.Name).
		Msg("license created")

	c.JSON(http.StatusCreated, lic)
}

// List returns one page of licenses.
// GET /licenses/?page=1&limit=10
func (h *LicensesHandler) List(c *gin.Context) {
	page, err1 := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, err2 := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(h.listLimit)))
	if err1 != nil || err2 != nil || page < 1 || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pagination parameters"})
		return
	}

	licenses, total, err := h.store.ListLicenses(c.Request.Context(), page, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if licenses == nil {
		licenses = []*models.License{}
	}

	c.JSON(http.StatusOK, models.LicenseList{
		Licenses: licenses,
		Pagination: models.Pagination{
			Total: total,
			Page:  page,
			Limit: limit,
			Pages: (total + limit - 1) / limit,
		},
	})
}

// Get returns a single license.
// GET /licenses/:license_id/
func (h *LicensesHandler) Get(c *gin.Context) {
	id, ok := h.licenseID(c)
	if !ok {
		return
	}

	lic, err := h.store.GetLicense(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, lic)
}

// Update applies a partial update to a license.
// PATCH /licenses/:license_id/
func (h *LicensesHandler) Update(c *gin.Context) {
	id, ok := h.licenseID(c)
	if !ok {
		return
	}

	var patch models.UpdateLicenseRequest
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	lic, err := h.store.UpdateLicense(c.Request.Context(), id, patch)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, lic)
}

// UpdateStatus transitions a license's status.
// PATCH /licenses/status/:license_id/
func (h *LicensesHandler) UpdateStatus(c *gin.Context) {
	id, ok := h.licenseID(c)
	if !ok {
		return
	}

	var req models.UpdateLicenseStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid status, must be one of: active, revoked, expired",
		})
		return
	}

	lic, err := h.store.SetLicenseStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info().
		Str("license_id", lic.ID.String()).
		Str("status", string(lic.Status)).
		Msg("license status updated")

	c.JSON(http.StatusOK, lic)
}

// ExportConfig returns the signed license-config bundle as a download.
// GET /licenses/config/:license_id/
func (h *LicensesHandler) ExportConfig(c *gin.Context) {
	id, ok := h.licenseID(c)
	if !ok {
		return
	}

	lic, err := h.store.GetLicense(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	cfg, err := license.ExportConfig(lic, h.keys)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	body, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "license_"+id.String()+".json"))
	c.Data(http.StatusOK, "application/octet-stream", body)
}

func (h *LicensesHandler) licenseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("license_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid license_id"})
		return uuid.Nil, false
	}
	return id, true
}
