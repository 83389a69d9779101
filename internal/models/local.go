package models

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalStatus represents the lifecycle state of a local server record.
type LocalStatus string

const (
	// LocalStatusActive is the initial state set during provisioning.
	LocalStatusActive LocalStatus = "active"
	// LocalStatusBlocked temporarily disables a local.
	LocalStatusBlocked LocalStatus = "blocked"
	// LocalStatusRevoked permanently disables a local.
	LocalStatusRevoked LocalStatus = "revoked"
)

// ValidLocalStatuses returns all recognized local statuses.
func ValidLocalStatuses() []LocalStatus {
	return []LocalStatus{LocalStatusActive, LocalStatusBlocked, LocalStatusRevoked}
}

// IsValid checks if the status is a recognized value.
func (s LocalStatus) IsValid() bool {
	for _, valid := range ValidLocalStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

// LocalIDPrefix prefixes every human-readable local handle.
const LocalIDPrefix = "LOCAL-"

// NewLocalID derives a handle of the form LOCAL-<6 uppercase hex chars>
// from a fresh random UUID.
func NewLocalID() string {
	u := uuid.New()
	return LocalIDPrefix + strings.ToUpper(hex.EncodeToString(u[:])[:6])
}

// Local is a remote server instance bound to one license and identified
// by its Ed25519 public key. At most one challenge nonce is outstanding
// per local at any instant.
type Local struct {
	ID          uuid.UUID   `json:"id"`
	LicenseID   uuid.UUID   `json:"license_id"`
	LocalID     string      `json:"local_id"`
	PublicKey   string      `json:"public_key"`
	MachineUUID *string     `json:"machine_uuid,omitempty"`
	Status      LocalStatus `json:"status"`
	Nonce       *string     `json:"-"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NewLocal creates an active Local bound to the given license.
func NewLocal(licenseID uuid.UUID, localID, publicKeyPEM string, machineUUID *string) *Local {
	now := time.Now().UTC()
	return &Local{
		ID:          uuid.New(),
		LicenseID:   licenseID,
		LocalID:     localID,
		PublicKey:   publicKeyPEM,
		MachineUUID: machineUUID,
		Status:      LocalStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ProvisionRequest is the request body for POST /local/provision/.
type ProvisionRequest struct {
	LicenseID   string  `json:"license_id" binding:"required"`
	LocalPubkey string  `json:"local_pubkey" binding:"required"`
	MachineUUID *string `json:"machine_uuid,omitempty"`
}

// ProvisionResponse is the provisioning package returned to the local.
type ProvisionResponse struct {
	LocalID         string `json:"local_id"`
	LicenseID       string `json:"license_id"`
	CentralPubkey   string `json:"central_pubkey"`
	ProvisioningJWT string `json:"provisioning_jwt"`
}

// ChallengeRequest is the request body for POST /local/challenge/.
type ChallengeRequest struct {
	LicenseID       string `json:"license_id" binding:"required"`
	LocalID         string `json:"local_id" binding:"required"`
	ProvisioningJWT string `json:"provisioning_jwt" binding:"required"`
}

// ChallengeResponse carries the challenge nonce the local must sign.
type ChallengeResponse struct {
	Nonce string `json:"nonce"`
}

// AssertionRequest is the request body for POST /local/assertion/.
// UsageType is optional; when present it must be "scan" or "user".
type AssertionRequest struct {
	LicenseID       string `json:"license_id" binding:"required"`
	LocalID         string `json:"local_id" binding:"required"`
	ProvisioningJWT string `json:"provisioning_jwt" binding:"required"`
	Nonce           string `json:"nonce" binding:"required"`
	SignedNonce     string `json:"signed_nonce" binding:"required"`
	UsageType       string `json:"usage_type,omitempty"`
}

// AssertionResponse carries the assertion token and the license's
// usage state after accounting.
type AssertionResponse struct {
	AssertionJWT string `json:"assertion_jwt"`
	Usage        Usage  `json:"usage"`
	Remaining    Usage  `json:"remaining"`
}

// QuotaDetail reports one quota's consumption for the local detail view.
type QuotaDetail struct {
	Used       int     `json:"used"`
	Limit      int     `json:"limit"`
	Percentage float64 `json:"percentage"`
}

// LocalDetails is the per-license local detail view returned by
// GET /local/license/:license_id.
type LocalDetails struct {
	Client     Client        `json:"client"`
	Status     LicenseStatus `json:"status"`
	ExpiryDate string        `json:"expiry_date"`
	DaysLeft   int           `json:"days_left"`
	Scans      QuotaDetail   `json:"scans"`
	Users      QuotaDetail   `json:"users"`
	Local      *Local        `json:"local"`
}
