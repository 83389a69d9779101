// Package models defines the domain types shared across the central server.
package models

import (
	"time"

	"github.com/google/uuid"
)

// LicenseStatus represents the lifecycle state of a license.
type LicenseStatus string

const (
	// LicenseStatusActive allows provisioning and usage accounting.
	LicenseStatusActive LicenseStatus = "active"
	// LicenseStatusRevoked permanently disables the license.
	LicenseStatusRevoked LicenseStatus = "revoked"
	// LicenseStatusExpired marks a license whose expiry has passed.
	LicenseStatusExpired LicenseStatus = "expired"
)

// ValidLicenseStatuses returns all recognized license statuses.
func ValidLicenseStatuses() []LicenseStatus {
	return []LicenseStatus{LicenseStatusActive, LicenseStatusRevoked, LicenseStatusExpired}
}

// IsValid checks if the status is a recognized value.
func (s LicenseStatus) IsValid() bool {
	for _, valid := range ValidLicenseStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

// UsageKind identifies which usage counter a billable event consumes.
type UsageKind string

const (
	// UsageKindScan meters one scan execution.
	UsageKindScan UsageKind = "scan"
	// UsageKindUser meters one user seat activation.
	UsageKindUser UsageKind = "user"
)

// IsValid checks if the usage kind is a recognized value.
func (k UsageKind) IsValid() bool {
	return k == UsageKindScan || k == UsageKindUser
}

// Client identifies the customer a license was issued to.
type Client struct {
	Name         string `json:"name"`
	ContactEmail string `json:"contact_email"`
}

// Limits holds the hard quotas of a license.
type Limits struct {
	Scans int `json:"scans"`
	Users int `json:"users"`
}

// Usage holds the consumed portion of a license's quotas.
// Counters only move through the store's conditional updates; the single
// decrement path is the compensation after a lost nonce race.
type Usage struct {
	Scans int `json:"scans"`
	Users int `json:"users"`
}

// License is an authorization record issued to a client with scan/user
// quotas and a hard expiry. The central server is the single source of
// truth for its state.
type License struct {
	ID        uuid.UUID     `json:"id"`
	Client    Client        `json:"client"`
	Limits    Limits        `json:"limits"`
	Usage     Usage         `json:"usage"`
	Expiry    time.Time     `json:"expiry"`
	Status    LicenseStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Remaining returns the unconsumed portion of each quota.
func (l *License) Remaining() Usage {
	return Usage{
		Scans: l.Limits.Scans - l.Usage.Scans,
		Users: l.Limits.Users - l.Usage.Users,
	}
}

// NewLicense creates an active License with zeroed usage counters.
func NewLicense(client Client, limits Limits, expiry time.Time) *License {
	now := time.Now().UTC()
	return &License{
		ID:        uuid.New(),
		Client:    client,
		Limits:    limits,
		Usage:     Usage{},
		Expiry:    expiry.UTC(),
		Status:    LicenseStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CreateLicenseRequest is the request body for creating a license.
type CreateLicenseRequest struct {
	Client Client    `json:"client" binding:"required"`
	Limits Limits    `json:"limits" binding:"required"`
	Expiry time.Time `json:"expiry" binding:"required"`
}

// UpdateLicenseRequest is the request body for a partial license update.
// Nil fields are left unchanged.
type UpdateLicenseRequest struct {
	Client *Client        `json:"client,omitempty"`
	Limits *Limits        `json:"limits,omitempty"`
	Expiry *time.Time     `json:"expiry,omitempty"`
	Status *LicenseStatus `json:"status,omitempty"`
}

// UpdateLicenseStatusRequest is the request body for a status transition.
type UpdateLicenseStatusRequest struct {
	Status LicenseStatus `json:"status" binding:"required"`
}

// Pagination describes a page of a list response.
type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

// LicenseList is the paginated license list response.
type LicenseList struct {
	Licenses   []*License `json:"licenses"`
	Pagination Pagination `json:"pagination"`
}
