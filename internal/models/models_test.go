package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewLocalID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewLocalID()
		assert.Regexp(t, `^LOCAL-[0-9A-F]{6}$`, id)
		seen[id] = true
	}
	// Collisions across 100 draws of a 24-bit space are possible but
	// vanishingly unlikely; most draws must be distinct.
	assert.Greater(t, len(seen), 95)
}

func TestLicenseRemaining(t *testing.T) {
	lic := NewLicense(
		Client{Name: "Acme Corp", ContactEmail: "ops@acme.example"},
		Limits{Scans: 100, Users: 10},
		time.Now().Add(time.Hour),
	)
	lic.Usage = Usage{Scans: 30, Users: 4}

	remaining := lic.Remaining()
	assert.Equal(t, 70, remaining.Scans)
	assert.Equal(t, 6, remaining.Users)
}

func TestLicenseStatusIsValid(t *testing.T) {
	assert.True(t, LicenseStatusActive.IsValid())
	assert.True(t, LicenseStatusRevoked.IsValid())
	assert.True(t, LicenseStatusExpired.IsValid())
	assert.False(t, LicenseStatus("paused").IsValid())
	assert.False(t, LicenseStatus("").IsValid())
}

func TestUsageKindIsValid(t *testing.T) {
	assert.True(t, UsageKindScan.IsValid())
	assert.True(t, UsageKindUser.IsValid())
	assert.False(t, UsageKind("widget").IsValid())
	assert.False(t, UsageKind("").IsValid())
}

func TestNewLicenseDefaults(t *testing.T) {
	expiry := time.Now().Add(24 * time.Hour)
	lic := NewLicense(Client{Name: "Acme Corp"}, Limits{Scans: 1, Users: 1}, expiry)

	assert.Equal(t, LicenseStatusActive, lic.Status)
	assert.Zero(t, lic.Usage.Scans)
	assert.Zero(t, lic.Usage.Users)
	assert.WithinDuration(t, expiry.UTC(), lic.Expiry, time.Second)
}

func TestNewLocalDefaults(t *testing.T) {
	lic := NewLicense(Client{Name: "Acme Corp"}, Limits{Scans: 1, Users: 1}, time.Now().Add(time.Hour))
	local := NewLocal(lic.ID, NewLocalID(), "pem", nil)

	assert.Equal(t, LocalStatusActive, local.Status)
	assert.Equal(t, lic.ID, local.LicenseID)
	assert.Nil(t, local.Nonce)
	assert.Nil(t, local.MachineUUID)
}
