// Package attest orchestrates the license attestation protocol: the
// provisioning handshake, the nonce challenge, and assertion
// verification with usage accounting.
package attest

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codesense-io/central/internal/db"
	"github.com/codesense-io/central/internal/keystore"
	"github.com/codesense-io/central/internal/metrics"
	"github.com/codesense-io/central/internal/models"
	"github.com/codesense-io/central/internal/nonce"
	"github.com/codesense-io/central/internal/token"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrLicenseInvalid indicates the license is absent or not active
	// at provisioning time.
	ErrLicenseInvalid = errors.New("invalid or inactive license")
	// ErrTokenMismatch indicates a provisioning token that verifies but
	// whose claims disagree with the request.
	ErrTokenMismatch = errors.New("provisioning token mismatch")
	// ErrNonceInvalid indicates no matching outstanding nonce.
	ErrNonceInvalid = errors.New("invalid nonce")
	// ErrSignatureInvalid indicates the nonce signature does not verify.
	ErrSignatureInvalid = errors.New("invalid signature")
	// ErrKeyMalformed indicates a public key that cannot be parsed.
	ErrKeyMalformed = errors.New("malformed public key")
)

// LicenseStore is the license persistence the engine depends on.
type LicenseStore interface {
	GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error)
	ConsumeUsage(ctx context.Context, id uuid.UUID, kind models.UsageKind) (*models.License, error)
	ReleaseUsage(ctx context.Context, id uuid.UUID, kind models.UsageKind) error
}

// LocalStore is the local-record persistence the engine depends on.
type LocalStore interface {
	CreateLocal(ctx context.Context, local *models.Local) error
	GetLocalByLocalID(ctx context.Context, localID string) (*models.Local, error)
	SetNonce(ctx context.Context, localID string, licenseID uuid.UUID, nonce string) error
	TakeNonce(ctx context.Context, localID, expected string) (bool, error)
}

// Engine is the attestation protocol orchestrator.
type Engine struct {
	licenses LicenseStore
	locals   LocalStore
	tokens   *token.Service
	keys     *keystore.KeyStore
	logger   zerolog.Logger
}

// NewEngine creates an attestation Engine over the given stores and
// root key material.
func NewEngine(licenses LicenseStore, locals LocalStore, tokens *token.Service, keys *keystore.KeyStore, logger zerolog.Logger) *Engine {
	return &Engine{
		licenses: licenses,
		locals:   locals,
		tokens:   tokens,
		keys:     keys,
		logger:   logger.With().Str("component", "attest").Logger(),
	}
}

// Provision registers a local server under a license: it validates the
// license and the submitted public key, persists the local, and issues
// the provisioning package.
func (e *Engine) Provision(ctx context.Context, licenseID uuid.UUID, pubkeyPEM string, machineUUID *string) (*models.ProvisionResponse, error) {
	lic, err := e.licenses.GetLicense(ctx, licenseID)
	if err != nil {
		if errors.Is(err, db.ErrLicenseNotFound) {
			return nil, ErrLicenseInvalid
		}
		return nil, err
	}
	if lic.Status != models.LicenseStatusActive {
		return nil, ErrLicenseInvalid
	}

	if _, err := keystore.ParsePublicKeyPEM([]byte(pubkeyPEM)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyMalformed, err)
	}

	localID := models.NewLocalID()
	local := models.NewLocal(licenseID, localID, pubkeyPEM, machineUUID)
	if err := e.locals.CreateLocal(ctx, local); err != nil {
		return nil, err
	}

	provisioningJWT, err := e.tokens.IssueProvisioning(localID, licenseID.String())
	if err != nil {
		return nil, err
	}
	centralPubkey, err := e.keys.PublicPEM()
	if err != nil {
		return nil, err
	}

	metrics.ProvisionsTotal.Inc()
	e.logger.Info().
		Str("local_id", localID).
		Str("license_id", licenseID.String()).
		Msg("local provisioned")

	return &models.ProvisionResponse{
		LocalID:         localID,
		LicenseID:       licenseID.String(),
		CentralPubkey:   centralPubkey,
		ProvisioningJWT: provisioningJWT,
	}, nil
}

// RequestChallenge verifies the provisioning token and stores a fresh
// nonce on the local record, overwriting any previous one.
func (e *Engine) RequestChallenge(ctx context.Context, licenseID uuid.UUID, localID, provisioningJWT string) (string, error) {
	if err := e.verifyProvisioningToken(provisioningJWT, localID, licenseID); err != nil {
		return "", err
	}

	n, err := nonce.Random(nonce.DefaultLength)
	if err != nil {
		return "", err
	}
	if err := e.locals.SetNonce(ctx, localID, licenseID, n); err != nil {
		return "", err
	}

	metrics.ChallengesTotal.Inc()
	return n, nil
}

// SubmitAssertion verifies the provisioning token, the outstanding
// nonce, and the detached signature over it; consumes usage when a
// usage type is supplied; clears the nonce; and mints an assertion
// token. Usage is consumed before the nonce is taken, and the
// compensating decrement closes the race where two concurrent clients
// present the same nonce and both pass verification.
func (e *Engine) SubmitAssertion(ctx context.Context, licenseID uuid.UUID, req models.AssertionRequest) (*models.AssertionResponse, error) {
	resp, err := e.submitAssertion(ctx, licenseID, req)
	if err != nil {
		metrics.AssertionsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.AssertionsTotal.WithLabelValues("success").Inc()
	return resp, nil
}

func (e *Engine) submitAssertion(ctx context.Context, licenseID uuid.UUID, req models.AssertionRequest) (*models.AssertionResponse, error) {
	if err := e.verifyProvisioningToken(req.ProvisioningJWT, req.LocalID, licenseID); err != nil {
		return nil, err
	}

	local, err := e.locals.GetLocalByLocalID(ctx, req.LocalID)
	if err != nil {
		return nil, err
	}
	if local.LicenseID != licenseID {
		return nil, fmt.Errorf("%w: license mismatch", db.ErrLocalNotFound)
	}

	if local.Nonce == nil || *local.Nonce != req.Nonce {
		return nil, ErrNonceInvalid
	}

	sig, err := decodeSignedNonce(req.SignedNonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	pub, err := keystore.ParsePublicKeyPEM([]byte(local.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("%w: stored key: %v", ErrKeyMalformed, err)
	}
	if !ed25519.Verify(pub, []byte(req.Nonce), sig) {
		return nil, ErrSignatureInvalid
	}

	// Usage accounting. The conditional update in the store is the
	// atomicity boundary; the engine only classifies and compensates.
	kind := models.UsageKind(req.UsageType)
	consumed := kind.IsValid()

	var lic *models.License
	if consumed {
		lic, err = e.licenses.ConsumeUsage(ctx, licenseID, kind)
		if err != nil {
			return nil, err
		}
		metrics.UsageConsumedTotal.WithLabelValues(string(kind)).Inc()
	} else {
		lic, err = e.licenses.GetLicense(ctx, licenseID)
		if err != nil {
			return nil, err
		}
		if lic.Status != models.LicenseStatusActive {
			return nil, db.ErrLicenseInactive
		}
		if !lic.Expiry.After(time.Now()) {
			return nil, db.ErrLicenseExpired
		}
	}

	took, err := e.locals.TakeNonce(ctx, req.LocalID, req.Nonce)
	if err != nil {
		return nil, err
	}
	if !took {
		// A concurrent request consumed the nonce after our read.
		if consumed {
			if rbErr := e.licenses.ReleaseUsage(ctx, licenseID, kind); rbErr != nil {
				e.logger.Error().Err(rbErr).
					Str("license_id", licenseID.String()).
					Str("kind", string(kind)).
					Msg("failed to release usage after lost nonce race")
			} else {
				lic.Usage = decremented(lic.Usage, kind)
			}
		}
		return nil, ErrNonceInvalid
	}

	assertionJWT, err := e.tokens.IssueAssertion(req.LocalID, licenseID.String())
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("local_id", req.LocalID).
		Str("license_id", licenseID.String()).
		Str("usage_type", req.UsageType).
		Msg("assertion verified")

	return &models.AssertionResponse{
		AssertionJWT: assertionJWT,
		Usage:        lic.Usage,
		Remaining:    lic.Remaining(),
	}, nil
}

// verifyProvisioningToken checks signature, freshness, type, and the
// binding of the token's claims to the request.
func (e *Engine) verifyProvisioningToken(provisioningJWT, localID string, licenseID uuid.UUID) error {
	claims, err := e.tokens.Verify(provisioningJWT)
	if err != nil {
		return err
	}
	if claims.Type != token.TypeProvisioning ||
		claims.LocalID != localID ||
		claims.LicenseID != licenseID.String() {
		return ErrTokenMismatch
	}
	return nil
}

// decodeSignedNonce decodes URL-safe base64 with any padding accepted.
func decodeSignedNonce(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func decremented(u models.Usage, kind models.UsageKind) models.Usage {
	switch kind {
	case models.UsageKindScan:
		if u.Scans > 0 {
			u.Scans--
		}
	case models.UsageKindUser:
		if u.Users > 0 {
			u.Users--
		}
	}
	return u
}
