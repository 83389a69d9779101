// Package token mints and verifies the EdDSA bearer tokens of the
// attestation protocol: long-lived provisioning tokens and short-lived
// assertion tokens, both signed with the central root key.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/codesense-io/central/internal/keystore"
	"github.com/golang-jwt/jwt/v5"
)

// Type discriminates the two token kinds in the hierarchy.
type Type string

const (
	// TypeProvisioning proves a local was registered under a license.
	TypeProvisioning Type = "provisioning"
	// TypeAssertion authorizes a single billable window after a
	// successful challenge round.
	TypeAssertion Type = "assertion"
)

const (
	// ProvisioningTTL is the provisioning token lifetime.
	ProvisioningTTL = 24 * time.Hour
	// AssertionTTL is the assertion token lifetime.
	AssertionTTL = 10 * time.Minute
)

var (
	// ErrTokenExpired indicates the token's exp claim is in the past.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid indicates the signature does not verify.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenMalformed indicates the token cannot be parsed.
	ErrTokenMalformed = errors.New("token malformed")
)

// Claims are the self-contained contents of a bearer token.
type Claims struct {
	LocalID   string `json:"local_id"`
	LicenseID string `json:"license_id"`
	Type      Type   `json:"type"`
	jwt.RegisteredClaims
}

// Service signs and verifies tokens using the injected root keystore.
type Service struct {
	keys *keystore.KeyStore
}

// NewService creates a token Service backed by the given keystore.
func NewService(keys *keystore.KeyStore) *Service {
	return &Service{keys: keys}
}

// Sign copies the claims, injects iat = now and, when ttl > 0,
// exp = now + ttl, and returns the compact EdDSA-signed serialization.
func (s *Service) Sign(claims Claims, ttl time.Duration) (string, error) {
	signer, err := s.keys.Signer()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := tok.SignedString(signer)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses the token, checks the EdDSA signature under the root
// public key, and validates exp against the current time.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	verifier, err := s.keys.Verifier()
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return verifier, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		default:
			return nil, ErrTokenInvalid
		}
	}
	return claims, nil
}

// IssueProvisioning mints a provisioning token for a (local, license) pair.
func (s *Service) IssueProvisioning(localID, licenseID string) (string, error) {
	return s.Sign(Claims{
		LocalID:   localID,
		LicenseID: licenseID,
		Type:      TypeProvisioning,
	}, ProvisioningTTL)
}

// IssueAssertion mints an assertion token for a (local, license) pair.
func (s *Service) IssueAssertion(localID, licenseID string) (string, error) {
	return s.Sign(Claims{
		LocalID:   localID,
		LicenseID: licenseID,
		Type:      TypeAssertion,
	}, AssertionTTL)
}
