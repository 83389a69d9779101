// Package license builds and verifies the signed license-config bundle
// exported to local servers.
package license

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codesense-io/central/internal/keystore"
	"github.com/codesense-io/central/internal/models"
)

var (
	// ErrConfigSignatureInvalid indicates the bundle signature does not
	// verify against its embedded central public key.
	ErrConfigSignatureInvalid = errors.New("license config signature invalid")
	// ErrConfigMalformed indicates the bundle is missing required fields.
	ErrConfigMalformed = errors.New("license config malformed")
)

// ExportConfig builds the signed license-config bundle for a license.
// The payload is canonical JSON (sorted keys, no extra whitespace) and
// the signature is the standard base64 of the Ed25519 signature over
// the canonical bytes before the signature field is inserted.
func ExportConfig(lic *models.License, keys *keystore.KeyStore) (map[string]any, error) {
	signer, err := keys.Signer()
	if err != nil {
		return nil, err
	}
	pubPEM, err := keys.PublicPEM()
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"license_id": lic.ID.String(),
		"client": map[string]any{
			"name":          lic.Client.Name,
			"contact_email": lic.Client.ContactEmail,
		},
		"limits": map[string]any{
			"scans": lic.Limits.Scans,
			"users": lic.Limits.Users,
		},
		"expiry":         lic.Expiry.UTC().Format(time.RFC3339),
		"status":         string(lic.Status),
		"issued_at":      time.Now().UTC().Format(time.RFC3339),
		"central_pubkey": pubPEM,
	}

	canonical, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal license config: %w", err)
	}

	sig := ed25519.Sign(signer, canonical)
	payload["signature"] = base64.StdEncoding.EncodeToString(sig)
	return payload, nil
}

// VerifyConfig checks an exported bundle against its embedded
// central_pubkey. The signature field is removed before the canonical
// bytes are recomputed.
func VerifyConfig(cfg map[string]any) error {
	sigB64, ok := cfg["signature"].(string)
	if !ok {
		return fmt.Errorf("%w: missing signature", ErrConfigMalformed)
	}
	pubPEM, ok := cfg["central_pubkey"].(string)
	if !ok {
		return fmt.Errorf("%w: missing central_pubkey", ErrConfigMalformed)
	}

	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("%w: undecodable signature", ErrConfigMalformed)
	}
	pub, err := keystore.ParsePublicKeyPEM([]byte(pubPEM))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigMalformed, err)
	}

	payload := make(map[string]any, len(cfg))
	for k, v := range cfg {
		if k == "signature" {
			continue
		}
		payload[k] = v
	}
	canonical, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal license config: %w", err)
	}

	if !ed25519.Verify(pub, canonical, sig) {
		return ErrConfigSignatureInvalid
	}
	return nil
}
