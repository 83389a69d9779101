package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	err := Generate(dir)
	require.NoError(t, err)

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	skInfo, err := os.Stat(filepath.Join(dir, PrivateKeyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), skInfo.Mode().Perm())

	pkInfo, err := os.Stat(filepath.Join(dir, PublicKeyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), pkInfo.Mode().Perm())
}

func TestGenerateRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Generate(dir))

	before, err := os.ReadFile(filepath.Join(dir, PrivateKeyFile))
	require.NoError(t, err)

	err = Generate(dir)
	assert.ErrorIs(t, err, ErrKeyMaterialExists)

	after, err := os.ReadFile(filepath.Join(dir, PrivateKeyFile))
	require.NoError(t, err)
	assert.Equal(t, before, after, "existing key material must not change")
}

func TestLoadMissing(t *testing.T) {
	ks := New(filepath.Join(t.TempDir(), "empty"))

	_, _, err := ks.Load()
	assert.ErrorIs(t, err, ErrKeyMaterialMissing)

	_, err = ks.Signer()
	assert.ErrorIs(t, err, ErrKeyMaterialMissing)
}

func TestLoadMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PrivateKeyFile), []byte("not a pem"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, PublicKeyFile), []byte("not a pem"), 0o644))

	ks := New(dir)
	_, _, err := ks.Load()
	assert.ErrorIs(t, err, ErrKeyMalformed)
}

func TestSignerVerifierRoundtrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Generate(dir))

	ks := New(dir)
	signer, err := ks.Signer()
	require.NoError(t, err)
	verifier, err := ks.Verifier()
	require.NoError(t, err)

	msg := []byte("attestation payload")
	sig := ed25519.Sign(signer, msg)
	assert.True(t, ed25519.Verify(verifier, msg, sig))
	assert.False(t, ed25519.Verify(verifier, []byte("tampered"), sig))
}

func TestPublicPEMMatchesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Generate(dir))

	ks := New(dir)
	pemStr, err := ks.PublicPEM()
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, PublicKeyFile))
	require.NoError(t, err)
	assert.Equal(t, string(raw), pemStr)

	pub, err := ParsePublicKeyPEM([]byte(pemStr))
	require.NoError(t, err)
	assert.Len(t, pub, ed25519.PublicKeySize)
}

func TestParsePublicKeyPEMRejectsGarbage(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"not pem", "definitely not a key"},
		{"wrong block", "-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePublicKeyPEM([]byte(tt.input))
			assert.ErrorIs(t, err, ErrKeyMalformed)
		})
	}
}

func TestEncodePublicKeyPEMRoundtrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pemStr, err := EncodePublicKeyPEM(pub)
	require.NoError(t, err)

	parsed, err := ParsePublicKeyPEM([]byte(pemStr))
	require.NoError(t, err)
	assert.Equal(t, pub, parsed)
}
