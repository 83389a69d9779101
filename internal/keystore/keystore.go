// Package keystore owns the central root Ed25519 signing keypair on disk.
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// PrivateKeyFile is the PKCS8/PEM root private key filename.
	PrivateKeyFile = "central_root_sk.pem"
	// PublicKeyFile is the SubjectPublicKeyInfo/PEM root public key filename.
	PublicKeyFile = "central_root_pk.pem"

	dirPerm        = 0o700
	privateKeyPerm = 0o600
	publicKeyPerm  = 0o644
)

var (
	// ErrKeyMaterialMissing indicates a root key file is absent at runtime.
	ErrKeyMaterialMissing = errors.New("root key material missing")
	// ErrKeyMaterialExists indicates Generate would overwrite existing key files.
	ErrKeyMaterialExists = errors.New("root key material already exists")
	// ErrKeyMalformed indicates a PEM blob cannot be parsed as an Ed25519 key.
	ErrKeyMalformed = errors.New("malformed key")
)

// KeyStore reads the root keypair from a directory, lazily, and caches
// the parsed keys for the lifetime of the process. It is safe for
// concurrent use.
type KeyStore struct {
	dir string

	once    sync.Once
	loadErr error
	skPEM   []byte
	pkPEM   []byte
	signer  ed25519.PrivateKey
	pub     ed25519.PublicKey
}

// New creates a KeyStore over the given directory. No I/O happens until
// the first Load, Signer, or Verifier call.
func New(dir string) *KeyStore {
	return &KeyStore{dir: dir}
}

// Generate creates the directory if absent, generates a fresh Ed25519
// keypair, and writes central_root_sk.pem (0600) and central_root_pk.pem
// (0644). It refuses to overwrite existing key files.
func Generate(dir string) error {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create keys directory: %w", err)
	}
	if err := os.Chmod(dir, dirPerm); err != nil {
		return fmt.Errorf("set keys directory permissions: %w", err)
	}

	skPath := filepath.Join(dir, PrivateKeyFile)
	pkPath := filepath.Join(dir, PublicKeyFile)
	for _, p := range []string{skPath, pkPath} {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("%w: %s", ErrKeyMaterialExists, p)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat %s: %w", p, err)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate root keypair: %w", err)
	}

	skDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	skPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: skDER})

	pkDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	pkPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pkDER})

	if err := os.WriteFile(skPath, skPEM, privateKeyPerm); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(pkPath, pkPEM, publicKeyPerm); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

// Load reads both key files verbatim. Results are cached after the
// first successful call.
func (ks *KeyStore) Load() (skPEM, pkPEM []byte, err error) {
	ks.once.Do(ks.load)
	if ks.loadErr != nil {
		return nil, nil, ks.loadErr
	}
	return ks.skPEM, ks.pkPEM, nil
}

// Signer returns the parsed root private key.
func (ks *KeyStore) Signer() (ed25519.PrivateKey, error) {
	ks.once.Do(ks.load)
	if ks.loadErr != nil {
		return nil, ks.loadErr
	}
	return ks.signer, nil
}

// Verifier returns the parsed root public key.
func (ks *KeyStore) Verifier() (ed25519.PublicKey, error) {
	ks.once.Do(ks.load)
	if ks.loadErr != nil {
		return nil, ks.loadErr
	}
	return ks.pub, nil
}

// PublicPEM returns the root public key PEM as a string, for embedding
// in provisioning responses and license-config exports.
func (ks *KeyStore) PublicPEM() (string, error) {
	_, pkPEM, err := ks.Load()
	if err != nil {
		return "", err
	}
	return string(pkPEM), nil
}

func (ks *KeyStore) load() {
	skPath := filepath.Join(ks.dir, PrivateKeyFile)
	pkPath := filepath.Join(ks.dir, PublicKeyFile)

	skPEM, err := os.ReadFile(skPath)
	if err != nil {
		ks.loadErr = classifyReadError(skPath, err)
		return
	}
	pkPEM, err := os.ReadFile(pkPath)
	if err != nil {
		ks.loadErr = classifyReadError(pkPath, err)
		return
	}

	signer, err := ParsePrivateKeyPEM(skPEM)
	if err != nil {
		ks.loadErr = err
		return
	}
	pub, err := ParsePublicKeyPEM(pkPEM)
	if err != nil {
		ks.loadErr = err
		return
	}

	ks.skPEM = skPEM
	ks.pkPEM = pkPEM
	ks.signer = signer
	ks.pub = pub
}

func classifyReadError(path string, err error) error {
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrKeyMaterialMissing, path)
	}
	return fmt.Errorf("read %s: %w", path, err)
}

// ParsePrivateKeyPEM parses a PKCS8/PEM Ed25519 private key.
func ParsePrivateKeyPEM(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrKeyMalformed)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyMalformed, err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an Ed25519 private key", ErrKeyMalformed)
	}
	return priv, nil
}

// ParsePublicKeyPEM parses a SubjectPublicKeyInfo/PEM Ed25519 public key.
// It is also used to validate public keys submitted by locals during
// provisioning.
func ParsePublicKeyPEM(data []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrKeyMalformed)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyMalformed, err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an Ed25519 public key", ErrKeyMalformed)
	}
	return pub, nil
}

// EncodePublicKeyPEM encodes an Ed25519 public key as
// SubjectPublicKeyInfo/PEM. Used by tests and the keygen command.
func EncodePublicKeyPEM(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
