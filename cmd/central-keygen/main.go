// Package main provides the root keypair generation CLI tool.
// Run once during setup; protect the private key heavily.
package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/codesense-io/central/internal/keystore"
	"github.com/rs/zerolog"
)

func main() {
	var (
		dir   = flag.String("dir", "", "Keys directory (or set CENTRAL_KEYS_DIR env var)")
		force = flag.Bool("force", false, "Overwrite existing key files")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	keysDir := *dir
	if keysDir == "" {
		keysDir = os.Getenv("CENTRAL_KEYS_DIR")
	}
	if keysDir == "" {
		logger.Fatal().Msg("keys directory required: use -dir flag or set CENTRAL_KEYS_DIR")
	}

	if *force {
		for _, name := range []string{keystore.PrivateKeyFile, keystore.PublicKeyFile} {
			path := filepath.Join(keysDir, name)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.Fatal().Err(err).Str("path", path).Msg("failed to remove existing key file")
			}
		}
	}

	if err := keystore.Generate(keysDir); err != nil {
		if errors.Is(err, keystore.ErrKeyMaterialExists) {
			logger.Fatal().Err(err).Msg("key material already exists (use -force to regenerate)")
		}
		logger.Fatal().Err(err).Msg("failed to generate root keypair")
	}

	logger.Info().
		Str("private_key", filepath.Join(keysDir, keystore.PrivateKeyFile)).
		Str("public_key", filepath.Join(keysDir, keystore.PublicKeyFile)).
		Msg("root keypair generated")
}
