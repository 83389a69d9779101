// Package config provides configuration management for the central server.
package config

import (
	"os"
	"strconv"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds server-level configuration loaded from environment
// variables. CENTRAL_KEYS_DIR is the single required setting; the
// entrypoint fails when it is empty.
type ServerConfig struct {
	Environment Environment
	KeysDir     string // CENTRAL_KEYS_DIR, directory holding the root keypair
	DatabaseURL string
	ListenAddr  string
	ListLimit   int // default page size for license listings
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		listenAddr = ":" + port
	}

	listLimit := getEnvInt("LIST_LIMIT", 10)
	if listLimit < 1 {
		listLimit = 10
	}

	return ServerConfig{
		Environment: env,
		KeysDir:     os.Getenv("CENTRAL_KEYS_DIR"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ListenAddr:  listenAddr,
		ListLimit:   listLimit,
	}
}

// getEnvInt reads an integer from an environment variable, returning
// the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
