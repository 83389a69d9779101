// Package api provides the HTTP API for the central server.
package api

import (
	"github.com/codesense-io/central/internal/api/handlers"
	"github.com/codesense-io/central/internal/api/middleware"
	"github.com/codesense-io/central/internal/attest"
	"github.com/codesense-io/central/internal/config"
	"github.com/codesense-io/central/internal/db"
	"github.com/codesense-io/central/internal/keystore"
	"github.com/codesense-io/central/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(
	cfg config.ServerConfig,
	database *db.DB,
	engine *attest.Engine,
	keys *keystore.KeyStore,
	logger zerolog.Logger,
) *Router {
	if cfg.Environment == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))

	healthHandler := handlers.NewHealthHandler(database, logger)
	healthHandler.RegisterRoutes(r.Engine)

	r.Engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	localsHandler := handlers.NewLocalsHandler(engine, database, logger)
	localsHandler.RegisterRoutes(r.Engine)

	licensesHandler := handlers.NewLicensesHandler(database, keys, cfg.ListLimit, logger)
	licensesHandler.RegisterRoutes(r.Engine)

	return r
}
