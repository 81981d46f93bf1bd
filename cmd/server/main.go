package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/perphouse/clearing-api/internal/auth"
	"github.com/perphouse/clearing-api/internal/database"
	"github.com/perphouse/clearing-api/internal/margin"
	"github.com/perphouse/clearing-api/internal/matching"
	"github.com/perphouse/clearing-api/internal/registry"
	"github.com/perphouse/clearing-api/internal/settlement"
	"github.com/perphouse/clearing-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the clearing API server with graceful shutdown
// support. It sets up all required services, database connections, and API
// routes.
func main() {
	// Initialize database
	db, err := database.NewDatabase()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers. The auth service signs with the
	// same secret the middleware verifies with.
	authService := auth.NewService(string(middleware.JWTSecret()))
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	registries := registry.New(db)

	matchingService := matching.NewService(registries)
	matchingHandlers := matching.NewGinHandlers(matchingService)

	marginService := margin.NewService(db, registries)
	marginHandlers := margin.NewGinHandlers(marginService)

	settlementService := settlement.NewService(db, registries, settlement.FeeStructure{
		FeeNumerator:   1,
		FeeDenominator: 1000,
	})
	settlementHandlers := settlement.NewGinHandlers(settlementService)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, matchingHandlers, marginHandlers, settlementHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Settlement routes: Protected by JWT authentication; the token's
//   client_id is the authority attempting settlement
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	matchingHandlers *matching.GinHandlers,
	marginHandlers *margin.GinHandlers,
	settlementHandlers *settlement.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Settlement routes
		settle := v1.Group("/settlement")
		settle.Use(middleware.JWTAuth())
		{
			settle.POST("/pnl/:account_id/:market_index", settlementHandlers.SettlePnlHandler())
			settle.POST("/expired/:account_id/:market_index", settlementHandlers.SettleExpiredPositionHandler())
			settle.GET("/records/:record_id", settlementHandlers.GetRecordHandler())
			settle.GET("/accounts/:account_id/records", settlementHandlers.GetAccountRecordsHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
		{
			internal.POST("/match/check", matchingHandlers.CheckHandler())
			internal.GET("/margin/:account_id", marginHandlers.CheckAccountHandler())
		}
	}
}
