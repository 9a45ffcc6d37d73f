package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/swara-ai/swara/internal/api"
	"github.com/swara-ai/swara/internal/auth"
	"github.com/swara-ai/swara/internal/bridge"
	"github.com/swara-ai/swara/internal/config"
	"github.com/swara-ai/swara/internal/credential"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load .env when present; real environments set variables directly.
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	auth.SetSecret(cfg.JWTSecret)

	if !cfg.HasUpstreamKey() {
		logger.Warn("No upstream API key configured; relay sessions will be rejected")
	}

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	registry := bridge.NewRegistry(logger)
	credentials := credential.NewProvider(
		cfg.UpstreamAPIKey,
		cfg.UpstreamGrantURL,
		cfg.UpstreamAgentURL,
		cfg.DevMode,
		logger,
	)

	api.InitRoutes(e, api.Deps{
		Config:      cfg,
		Registry:    registry,
		Credentials: credentials,
		Logger:      logger,
	})

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Relay server started",
		zap.String("port", cfg.Port),
		zap.Bool("dev_mode", cfg.DevMode))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	registry.CloseAll("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
