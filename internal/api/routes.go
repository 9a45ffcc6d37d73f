package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/swara-ai/swara/internal/auth"
	"github.com/swara-ai/swara/internal/bridge"
	"github.com/swara-ai/swara/internal/classify"
	"github.com/swara-ai/swara/internal/config"
	"github.com/swara-ai/swara/internal/convo"
	"github.com/swara-ai/swara/internal/credential"
	"github.com/swara-ai/swara/internal/rewrite"
)

// Deps carries the wired components the routes depend on.
type Deps struct {
	Config      *config.Config
	Registry    *bridge.Registry
	Credentials *credential.Provider
	Logger      *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Deps) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"service":  "swara-relay",
			"sessions": deps.Registry.Count(),
		})
	})

	v1 := e.Group("/api/v1")

	v1.POST("/auth", func(c echo.Context) error {
		return callerAuth(c, deps)
	})

	v1.POST("/token", func(c echo.Context) error {
		return mintToken(c, deps)
	})

	// WebSocket relay endpoint
	e.GET("/ws", func(c echo.Context) error {
		return relaySession(c, deps)
	})
}

// callerAuth exchanges a client id/secret pair for an identity token.
func callerAuth(c echo.Context, deps Deps) error {
	var req AuthRequest
	if err := c.Bind(&req); err != nil {
		deps.Logger.Error("Failed to bind auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.ClientID == "" || req.ClientSecret == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Client id and client secret are required",
		})
	}

	if req.ClientID != deps.Config.ClientID || req.ClientSecret != deps.Config.ClientSecret {
		deps.Logger.Warn("Caller authentication failed", zap.String("client_id", req.ClientID))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid client credentials",
		})
	}

	token, err := auth.GenerateIdentityToken(req.ClientID)
	if err != nil {
		deps.Logger.Error("Failed to generate identity token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate identity token",
		})
	}

	return c.JSON(http.StatusOK, AuthResponse{
		Token:     token,
		ExpiresIn: 24 * 60 * 60,
	})
}

// mintToken exchanges a caller identity token for a short-lived
// upstream credential. Responses carry strict no-store directives; the
// token is single-use-scoped and must never be cached.
func mintToken(c echo.Context, deps Deps) error {
	claims, errResp := identityFromHeader(c)
	if errResp != nil {
		deps.Logger.Warn("Token mint rejected", zap.String("error", errResp.Error))
		return c.JSON(http.StatusUnauthorized, errResp)
	}

	c.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	c.Response().Header().Set("Pragma", "no-cache")

	cred, err := deps.Credentials.Obtain(c.Request().Context(), claims.UserID)
	if err != nil {
		deps.Logger.Error("Credential grant failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "grant_failed",
			Message: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, cred)
}

// relaySession validates the upgrade request and starts a bridge
// session. Both checks fail with a synchronous JSON error before any
// socket is opened.
func relaySession(c echo.Context, deps Deps) error {
	if !strings.EqualFold(c.Request().Header.Get("Upgrade"), "websocket") {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "upgrade_required",
			Message: "Endpoint only accepts websocket upgrade requests",
		})
	}

	if !deps.Config.HasUpstreamKey() {
		deps.Logger.Error("Relay rejected: no upstream credential configured")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "missing_credential",
			Message: "Upstream API key is not configured",
		})
	}

	identity := "anonymous"
	if claims, errResp := identityFromHeader(c); errResp == nil {
		identity = claims.UserID
	}

	cred, err := deps.Credentials.Obtain(c.Request().Context(), identity)
	if err != nil {
		deps.Logger.Error("Credential grant failed for relay", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "grant_failed",
			Message: err.Error(),
		})
	}

	return bridge.Handle(c, bridge.Options{
		UpstreamURL: cred.URL,
		Credential:  cred.Key,
		ModelConfig: externalModelConfig(deps.Config),
		Observer:    conversationTap(deps.Logger),
		Registry:    deps.Registry,
		Logger:      deps.Logger,
	})
}

// identityFromHeader extracts and validates a Bearer identity token.
func identityFromHeader(c echo.Context) (*auth.IdentityClaims, *ErrorResponse) {
	header := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, &ErrorResponse{
			Error:   "missing_token",
			Message: "Identity token is required in Authorization header",
		}
	}

	claims, err := auth.ValidateToken(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return nil, &ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired identity token",
		}
	}
	return claims, nil
}

// externalModelConfig builds the bring-your-own model config, or nil
// when no external provider is configured.
func externalModelConfig(cfg *config.Config) *rewrite.ExternalModelConfig {
	if cfg.ExternalModelProvider == "" || cfg.ExternalModelAPIKey == "" {
		return nil
	}
	return &rewrite.ExternalModelConfig{
		Provider: cfg.ExternalModelProvider,
		APIKey:   cfg.ExternalModelAPIKey,
		Model:    cfg.ExternalModel,
	}
}

// conversationTap classifies forwarded upstream frames and folds them
// into a per-session conversation, purely for observability. The
// forward path never depends on it.
func conversationTap(logger *zap.Logger) bridge.Observer {
	classifier := classify.New(logger)
	aggregator := convo.NewAggregator(convo.NewSystemClock(), logger)

	logged := 0
	return func(messageType int, data []byte) {
		var events []classify.Event
		if messageType == websocket.BinaryMessage {
			events = classifier.ClassifyBinary(data)
		} else {
			events = classifier.ClassifyText(data)
		}
		for _, event := range events {
			aggregator.Apply(event)
		}
		for _, turn := range aggregator.Conversation()[logged:] {
			if !turn.Final {
				break
			}
			if turn.Text != "" {
				logger.Debug("Conversation turn",
					zap.String("role", string(turn.Role)),
					zap.String("text", turn.Text))
			}
			logged++
		}
	}
}
