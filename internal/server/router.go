package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/courier/internal/auth"
	"github.com/MarcoPoloResearchLab/courier/internal/messaging"
	"github.com/MarcoPoloResearchLab/courier/internal/notifications"
	"github.com/MarcoPoloResearchLab/courier/internal/presence"
	"github.com/MarcoPoloResearchLab/courier/internal/realtime"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const identityContextKey = "courier_identity"

var (
	errMissingAuthenticator = errors.New("authenticator dependency required")
	errMissingTopology      = errors.New("room topology dependency required")
	errMissingPresence      = errors.New("presence tracker dependency required")
	errMissingCoordinator   = errors.New("messaging coordinator dependency required")
	errMissingReceipts      = errors.New("read receipt dependency required")
	errMissingNotifications = errors.New("notification service dependency required")
)

// SessionAuthenticator turns a raw bearer token into an active identity.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, rawToken string) (auth.Identity, error)
}

// SocketConfig tunes the websocket transport.
type SocketConfig struct {
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Authenticator  SessionAuthenticator
	Topology       *realtime.Topology
	Presence       *presence.Tracker
	Coordinator    *messaging.Coordinator
	Receipts       *messaging.Receipts
	Typing         *messaging.TypingRelay
	Notifications  *notifications.Service
	AllowedOrigins []string
	Socket         SocketConfig
	// BaseContext outlives individual connections; handlers persist against it.
	BaseContext context.Context
	Logger      *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Authenticator == nil {
		return nil, errMissingAuthenticator
	}
	if deps.Topology == nil {
		return nil, errMissingTopology
	}
	if deps.Presence == nil {
		return nil, errMissingPresence
	}
	if deps.Coordinator == nil {
		return nil, errMissingCoordinator
	}
	if deps.Receipts == nil {
		return nil, errMissingReceipts
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseContext := deps.BaseContext
	if baseContext == nil {
		baseContext = context.Background()
	}
	typing := deps.Typing
	if typing == nil {
		typing = messaging.NewTypingRelay(deps.Topology.Hub())
	}

	handler := &httpHandler{
		authenticator: deps.Authenticator,
		topology:      deps.Topology,
		hub:           deps.Topology.Hub(),
		presence:      deps.Presence,
		coordinator:   deps.Coordinator,
		receipts:      deps.Receipts,
		typing:        typing,
		notifications: deps.Notifications,
		socket:        withSocketDefaults(deps.Socket),
		baseContext:   baseContext,
		logger:        logger,
	}
	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(deps.AllowedOrigins),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", handler.handleSocket)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.GET("/notifications/count", handler.handleNotificationCount)

	return router, nil
}

type httpHandler struct {
	authenticator SessionAuthenticator
	topology      *realtime.Topology
	hub           *realtime.Hub
	presence      *presence.Tracker
	coordinator   *messaging.Coordinator
	receipts      *messaging.Receipts
	typing        *messaging.TypingRelay
	notifications *notifications.Service
	upgrader      websocket.Upgrader
	socket        SocketConfig
	baseContext   context.Context
	logger        *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || containsWildcard(allowedOrigins) {
		config.AllowAllOrigins = true
		config.AllowCredentials = false
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

// originChecker admits browsers from the configured origins and non-browser clients without an Origin header.
func originChecker(allowedOrigins []string) func(*http.Request) bool {
	if len(allowedOrigins) == 0 || containsWildcard(allowedOrigins) {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authenticate resolves the request's bearer token and logs the failure the way both the
// REST group and the socket handshake report it.
func (h *httpHandler) authenticate(c *gin.Context) (auth.Identity, string, bool) {
	identity, err := h.authenticator.Authenticate(c.Request.Context(), auth.TokenFromRequest(c.Request))
	if err == nil {
		return identity, "", true
	}
	code := auth.FailureCode(err)
	switch {
	case errors.Is(err, auth.ErrMissingToken):
	case errors.Is(err, auth.ErrTokenExpired):
		h.logger.Info("token validation failed", zap.String("code", code), zap.Error(err))
	default:
		h.logger.Warn("token validation failed", zap.String("code", code), zap.Error(err))
	}
	return auth.Identity{}, code, false
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	identity, code, ok := h.authenticate(c)
	if !ok {
		c.AbortWithStatusJSON(failureStatus(code), gin.H{"error": code})
		return
	}
	c.Set(identityContextKey, identity)
	c.Next()
}

func failureStatus(code string) int {
	switch code {
	case "account_inactive", "tenant_inactive":
		return http.StatusForbidden
	case "authentication_failed":
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

func identityFromContext(c *gin.Context) (auth.Identity, bool) {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := value.(auth.Identity)
	return identity, ok
}

type notificationListPayload struct {
	Notifications []notifications.Notification `json:"notifications"`
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}
	records, err := h.notifications.List(c.Request.Context(), identity.UserID, limit)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.String("user_id", identity.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	if records == nil {
		records = []notifications.Notification{}
	}
	c.JSON(http.StatusOK, notificationListPayload{Notifications: records})
}

func (h *httpHandler) handleNotificationCount(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	count, err := h.notifications.Count(c.Request.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("failed to count notifications", zap.String("user_id", identity.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count_failed"})
		return
	}
	c.JSON(http.StatusOK, notifications.CountPayload{Count: count})
}
