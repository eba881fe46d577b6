package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/media"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/social"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/users"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/videos"
)

const (
	sessionContextKey        = "vyon_session"
	defaultHeartbeatInterval = 25 * time.Second
	defaultMaxUploadBytes    = 512 << 20
)

var (
	errMissingUsersService    = errors.New("users service dependency required")
	errMissingSocialService   = errors.New("social service dependency required")
	errMissingVideoService    = errors.New("video service dependency required")
	errMissingMediaUploader   = errors.New("media uploader dependency required")
	errMissingTokenIssuer     = errors.New("token issuer dependency required")
	errMissingSessionValidate = errors.New("session validator dependency required")
)

// SessionIssuer signs session tokens for authenticated accounts.
type SessionIssuer interface {
	Issue(ctx context.Context, principal auth.Principal) (string, int64, error)
}

// SessionValidator resolves the session carried by a request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	CookieName() string
}

// IdentityVerifier verifies third-party ID tokens.
type IdentityVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (auth.ExternalIdentity, error)
}

// Dependencies wires the services behind the HTTP API.
// IdentityVerifier is optional; /auth/oidc answers 404 without it.
type Dependencies struct {
	Users             *users.Service
	Social            *social.Service
	Videos            *videos.Service
	Media             media.Uploader
	Tokens            SessionIssuer
	Sessions          SessionValidator
	IdentityVerifier  IdentityVerifier
	AllowedOrigins    []string
	MaxUploadBytes    int64
	HeartbeatInterval time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the Vyon API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Social == nil {
		return nil, errMissingSocialService
	}
	if deps.Videos == nil {
		return nil, errMissingVideoService
	}
	if deps.Media == nil {
		return nil, errMissingMediaUploader
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionValidate
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		users:             deps.Users,
		social:            deps.Social,
		videos:            deps.Videos,
		media:             deps.Media,
		tokens:            deps.Tokens,
		sessions:          deps.Sessions,
		identityVerifier:  deps.IdentityVerifier,
		maxUploadBytes:    maxUpload,
		heartbeatInterval: heartbeat,
		clock:             clock,
		logger:            logger,
	}

	router.POST("/auth/signup", handler.handleSignUp)
	router.POST("/auth/login", handler.handleLogin)
	router.POST("/auth/logout", handler.handleLogout)
	router.POST("/auth/oidc", handler.handleOIDCLogin)
	router.GET("/auth/session", handler.handleSession)

	router.GET("/users/:id/profile", handler.handlePublicProfile)
	router.GET("/users/:id/videos", handler.handleUserVideos)
	router.GET("/videos", handler.handleListVideos)
	router.GET("/videos/:id", handler.handleGetVideo)
	router.GET("/videos/:id/card", handler.handleVideoCard)
	router.POST("/videos/:id/views", handler.handleRecordView)
	router.GET("/videos/:id/comments", handler.handleListComments)
	router.GET("/videos/:id/comments/fragment", handler.handleCommentsFragment)
	router.GET("/counters", handler.handleReadCounter)
	router.GET("/live", handler.handleLive)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/profile", handler.handleGetProfile)
	protected.PATCH("/profile", handler.handleUpdateProfile)
	protected.POST("/profile/picture", handler.handleProfilePicture)
	protected.POST("/videos", handler.handleCreateVideo)
	protected.PUT("/videos/:id", handler.handleUpdateVideo)
	protected.DELETE("/videos/:id", handler.handleDeleteVideo)
	protected.GET("/videos/:id/interactions", handler.handleInteractions)
	protected.POST("/videos/:id/like/toggle", handler.handleToggleLike)
	protected.PUT("/videos/:id/like", handler.handleSetLike(true))
	protected.DELETE("/videos/:id/like", handler.handleSetLike(false))
	protected.POST("/channels/:id/subscription/toggle", handler.handleToggleSubscription)
	protected.PUT("/channels/:id/subscription", handler.handleSetSubscription(true))
	protected.DELETE("/channels/:id/subscription", handler.handleSetSubscription(false))
	protected.POST("/videos/:id/comments", handler.handleAddComment)

	return router, nil
}

type httpHandler struct {
	users             *users.Service
	social            *social.Service
	videos            *videos.Service
	media             media.Uploader
	tokens            SessionIssuer
	sessions          SessionValidator
	identityVerifier  IdentityVerifier
	maxUploadBytes    int64
	heartbeatInterval time.Duration
	clock             func() time.Time
	logger            *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	allowAny := false
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		switch trimmed {
		case "":
		case "*":
			allowAny = true
		default:
			origins = append(origins, trimmed)
		}
	}
	if allowAny || len(origins) == 0 {
		// Any origin may call with a bearer token; cookies are only shared with listed origins.
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		h.logTokenFailure(err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(sessionContextKey, claims)
	c.Next()
}

func (h *httpHandler) logTokenFailure(err error) {
	switch {
	case errors.Is(err, auth.ErrMissingSessionToken):
		h.logger.Debug("session token missing")
	case errors.Is(err, auth.ErrExpiredSessionToken):
		h.logger.Info("token validation failed", zap.Error(err))
	default:
		h.logger.Warn("token validation failed", zap.Error(err))
	}
}

func sessionFrom(c *gin.Context) (auth.SessionClaims, bool) {
	value, exists := c.Get(sessionContextKey)
	if !exists {
		return auth.SessionClaims{}, false
	}
	claims, ok := value.(auth.SessionClaims)
	return claims, ok && claims.UserID != ""
}

// displayNameOf mirrors the name shown next to the viewer's comments:
// display name, else the email local part, else "User".
func displayNameOf(claims auth.SessionClaims) string {
	if name := strings.TrimSpace(claims.UserDisplayName); name != "" {
		return name
	}
	if local, _, found := strings.Cut(claims.UserEmail, "@"); found && local != "" {
		return local
	}
	return "User"
}
