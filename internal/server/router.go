package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/auth"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/avatars"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/comments"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/notify"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/profiles"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	hookSubjectContextKey = "avatar_mirror_hook_subject"

	defaultAvatarMountPath = "/avatars"
	placeholderPath        = "/assets/mystery.svg"
	defaultHeartbeat       = 25 * time.Second
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingSubmissions    = errors.New("submission handler dependency required")
	errMissingRenderer       = errors.New("avatar renderer dependency required")
	errMissingProber         = errors.New("preview prober dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator is satisfied by auth.HookValidator.
type TokenValidator interface {
	ValidateToken(token string) (jwt.RegisteredClaims, error)
}

// SubmissionHandler is satisfied by comments.Service.
type SubmissionHandler interface {
	HandleSubmission(ctx context.Context, submission comments.Submission) (comments.Outcome, error)
}

// AvatarRenderer is satisfied by avatars.Resolver.
type AvatarRenderer interface {
	Render(ctx context.Context, commentID profiles.CommentID, size avatars.Size, alt string) avatars.Descriptor
}

// ExistenceProber is satisfied by preview.Prober.
type ExistenceProber interface {
	Probe(ctx context.Context, rawURL string) (bool, error)
}

// EventSubscriber is satisfied by notify.Dispatcher.
type EventSubscriber interface {
	Subscribe(ctx context.Context) (<-chan notify.ImageDownloaded, func())
}

type Dependencies struct {
	Tokens             TokenValidator
	Submissions        SubmissionHandler
	Avatars            AvatarRenderer
	Prober             ExistenceProber
	Events             EventSubscriber
	CacheRoot          string
	CachePublicURL     string
	CORSAllowedOrigins []string
	HeartbeatInterval  time.Duration
	Logger             *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Submissions == nil {
		return nil, errMissingSubmissions
	}
	if deps.Avatars == nil {
		return nil, errMissingRenderer
	}
	if deps.Prober == nil {
		return nil, errMissingProber
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(deps.CORSAllowedOrigins))

	handler := &httpHandler{
		tokens:      deps.Tokens,
		submissions: deps.Submissions,
		avatars:     deps.Avatars,
		prober:      deps.Prober,
		events:      deps.Events,
		heartbeat:   heartbeat,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET(placeholderPath, handleMysteryPlaceholder)
	router.GET("/comments/:id/avatar", handler.handleAvatarRender)
	router.GET("/preview/probe", handler.handleProbe)
	if deps.CacheRoot != "" {
		router.StaticFS(avatarMountPath(deps.CachePublicURL), gin.Dir(deps.CacheRoot, false))
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/hooks/comments", handler.handleCommentSubmission)
	if deps.Events != nil {
		protected.GET("/events/avatars", handler.handleAvatarStream)
	}

	return router, nil
}

type httpHandler struct {
	tokens      TokenValidator
	submissions SubmissionHandler
	avatars     AvatarRenderer
	prober      ExistenceProber
	events      EventSubscriber
	heartbeat   time.Duration
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authorizeRequest accepts a bearer header, or an access_token query
// parameter for EventSource clients that cannot set headers.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	} else if header == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, auth.ErrExpiredHookToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(hookSubjectContextKey, claims.Subject)
	c.Next()
}

// avatarMountPath extracts the path component of the public cache URL so an
// absolute CDN-style URL still mounts the local cache under its path.
func avatarMountPath(publicURL string) string {
	mount := strings.TrimSpace(publicURL)
	if parsed, err := url.Parse(mount); err == nil && parsed.Path != "" {
		mount = parsed.Path
	}
	mount = "/" + strings.Trim(mount, "/")
	if mount == "/" {
		return defaultAvatarMountPath
	}
	return mount
}
