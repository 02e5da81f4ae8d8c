// ABOUTME: JSON HTTP API for the social graph and channel history
// ABOUTME: Friendship mutations made here are pushed to the users' live connections

package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/kvchvn/chitchat-backend/internal/apperr"
	"github.com/kvchvn/chitchat-backend/internal/auth"
	"github.com/kvchvn/chitchat-backend/internal/chat"
	"github.com/kvchvn/chitchat-backend/internal/friendship"
	"github.com/kvchvn/chitchat-backend/internal/store"
)

// Friendship is the friendship state machine and its read side.
type Friendship interface {
	SendRequest(ctx context.Context, senderID, receiverID string) (*friendship.Transition, error)
	CancelRequest(ctx context.Context, senderID, receiverID string) (*friendship.Transition, error)
	AcceptRequest(ctx context.Context, receiverID, senderID string) (*friendship.Transition, error)
	RefuseRequest(ctx context.Context, receiverID, senderID string) (*friendship.Transition, error)
	RemoveFriend(ctx context.Context, userID, friendID string) (*friendship.Transition, error)

	Status(ctx context.Context, viewerID, otherID string) (*friendship.UserWithStatus, error)
	ListUsers(ctx context.Context, viewerID string) ([]*friendship.UserWithStatus, error)
	Friends(ctx context.Context, viewerID string) ([]*store.User, error)
	IncomingRequests(ctx context.Context, viewerID string) ([]*store.User, error)
	OutgoingRequests(ctx context.Context, viewerID string) ([]*store.User, error)
	Counts(ctx context.Context, viewerID string) (*store.RelationCounts, error)
}

// Chat is the read side of the retention engine.
type Chat interface {
	ListChannels(ctx context.Context, userID string) ([]*store.ChannelSummary, error)
	History(ctx context.Context, userID, channelID string, loc *time.Location) (*chat.History, error)
}

// Notifier pushes friendship changes to connected clients.
type Notifier interface {
	NotifyTransition(t *friendship.Transition)
}

// Config holds the dependencies of the API.
type Config struct {
	Auth       *auth.Authenticator
	Friendship Friendship
	Chat       Chat
	Notifier   Notifier // optional
	Logger     *slog.Logger
}

// API serves the /api routes.
type API struct {
	auth     *auth.Authenticator
	friends  Friendship
	chat     Chat
	notifier Notifier
	validate *validator.Validate
	logger   *slog.Logger
}

// New creates the API.
func New(cfg Config) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		auth:     cfg.Auth,
		friends:  cfg.Friendship,
		chat:     cfg.Chat,
		notifier: cfg.Notifier,
		validate: validator.New(),
		logger:   logger.With("component", "api"),
	}
}

// Register mounts every route on r. All routes require a session token.
func (a *API) Register(r gin.IRouter) {
	g := r.Group("/api", auth.Middleware(a.auth))

	g.GET("/me", a.handleMe)

	g.GET("/users", a.handleListUsers)
	g.GET("/users/counts", a.handleCounts)
	g.GET("/users/:id", a.handleGetUser)

	g.GET("/friends", a.handleFriends)
	g.DELETE("/friends/:id", a.handleRemoveFriend)

	g.GET("/requests/incoming", a.handleIncoming)
	g.GET("/requests/outgoing", a.handleOutgoing)
	g.POST("/requests/:id", a.handleSendRequest)
	g.DELETE("/requests/:id", a.handleCancelRequest)
	g.POST("/requests/:id/accept", a.handleAcceptRequest)
	g.POST("/requests/:id/refuse", a.handleRefuseRequest)

	g.GET("/channels", a.handleListChannels)
	g.GET("/channels/:id", a.handleHistory)
}

// pathID returns the validated :id path parameter.
func (a *API) pathID(c *gin.Context) (string, error) {
	id := c.Param("id")
	if err := a.validate.Var(id, "required,max=64,printascii"); err != nil {
		return "", apperr.Validation("id: must be 1 to 64 printable characters")
	}
	return id, nil
}

// fail writes err as a JSON error body with the status mapped from its kind.
func (a *API) fail(c *gin.Context, err error) {
	kind, msg, issues := apperr.Public(err)
	if kind == apperr.KindStore {
		a.logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err)
	}
	body := gin.H{"kind": kind, "message": msg}
	if len(issues) > 0 {
		body["issues"] = issues
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(kind), gin.H{"error": body})
}
