package v1

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/lumichat/internal/profile"
	"github.com/hrygo/lumichat/server/auth"
	"github.com/hrygo/lumichat/server/internal/observability"
	"github.com/hrygo/lumichat/server/middleware"
	"github.com/hrygo/lumichat/server/service/chat"
	"github.com/hrygo/lumichat/store"
)

type APIV1Service struct {
	Profile     *profile.Profile
	Store       *store.Store
	ChatService *chat.Service

	authenticator *auth.Authenticator
	// chatRateLimiter is nil when rate limiting is disabled.
	chatRateLimiter *middleware.RateLimiter
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, chatService *chat.Service) *APIV1Service {
	service := &APIV1Service{
		Profile:       profile,
		Store:         store,
		ChatService:   chatService,
		authenticator: auth.NewAuthenticator(profile.Secret, profile.SessionCookie),
	}
	if profile.RateLimitEnabled {
		service.chatRateLimiter = middleware.NewChatRateLimiter()
	}
	return service
}

// RegisterRoutes registers the /api routes. Every route requires a session.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	api := echoServer.Group("/api", s.authenticator.Middleware(), requestContextMiddleware)

	var chatMiddlewares []echo.MiddlewareFunc
	if s.chatRateLimiter != nil {
		chatMiddlewares = append(chatMiddlewares, s.chatRateLimiter.Middleware(func(c echo.Context) string {
			return auth.UserIDFromContext(c.Request().Context())
		}))
	}
	api.POST("/chat", s.Chat, chatMiddlewares...)
	api.POST("/chat/send", s.SendChat, chatMiddlewares...)

	api.GET("/conversations", s.ListConversations)
	api.GET("/conversations/:id", s.GetConversation)
	api.PATCH("/conversations/:id", s.UpdateConversation)
	api.DELETE("/conversations/:id", s.DeleteConversation)
}

// requestContextMiddleware attaches a request-scoped logger carrying the
// request id, the caller and the route.
func requestContextMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		reqCtx := observability.NewRequestContextWithID(
			slog.Default(),
			req.Header.Get(echo.HeaderXRequestID),
			req.Method+" "+c.Path(),
			auth.UserIDFromContext(req.Context()),
		)
		c.Response().Header().Set(echo.HeaderXRequestID, reqCtx.RequestID)
		c.SetRequest(req.WithContext(observability.WithRequestContext(req.Context(), reqCtx)))
		return next(c)
	}
}

// currentUserID returns the caller set by the authenticator.
func currentUserID(c echo.Context) (string, error) {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return "", errUnauthenticated
	}
	return userID, nil
}
