package v1

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/concierge/internal/profile"
	"github.com/hrygo/concierge/plugin/ai/settings"
	"github.com/hrygo/concierge/plugin/chat"
	"github.com/hrygo/concierge/plugin/realtime"
	"github.com/hrygo/concierge/server/auth"
	apierrors "github.com/hrygo/concierge/server/internal/errors"
	"github.com/hrygo/concierge/server/internal/observability"
	"github.com/hrygo/concierge/server/middleware"
	"github.com/hrygo/concierge/store"
)

type APIV1Service struct {
	Profile       *profile.Profile
	Store         *store.Store
	Authenticator *auth.Authenticator
	Cooldown      middleware.Cooldown
	Settings      *settings.Cache
	Realtime      *realtime.Manager
	Effects       *chat.Effects
	// AutoReply runs after customer messages stored by the send endpoint.
	// Nil disables it.
	AutoReply chat.AutoReplier
	Metrics   *observability.Metrics
}

func NewAPIV1Service(p *profile.Profile, s *store.Store, authenticator *auth.Authenticator, cooldown middleware.Cooldown, settingsCache *settings.Cache, manager *realtime.Manager, effects *chat.Effects, autoReply chat.AutoReplier, metrics *observability.Metrics) *APIV1Service {
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	if effects == nil {
		effects = chat.NewEffects(chat.DefaultEffectConcurrency, chat.DefaultEffectTimeout)
	}
	return &APIV1Service{
		Profile:       p,
		Store:         s,
		Authenticator: authenticator,
		Cooldown:      cooldown,
		Settings:      settingsCache,
		Realtime:      manager,
		Effects:       effects,
		AutoReply:     autoReply,
		Metrics:       metrics,
	}
}

// Register mounts every route of the service on e.
func (s *APIV1Service) Register(e *echo.Echo) {
	e.Use(s.requestContext, s.authenticate)

	e.GET("/healthz", s.Healthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.Metrics.Registry(), promhttp.HandlerOpts{})))

	// Any method is routed so that the handler answers 405 in the error envelope.
	e.Any(chat.SendMessagePath, s.SendMessage)

	api := e.Group("/api/v1")
	api.GET("/conversations/public", s.GetPublicConversation)
	api.POST("/conversations/private", s.GetOrCreatePrivateConversation, requireAuth)
	api.GET("/conversations/:id/messages", s.ListMessages)
	api.POST("/conversations/:id/read", s.MarkConversationRead, requireAuth)
	api.GET("/conversations/:id/stream", s.StreamMessages)

	admin := api.Group("/admin", requireAdmin)
	admin.GET("/conversations", s.AdminListConversations)
	admin.POST("/conversations/public", s.AdminCreatePublicConversation)
	admin.GET("/conversations/:id", s.AdminGetConversation)
	admin.GET("/ai-settings", s.AdminGetAISettings)
	admin.PUT("/ai-settings", s.AdminUpdateAISettings)
}

type dataResponse struct {
	Data any `json:"data"`
}

type errorResponse struct {
	Error chat.ErrorBody `json:"error"`
}

func ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, dataResponse{Data: data})
}

// writeError answers err in the error envelope, mirroring the status in the
// body. Errors that are not APIErrors are answered as INTERNAL.
func writeError(c echo.Context, err error) error {
	var apiErr *apierrors.APIError
	if !errors.As(err, &apiErr) {
		apiErr = apierrors.Internal("internal error", err)
	}
	reqCtx := observability.LoggerFrom(c.Request().Context())
	if apiErr.Code == apierrors.ErrCodeInternal || apiErr.Code == apierrors.ErrCodeServiceUnavailable {
		cause := err
		if apiErr.Cause != nil {
			cause = apiErr.Cause
		}
		reqCtx.Error(apiErr.Message, cause, slog.String(observability.LogFieldErrorCode, string(apiErr.Code)))
	}

	body := chat.ErrorBody{Message: apiErr.Message, Status: apiErr.Status()}
	if len(apiErr.Details) > 0 {
		body.Details = apiErr.Details
	}
	return c.JSON(apiErr.Status(), errorResponse{Error: body})
}

// requestContext attaches a request-scoped logger.
func (s *APIV1Service) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := c.Request().Header.Get(echo.HeaderXRequestID)
		reqCtx := observability.NewRequestContextWithID(slog.Default(), requestID, c.Path())
		c.Response().Header().Set(echo.HeaderXRequestID, reqCtx.RequestID)
		c.SetRequest(c.Request().WithContext(observability.WithRequestContext(c.Request().Context(), reqCtx)))
		return next(c)
	}
}

// authenticate resolves the bearer token when one is presented. A missing or
// invalid token leaves the caller anonymous; the rejection is kept on the
// context for the routes that require an identity.
func (s *APIV1Service) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" {
			return next(c)
		}
		identity, err := s.Authenticator.Authenticate(header)
		if err != nil {
			c.SetRequest(c.Request().WithContext(auth.WithTokenError(c.Request().Context(), err)))
			return next(c)
		}
		ctx := auth.WithIdentity(c.Request().Context(), identity)
		if reqCtx, ok := observability.FromContext(ctx); ok {
			reqCtx.UserID = identity.UserID
		}
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// unauthenticated is the 401 for a caller without an identity, naming a
// rejected token when one was presented.
func unauthenticated(ctx context.Context) *apierrors.APIError {
	if auth.TokenErrorFrom(ctx) != nil {
		return apierrors.Unauthorized("invalid bearer token")
	}
	return apierrors.Unauthorized("authentication required")
}

func requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if auth.IdentityFrom(c.Request().Context()) == nil {
			return writeError(c, unauthenticated(c.Request().Context()))
		}
		return next(c)
	}
}

func requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity := auth.IdentityFrom(c.Request().Context())
		if identity == nil {
			return writeError(c, unauthenticated(c.Request().Context()))
		}
		if !identity.IsAdmin() {
			return writeError(c, apierrors.Forbidden("admin role required"))
		}
		return next(c)
	}
}

// Healthz reports liveness along with the store's reachability.
func (s *APIV1Service) Healthz(c echo.Context) error {
	status := "ok"
	code := http.StatusOK
	if err := s.Store.GetDriver().GetDB().PingContext(c.Request().Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]string{
		"status":  status,
		"version": s.Profile.Version,
		"mode":    s.Profile.Mode,
	})
}

// clientFor builds a request-scoped chat client acting as identity.
func (s *APIV1Service) clientFor(identity *chat.Identity) *chat.Client {
	// NewClient only fails without a backend.
	client, _ := chat.NewClient(chat.Options{
		Backend:  s.Store,
		Manager:  s.Realtime,
		Effects:  s.Effects,
		Identity: chat.StaticIdentity(identity),
	})
	return client
}
