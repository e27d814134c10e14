package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/concierge/internal/profile"
	"github.com/hrygo/concierge/plugin/ai"
	"github.com/hrygo/concierge/plugin/ai/autoreply"
	"github.com/hrygo/concierge/plugin/ai/settings"
	"github.com/hrygo/concierge/plugin/chat"
	"github.com/hrygo/concierge/plugin/realtime"
	"github.com/hrygo/concierge/server/auth"
	"github.com/hrygo/concierge/server/internal/observability"
	"github.com/hrygo/concierge/server/middleware"
	apiv1 "github.com/hrygo/concierge/server/router/api/v1"
	"github.com/hrygo/concierge/store"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepPeriod     = time.Minute
)

// closer is a feed that owns background resources.
type closer interface {
	Close() error
}

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	metrics    *observability.Metrics
	settings   *settings.Cache
	manager    *realtime.Manager
	effects    *chat.Effects
	feed       realtime.Feed

	memoryCooldown *middleware.MemoryCooldown
	redisCooldown  *middleware.RedisCooldown

	releaseOnce sync.Once
}

// NewServer wires the realtime manager, settings cache, auto-reply pipeline,
// cooldown and HTTP routes around an already migrated store. The server owns the store from
// here on and closes it on shutdown, or right away when wiring fails.
func NewServer(ctx context.Context, p *profile.Profile, s *store.Store) (*Server, error) {
	server := &Server{
		Profile:  p,
		Store:    s,
		metrics:  observability.NewMetrics(),
		settings: settings.NewCache(s, p.SettingsTTL),
	}

	server.effects = chat.NewEffects(chat.DefaultEffectConcurrency, chat.DefaultEffectTimeout)
	server.effects.OnFailure = func(name string, _ error) {
		server.metrics.EffectFailures.WithLabelValues(name).Inc()
	}

	server.feed = server.newFeed()
	server.manager = realtime.NewManager(realtime.Options{
		Feed:             server.feed,
		Poll:             chat.PollLatest(s, chat.DefaultPageSize),
		Gate:             server.settings.RealtimeEnabled,
		PollInterval:     p.PollInterval,
		HandshakeTimeout: p.HandshakeTimeout,
		OnHealthChange: func(_ string, health realtime.Health) {
			server.metrics.RealtimeHealth.WithLabelValues(string(health.State)).Inc()
		},
	})

	provider, err := autoreply.NewProviderFromConfig(ai.NewConfigFromProfile(p))
	if err != nil {
		slog.Warn("failed to create ai provider, replying with stubs", "error", err)
	}
	pipeline := autoreply.NewPipeline(s, server.settings, provider)
	pipeline.OnOutcome = func(outcome autoreply.Outcome) {
		server.metrics.AutoReplies.WithLabelValues(string(outcome)).Inc()
	}

	var cooldown middleware.Cooldown
	if p.RedisAddr != "" {
		config := middleware.DefaultRedisConfig()
		config.Addr = p.RedisAddr
		redisCooldown, err := middleware.NewRedisCooldown(ctx, config, p.SendCooldown)
		if err != nil {
			server.release()
			return nil, err
		}
		server.redisCooldown = redisCooldown
		cooldown = redisCooldown
	} else {
		server.memoryCooldown = middleware.NewMemoryCooldown(p.SendCooldown)
		cooldown = server.memoryCooldown
	}

	echoServer := echo.New()
	echoServer.Debug = p.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(echomiddleware.Recover())
	echoServer.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Int64(observability.LogFieldDuration, v.Latency.Milliseconds()),
			}
			if reqCtx, ok := observability.FromContext(c.Request().Context()); ok {
				attrs = append(attrs, slog.String(observability.LogFieldRequestID, reqCtx.RequestID))
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			slog.LogAttrs(context.Background(), level, "request", attrs...)
			return nil
		},
	}))
	server.echoServer = echoServer

	apiV1Service := apiv1.NewAPIV1Service(
		p,
		s,
		auth.NewAuthenticator(p.JWTSecret),
		cooldown,
		server.settings,
		server.manager,
		server.effects,
		pipeline,
		server.metrics,
	)
	apiV1Service.Register(echoServer)
	return server, nil
}

// newFeed picks the change feed. Postgres deployments listen for
// notifications so that writes from every instance are seen; otherwise the
// in-process hub only sees this process's writes.
func (s *Server) newFeed() realtime.Feed {
	if s.Profile.Driver == "postgres" {
		feed, err := realtime.NewPGFeed(s.Profile.DSN, s.Store)
		if err == nil {
			return feed
		}
		slog.Warn("failed to start postgres change feed, using in-process hub", "error", err)
	}
	hub := realtime.NewHub()
	s.Store.AddMessageListener(hub.Publish)
	return hub
}

// Start serves HTTP until ctx is done or the listener fails, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "address", address, "version", s.Profile.Version, "mode", s.Profile.Mode)
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "failed to start server")
		}
		return nil
	})
	if s.memoryCooldown != nil {
		g.Go(func() error {
			return s.memoryCooldown.Run(gctx, sweepPeriod)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.Shutdown(context.Background())
		return nil
	})
	return g.Wait()
}

// Shutdown stops accepting requests, then releases subscriptions, effects and
// the store. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	slog.Info("server shutting down")
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}
	s.release()
}

func (s *Server) release() {
	s.releaseOnce.Do(s.releaseResources)
}

func (s *Server) releaseResources() {
	if s.manager != nil {
		s.manager.Close()
	}
	switch feed := s.feed.(type) {
	case *realtime.Hub:
		feed.Close()
	case closer:
		if err := feed.Close(); err != nil {
			slog.Error("failed to close change feed", "error", err)
		}
	}
	if s.effects != nil {
		s.effects.Close()
	}
	if s.redisCooldown != nil {
		if err := s.redisCooldown.Close(); err != nil {
			slog.Error("failed to close redis", "error", err)
		}
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}
}
