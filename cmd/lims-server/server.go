package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/config"
	"github.com/lims/lims/internal/domain/account"
	"github.com/lims/lims/internal/domain/alerts"
	"github.com/lims/lims/internal/domain/catalog"
	"github.com/lims/lims/internal/domain/facility"
	"github.com/lims/lims/internal/domain/lab"
	"github.com/lims/lims/internal/domain/staff"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/metrics"
	"github.com/lims/lims/internal/platform/middleware"
	"github.com/lims/lims/internal/platform/notification"
	"github.com/lims/lims/internal/platform/webhook"
	"github.com/lims/lims/internal/platform/websocket"
)

const (
	version         = "0.1.0"
	requestTimeout  = 30 * time.Second
	maxBodySize     = "2M"
	shutdownTimeout = 10 * time.Second
	wsPath          = "/api/v1/ws"
)

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.IsDev())
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	issuer, err := newIssuer(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid signing key")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(prometheus.NewRegistry())
	}

	svc := newServices(pool, issuer)
	hub := websocket.NewHub(logger)
	notifier := newNotifier(logger)
	svc.lab.SetNotifier(notifier, logger)
	if m != nil {
		svc.lab.SetMetrics(m)
	}

	webhooks := newWebhooks(webhook.NewStore(pool), logger)

	e := newEcho(cfg, logger, issuer, m)
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant, auth.TenantSkipper))
	e.Use(middleware.Audit(logger))
	e.GET("/health/db", db.HealthHandler(pool))

	alertsHandler := alerts.NewHandler(svc.alerts)
	registerRoutes(e, cfg, routeSet{
		account:   account.NewHandler(svc.account),
		facility:  facility.NewHandler(svc.facility),
		catalog:   catalog.NewHandler(svc.catalog),
		staff:     staff.NewHandler(svc.staff),
		lab:       lab.NewHandler(svc.lab),
		alerts:    alertsHandler,
		notify:    notification.NewHandler(notifier),
		webhooks:  webhook.NewHandler(webhooks),
		websocket: websocket.NewHandler(hub, alertsHandler.Authorize, cfg.CORSOrigins, logger),
	})

	dispatcher := webhook.NewDispatcher(webhooks, webhook.TenantFunc(alerts.PoolTenants(pool)), webhook.DispatcherConfig{}, logger)
	watcher := alerts.NewWatcher(alerts.WatcherConfig{
		Tenants:  cfg.AlertTenants,
		Interval: cfg.AlertPollInterval,
	}, svc.alerts, websocket.Publishers{hub, dispatcher}, alerts.PoolTenants(pool), logger)
	if m != nil {
		watcher.SetMetrics(m)
	}
	watchCtx, stopWatcher := context.WithCancel(ctx)
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		_ = watcher.Run(watchCtx)
	}()
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		_ = dispatcher.Run(watchCtx)
	}()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopWatcher()
	<-watcherDone
	<-dispatcherDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newNotifier(logger zerolog.Logger) *notification.Manager {
	sender := notification.LogSender{Logger: logger.With().Str("component", "notification").Logger()}
	return notification.NewManager(sender, sender, notification.NewTemplateEngine())
}

// newWebhooks returns the manager for outbound alert webhooks. Endpoints may
// subscribe to the alert kinds only.
func newWebhooks(store webhook.Store, logger zerolog.Logger) *webhook.Manager {
	kinds := make([]string, 0, len(alerts.Kinds))
	for _, k := range alerts.Kinds {
		kinds = append(kinds, string(k))
	}
	return webhook.NewManager(store, logger, webhook.WithKinds(kinds...))
}

// newEcho builds the server with the middleware that does not need the
// database.
func newEcho(cfg *config.Config, logger zerolog.Logger, issuer *auth.Issuer, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))
	e.Use(middleware.RequestTimeout(requestTimeout, func(path string) bool {
		return strings.HasPrefix(path, wsPath)
	}))
	if m != nil {
		e.Use(middleware.Metrics(m))
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}

	jwtCfg := issuer.Config()
	jwtCfg.Skipper = auth.AuthSkipper
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	return e
}

type routeSet struct {
	account   *account.Handler
	facility  *facility.Handler
	catalog   *catalog.Handler
	staff     *staff.Handler
	lab       *lab.Handler
	alerts    *alerts.Handler
	notify    *notification.Handler
	webhooks  *webhook.Handler
	websocket *websocket.Handler
}

func registerRoutes(e *echo.Echo, cfg *config.Config, r routeSet) {
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	r.account.RegisterRoutes(apiV1)
	r.facility.RegisterRoutes(apiV1)
	r.catalog.RegisterRoutes(apiV1)
	r.staff.RegisterRoutes(apiV1)
	r.lab.RegisterRoutes(apiV1)
	r.alerts.RegisterRoutes(apiV1)
	admin := apiV1.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	r.notify.RegisterRoutes(admin)
	r.webhooks.RegisterRoutes(admin)
	r.websocket.RegisterRoutes(apiV1)
}
