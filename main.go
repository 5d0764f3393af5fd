package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"ops-console/api"
	"ops-console/config"
	"ops-console/domain"
	"ops-console/jobs"
	"ops-console/layout"
	"ops-console/session"
	"ops-console/storage"
	"ops-console/tracing"
	"ops-console/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		tp, err := tracing.NewProvider(ctx, tracing.Config{Endpoint: cfg.OTLPEndpoint, ServiceName: "ops-console"})
		if err != nil {
			logger.Fatalf("tracing: %v", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(sctx); err != nil {
				logger.WithError(err).Warn("tracer shutdown")
			}
		}()
	}

	redisOpts, err := config.RedisOptions(cfg.RedisConnectionString)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	// The local store always backs job history; layouts use it only in the
	// local and remote+local modes.
	localStore, err := storage.OpenLocalStore(cfg.LocalStorePath)
	if err != nil {
		logger.Fatalf("local store: %v", err)
	}
	defer localStore.Close()

	var remote, local storage.Gateway
	if cfg.PersistenceMode != storage.ModeLocal {
		store, err := storage.New(cfg.StorageConnectionString, cfg.LayoutsTable, cfg.LayoutEventsQueue, logger)
		if err != nil {
			logger.Fatalf("storage: %v", err)
		}
		remote = storage.NewCache(store, rc, cfg.LayoutCacheTTL)
	}
	if cfg.PersistenceMode != storage.ModeRemote {
		local = localStore
	}
	gateway, err := storage.Select(cfg.PersistenceMode, remote, local, logger)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}

	var retry *session.RetryQueue
	if cfg.SaveRetryEnabled {
		retry = session.NewRetryQueue(cfg.SaveRetry, gateway, nil, logger)
		defer retry.Close()
	}
	sessions := session.NewRegistry(gateway, session.RegistryConfig{
		Defaults:    layout.DefaultItems,
		Autosave:    cfg.AutosaveDefault,
		Retry:       retry,
		Logger:      logger,
		LoadTimeout: cfg.SessionLoadTimeout,
		IdleTTL:     cfg.SessionIdleTTL,
	})

	client, err := upstream.New(cfg.UpstreamBaseURL, cfg.UpstreamToken, cfg.UpstreamTimeout)
	if err != nil {
		logger.Fatalf("upstream: %v", err)
	}
	pollOpts := []jobs.Option{
		jobs.WithInterval(cfg.PollInterval),
		jobs.WithMaxConsecutiveErrors(cfg.PollMaxErrors),
		jobs.WithLogger(logger),
	}
	syncs := jobs.NewPoller[domain.SyncStatus]("sync", client.SyncStatus,
		jobs.NewStoredHistory[domain.SyncStatus](localStore, "sync", cfg.JobHistorySize), pollOpts...)
	defer syncs.Close()
	deployments := jobs.NewPoller[domain.DeploymentStatus]("deployment", client.DeploymentStatus,
		jobs.NewStoredHistory[domain.DeploymentStatus](localStore, "deployment", cfg.JobHistorySize), pollOpts...)
	defer deployments.Close()

	var jwks *keyfunc.JWKS
	if !cfg.Auth.TestMode {
		jwks, err = keyfunc.Get(cfg.Auth.JWKSURL(), keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logger.WithError(err).Warn("jwks refresh failed")
			},
		})
		if err != nil {
			logger.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
	}
	authCfg := api.AuthConfig{
		Audience:          cfg.Auth.Audience,
		Issuer:            cfg.Auth.Issuer(),
		RolesClaim:        cfg.Auth.RolesClaim,
		RoleTemplateClaim: cfg.Auth.RoleTemplateClaim,
		KeyCacheTTL:       cfg.Auth.JWKSCacheTTL,
	}
	if cfg.Auth.TestMode {
		authCfg.TestSecret = []byte(cfg.Auth.TestSecret)
		logger.Warn("auth test mode enabled, tokens are verified with a shared secret")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	e.Use(echoprometheus.NewMiddleware("ops_console"))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api.Register(e, api.Deps{
		Sessions:    sessions,
		Templates:   layout.NewCatalog(layout.DefaultTemplates()...),
		Imports:     api.NewRedisImports(rc, cfg.ImportTokenTTL),
		Auth:        api.NewAuth(jwks, authCfg),
		Upstream:    client,
		Syncs:       syncs,
		Deployments: deployments,
		Health: map[string]api.HealthCheck{
			"redis": func(ctx context.Context) error { return rc.Ping(ctx).Err() },
		},
		Logger: logger,
	})

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()
	logger.WithFields(log.Fields{"addr": cfg.ListenAddr, "mode": cfg.PersistenceMode}).Info("ops-console started")

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server shutdown")
	}
}
