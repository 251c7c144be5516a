// tfconnect-authd is the ThreeFold Connect authentication service for
// the Mycelium Chat homeserver. It verifies TF Connect credentials,
// maps identities onto local accounts, and exposes the Matrix login
// surface plus health and metrics endpoints.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mik-tf/mycelium-chat/pkg/account"
	"github.com/mik-tf/mycelium-chat/pkg/api"
	"github.com/mik-tf/mycelium-chat/pkg/broker"
	"github.com/mik-tf/mycelium-chat/pkg/cache"
	"github.com/mik-tf/mycelium-chat/pkg/config"
	"github.com/mik-tf/mycelium-chat/pkg/observability"
	"github.com/mik-tf/mycelium-chat/pkg/ratelimit"
	"github.com/mik-tf/mycelium-chat/pkg/verify"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "tfconnect-authd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.ParseLogLevel(cfg.Telemetry.LogLevel), os.Stdout)
	setLogrusLevel(cfg.Telemetry.LogLevel)

	logger.WithFields(map[string]interface{}{
		"version":     version,
		"server_name": cfg.TFConnect.ServerName,
		"idp":         cfg.TFConnect.APIBaseURL,
	}).Info("starting tfconnect-authd")

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Telemetry.OTelEnabled,
		Endpoint:       cfg.Telemetry.OTelEndpoint,
		ServiceName:    cfg.Telemetry.OTelServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Telemetry.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}

	// Cache tiers. A Redis connect failure is survivable: the service
	// runs on the in-process fallback alone.
	var primary cache.Store
	var redisClient *redis.Client
	redisStore, err := cache.NewRedisStore(cache.RedisConfig{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	})
	if err != nil {
		logger.WithError(err).Warn("redis unavailable, running on in-process cache only")
	} else {
		primary = redisStore
		redisClient = redisStore.Client()
	}
	store := cache.NewTieredStore(primary, cache.NewMemoryStore(cfg.Cache.MemoryCacheSize), logger, metrics)
	defer store.Close()

	// Account store: the homeserver database when configured, otherwise
	// in-memory for development.
	var accounts account.Store
	var db *sql.DB
	if cfg.Account.PostgresURL != "" {
		pg, err := account.NewPostgresStore(account.PostgresConfig{URL: cfg.Account.PostgresURL})
		if err != nil {
			return fmt.Errorf("account store init failed: %w", err)
		}
		defer pg.Close()
		accounts = pg
		db = pg.DB()
	} else {
		logger.Warn("no postgres URL configured, using in-memory account store")
		accounts = account.NewMemoryStore()
	}

	limiter := ratelimit.New(ratelimit.Config{
		MaxAttempts: cfg.TFConnect.MaxLoginAttempts,
		Window:      cfg.TFConnect.RateLimitWindow,
	})

	tokens := verify.NewTokenVerifier(store, cfg.TFConnect.APIBaseURL, cfg.TFConnect.AppID, cfg.TFConnect.TokenCacheTTL, logger, metrics)
	sessions := verify.NewSessions(store, cfg.TFConnect.SessionTimeout, logger, metrics)
	provisioner := account.NewProvisioner(accounts, logger, metrics)

	b := broker.New(broker.Config{
		ServerName:     cfg.TFConnect.ServerName,
		AllowedDomains: cfg.TFConnect.AllowedDomains,
		UserCacheTTL:   cfg.TFConnect.UserCacheTTL,
	}, limiter, tokens, sessions, provisioner, store, logger, metrics)

	apiServer := api.NewServer(api.Config{
		ServerName:  cfg.TFConnect.ServerName,
		APIBaseURL:  cfg.TFConnect.APIBaseURL,
		AppID:       cfg.TFConnect.AppID,
		RedirectURI: cfg.TFConnect.RedirectURI,
		Scope:       cfg.TFConnect.Scope,
	}, b, sessions, metrics)

	// Background maintenance: sweep expired fallback-cache entries and
	// idle rate-limit windows.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 5m", func() {
		if removed := store.Sweep(); removed > 0 {
			logger.WithField("removed", removed).Debug("swept expired cache entries")
		}
		limiter.Cleanup()
	}); err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Hot reload: tighten the domain allow-list without a restart.
	if configPath != "" {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			b.SetAllowedDomains(next.TFConnect.AllowedDomains)
			logger.WithField("allowed_domains", next.TFConnect.AllowedDomains).Info("config reloaded")
		}, func(err error) {
			logger.WithError(err).Warn("config reload failed")
		})
		if err != nil {
			logger.WithError(err).Warn("config watcher unavailable")
		}
	}

	mainSrv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, redisClient, cfg.TFConnect.APIBaseURL, version)
	observability.RegisterHealthRoutes(healthMux, checker)
	healthMux.Handle("/metrics", observability.Handler(registry))
	healthSrv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	sm := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, mainSrv, healthSrv)
	if tp != nil {
		sm.RegisterShutdownFunc(tp.Shutdown)
	}
	sm.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		return nil
	})

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("login API listening on %s", mainSrv.Addr)
		if err := mainSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("health/metrics listening on %s", healthSrv.Addr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sm.WaitForShutdown()
	})

	return g.Wait()
}

func setLogrusLevel(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	if parsed, err := logrus.ParseLevel(level); err == nil {
		logrus.SetLevel(parsed)
	}
}
