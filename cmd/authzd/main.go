package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/alanvitalp/road-to-next/pkg/async"
	"github.com/alanvitalp/road-to-next/pkg/audit"
	"github.com/alanvitalp/road-to-next/pkg/auth"
	"github.com/alanvitalp/road-to-next/pkg/config"
	"github.com/alanvitalp/road-to-next/pkg/middleware"
	"github.com/alanvitalp/road-to-next/pkg/observability"
	"github.com/alanvitalp/road-to-next/pkg/rbac"
	"github.com/alanvitalp/road-to-next/pkg/tenants"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authzd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting authorization service")

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("database not reachable: %w", err)
	}

	if err := rbac.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("migrations applied")

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var auditLogger audit.Logger = audit.NopLogger{}
	if cfg.Audit.Enabled {
		fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: cfg.Audit.BasePath,
		})
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer fileLogger.Close()
		auditLogger = fileLogger
	}

	store := rbac.NewStore(db)
	var resolver *rbac.Resolver
	if cfg.Cache.RedisURL != "" {
		redisClient, err := rbac.NewRedisClient(cfg.Cache.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		resolver = rbac.NewResolverWithRedis(store, logger, metrics, redisClient, cfg.Cache.TTL)
		logger.Info("using shared redis snapshot cache")
	} else {
		resolver = rbac.NewResolver(store, logger, metrics, cfg.Cache.Size, cfg.Cache.TTL)
	}
	guard := rbac.NewGuard(store, resolver, logger, metrics)
	seeder := rbac.NewSeeder(store, logger)
	tenantService := tenants.NewPostgresService(db, resolver, logger)

	reconcile := func() {
		async.Go(ctx, logger, 10*time.Minute, "default role reconciliation", func(ctx context.Context) error {
			err := seeder.Reconcile(ctx)
			if metrics != nil {
				status := "success"
				if err != nil {
					status = "failure"
				}
				metrics.SeederRunsTotal.WithLabelValues(status).Inc()
			}
			return err
		})
	}
	if cfg.Seeder.RunOnStartup {
		reconcile()
	}

	var scheduler *cron.Cron
	if cfg.Seeder.CronSpec != "" {
		scheduler = cron.New()
		if _, err := scheduler.AddFunc(cfg.Seeder.CronSpec, reconcile); err != nil {
			return fmt.Errorf("invalid seeder cron spec %q: %w", cfg.Seeder.CronSpec, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	authenticator := auth.NewStaticAuthenticator(cfg.Auth.StaticTokens)
	if cfg.Auth.TokensFile != "" {
		tokens, err := auth.LoadTokenFile(cfg.Auth.TokensFile)
		if err != nil {
			return fmt.Errorf("failed to load token file: %w", err)
		}
		authenticator.Replace(tokens)
		if err := watchTokenFile(ctx, logger, cfg.Auth.TokensFile, authenticator); err != nil {
			return fmt.Errorf("failed to watch token file: %w", err)
		}
	}
	authMiddleware := middleware.NewAuthMiddleware(authenticator, cfg.Auth.Optional)

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(mux.MiddlewareFunc(authMiddleware.Handler))

	rbacHandlers := rbac.NewHandlers(store, resolver, guard, logger, auditLogger)
	rbacHandlers.RegisterRoutes(api)
	tenantHandlers := tenants.NewHandlers(tenantService, logger, auditLogger)
	tenantHandlers.RegisterRoutes(api)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthHandler(db)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Live)
	healthMux.HandleFunc("/readyz", health.Ready)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	if metrics != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					health.CollectDBStats(metrics)
				}
			}
		}()
	}

	errCh := make(chan error, 2)
	go func() {
		logger.WithField("addr", server.Addr).Info("api server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("health server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("api server shutdown failed")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("health server shutdown failed")
	}
	return nil
}

// watchTokenFile reloads the static token table whenever the file changes.
// The watch is on the parent directory because most editors and config
// management tools replace the file rather than writing it in place.
func watchTokenFile(ctx context.Context, logger *observability.Logger, path string, authenticator *auth.StaticAuthenticator) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				async.Go(ctx, logger, 5*time.Second, "token file reload", func(context.Context) error {
					tokens, err := auth.LoadTokenFile(path)
					if err != nil {
						// Keep serving the previous table on a bad reload.
						return err
					}
					authenticator.Replace(tokens)
					logger.WithField("tokens", len(tokens)).Info("token table reloaded")
					return nil
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("token file watcher error")
			}
		}
	}()
	return nil
}
