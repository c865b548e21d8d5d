package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-authorizations/adapters/gologger"
	"github.com/goliatone/go-authorizations/adapters/promrecorder"
	"github.com/goliatone/go-authorizations/core"
	"github.com/goliatone/go-authorizations/httpapi"
	authmigrations "github.com/goliatone/go-authorizations/migrations"
	"github.com/goliatone/go-authorizations/providers/google"
	"github.com/goliatone/go-authorizations/security"
	"github.com/goliatone/go-authorizations/store/redislock"
	sqlstore "github.com/goliatone/go-authorizations/store/sql"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("authorizationsd stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg daemonConfig, baseLogger glog.Logger) error {
	provider, logger := gologger.Resolve("authorizationsd", nil, baseLogger)

	client, err := openPersistence(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	store, err := buildStore(client, cfg, provider.GetLogger("authorizations.cache"))
	if err != nil {
		return err
	}

	googleCfg := google.DefaultConfig()
	googleCfg.ClientID = cfg.GoogleClientID
	googleCfg.ClientSecret = cfg.GoogleClientSecret
	googleCfg.RedirectURL = cfg.GoogleRedirectURL
	oauthClient, err := google.New(googleCfg)
	if err != nil {
		return err
	}

	opts := []core.Option{
		core.WithConfigProvider(core.NewCfgxConfigProvider(core.StaticConfigLoader{Values: cfg.rawServiceConfig()})),
		core.WithAuthorizationStore(store),
		core.WithOAuthClient(oauthClient),
		core.WithLoggerProvider(provider),
	}
	redisClient, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		locker, lockErr := redislock.New(redisClient)
		if lockErr != nil {
			return lockErr
		}
		opts = append(opts, core.WithRecordLocker(locker))
	}
	var registry *prometheus.Registry
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, core.WithMetricsRecorder(promrecorder.New(promrecorder.WithRegisterer(registry))))
	}

	service, err := core.NewService(core.Config{}, opts...)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	handler, err := httpapi.NewHandler(service, httpapi.Config{
		CallbackURL:   cfg.GoogleRedirectURL,
		FinalRedirect: service.Config().Redirect.FinalRedirect(),
		Owners:        httpapi.HeaderOwnerResolver{Header: cfg.OwnerHeader},
		Logger:        provider.GetLogger("authorizations.http"),
	})
	if err != nil {
		return err
	}
	router, err := httpapi.NewRouter(handler, httpapi.RouterConfig{
		Prefix:        cfg.RoutePrefix,
		SessionSecret: []byte(cfg.SessionSecret),
		SecureCookies: cfg.SecureCookies,
	})
	if err != nil {
		return err
	}
	if registry != nil {
		router.GET(cfg.MetricsPath, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		logger.Info("authorizationsd listening", "addr", cfg.Addr, "table", cfg.tableName())
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("authorizationsd shutting down")
	return server.Shutdown(shutdownCtx)
}

func openPersistence(ctx context.Context, cfg daemonConfig) (*persistence.Client, error) {
	dialectName, err := authmigrations.DialectForDriver(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	var dialect schema.Dialect
	switch dialectName {
	case authmigrations.DialectSQLite:
		dialect = sqlitedialect.New()
	default:
		dialect = pgdialect.New()
	}

	sqlDB, err := sql.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("authorizationsd: open database: %w", err)
	}
	if dialectName == authmigrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("authorizationsd: persistence client: %w", err)
	}
	if !cfg.AutoMigrate {
		return client, nil
	}

	if _, err := authmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != dialectName {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, authmigrations.WithValidationTargets(dialectName), authmigrations.WithTable(cfg.tableName())); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("authorizationsd: migrate: %w", err)
	}
	return client, nil
}

// openRedis connects the shared lease store when an address is configured.
// Without one the service keeps its in-process locker.
func openRedis(ctx context.Context, cfg daemonConfig) (*redis.Client, error) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.RedisConnTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("authorizationsd: connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}

func buildStore(client *persistence.Client, cfg daemonConfig, logger glog.Logger) (core.AuthorizationStore, error) {
	opts := []sqlstore.StoreOption{sqlstore.WithTable(cfg.tableName())}
	secrets, err := secretProvider(cfg)
	if err != nil {
		return nil, err
	}
	if secrets != nil {
		opts = append(opts, sqlstore.WithSecretProvider(secrets))
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, opts...)
	if err != nil {
		return nil, err
	}
	var store core.AuthorizationStore = factory.AuthorizationStore()
	if !cfg.CacheListings {
		return store, nil
	}

	cacheCfg := repositorycache.DefaultConfig()
	if cfg.CacheTTL > 0 {
		cacheCfg.TTL = cfg.CacheTTL
	}
	cacheService, err := repositorycache.NewCacheService(cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("authorizationsd: cache service: %w", err)
	}
	cached, err := sqlstore.NewCachedAuthorizationStore(store, cacheService, sqlstore.WithCacheLogger(logger))
	if err != nil {
		return nil, err
	}
	return cached, nil
}

// secretProvider seals tokens at rest when an app key is configured. A
// retired key keeps rows sealed before a rotation readable.
func secretProvider(cfg daemonConfig) (core.SecretProvider, error) {
	if strings.TrimSpace(cfg.AppKey) == "" {
		return nil, nil
	}
	primary, err := security.NewAppKeySecretProviderFromString(cfg.AppKey, security.WithKeyID("primary"))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.RetiredAppKey) == "" {
		return primary, nil
	}
	retired, err := security.NewAppKeySecretProviderFromString(cfg.RetiredAppKey, security.WithKeyID("retired"))
	if err != nil {
		return nil, err
	}
	rotating, err := security.NewRotatingSecretProvider(primary, security.WithRetiredSecretProvider(retired))
	if err != nil {
		return nil, err
	}
	return rotating, nil
}
