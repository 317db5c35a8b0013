// Package main provides the entry point for the authorization service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nnipa/authz-service/internal/api/ops"
	"github.com/nnipa/authz-service/internal/api/rest"
	"github.com/nnipa/authz-service/internal/cache"
	"github.com/nnipa/authz-service/internal/conditions"
	"github.com/nnipa/authz-service/internal/config"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/internal/engine"
	"github.com/nnipa/authz-service/internal/events"
	"github.com/nnipa/authz-service/internal/metrics"
	"github.com/nnipa/authz-service/internal/policy"
	"github.com/nnipa/authz-service/internal/server"
	"github.com/nnipa/authz-service/internal/service"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		migrateOnly = flag.Bool("migrate", false, "Run pending migrations and exit")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("authz-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, logLevel := initLogger(cfg.Log)
	defer logger.Sync()

	if cfg.Database.MigrateOnStart || *migrateOnly {
		if err := runMigrations(cfg.Database, logger); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		if *migrateOnly {
			logger.Info("Migrations complete")
			return
		}
	}

	logger.Info("Starting authorization service",
		zap.String("version", Version),
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("grpc_port", cfg.Server.GRPCPort),
		zap.Int("ops_port", cfg.Server.OpsPort),
	)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Relational store
	sqlDB, err := db.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime.Std())
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	store, err := db.NewPostgresStore(sqlDB)
	if err != nil {
		logger.Fatal("Failed to create store", zap.Error(err))
	}

	// Redis backs the decision cache and the event streams; skip the
	// connection entirely when neither wants it.
	var redisClient redis.UniversalClient
	if cfg.Events.Enabled || cfg.Cache.Backend == "redis" {
		redisClient, err = cache.NewRedisClient(cache.RedisOptions{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout.Std(),
			ReadTimeout:  cfg.Redis.ReadTimeout.Std(),
			WriteTimeout: cfg.Redis.WriteTimeout.Std(),
		})
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
	}

	promMetrics := metrics.NewPrometheusMetrics("authz")

	// The backend is built even when caching starts disabled so a config
	// reload can switch it on without a restart.
	var backend cache.DecisionCache
	switch cfg.Cache.Backend {
	case "redis":
		backend = cache.NewRedisCache(redisClient, cfg.Redis.KeyPrefix, cfg.Cache.TTL.Std())
	default:
		backend = cache.NewLRU(cfg.Cache.Size, cfg.Cache.TTL.Std())
	}
	decisionCache := cache.NewSwitch(backend, cfg.Cache.Enabled)

	condEngine, err := conditions.NewEngine()
	if err != nil {
		logger.Fatal("Failed to create condition engine", zap.Error(err))
	}
	evaluator := policy.NewEvaluator(condEngine, logger)

	var sink events.Sink = events.Discard{}
	var publisher *events.Publisher
	if cfg.Events.Enabled {
		publisher = events.NewPublisher(redisClient, cfg.Events, logger, promMetrics)
		sink = publisher
	}

	eng := engine.New(engine.Deps{
		Store:     store,
		Evaluator: evaluator,
		Cache:     decisionCache,
		Events:    sink,
		Metrics:   promMetrics,
		Logger:    logger,
	}, cfg.Authz)

	deps := service.Deps{
		Store:       store,
		Invalidator: eng,
		Events:      sink,
		Evaluator:   evaluator,
		Metrics:     promMetrics,
		Logger:      logger,
	}
	services := service.New(deps, cfg.Authz)

	var consumer *events.Consumer
	if cfg.Events.Enabled {
		consumer = events.NewConsumer(redisClient, cfg.Events, service.NewProvisioner(deps), logger, promMetrics)
		if err := consumer.Start(appCtx); err != nil {
			logger.Fatal("Failed to start event consumer", zap.Error(err))
		}
	}

	var sweeper *service.Sweeper
	if cfg.Sweep.Enabled {
		sweeper = service.NewSweeper(deps, cfg.Sweep)
		sweeper.Start()
	}

	restSrv, err := rest.New(eng, services, rest.Config{
		Port:         cfg.Server.HTTPPort,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
		EnableCORS:   cfg.Server.EnableCORS,
		Auth:         cfg.Auth,
		Version:      Version,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create REST server", zap.Error(err))
	}

	grpcCfg := server.DefaultConfig()
	grpcCfg.Port = cfg.Server.GRPCPort
	grpcSrv, err := server.New(grpcCfg, eng, logger)
	if err != nil {
		logger.Fatal("Failed to create gRPC server", zap.Error(err))
	}

	// current tracks the live configuration across reloads for statusz.
	current := &atomic.Pointer[config.Config]{}
	current.Store(cfg)

	probes := map[string]ops.Probe{
		"database": store.Ping,
	}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	opsCfg := ops.DefaultConfig()
	opsCfg.Port = cfg.Server.OpsPort
	opsCfg.Version = Version
	opsSrv := ops.New(opsCfg, ops.Deps{
		Metrics:        promMetrics.HTTPHandler(),
		CacheStats:     decisionCache.Stats,
		ConfigSnapshot: func() map[string]interface{} { return current.Load().Redacted() },
		Probes:         probes,
	}, logger)

	// A config file can be edited in place; apply the dynamic subset
	// (log level, cache switch and TTL) without a restart.
	var watcher *config.Watcher
	if *configPath != "" {
		watcher, err = config.NewWatcher(*configPath, func(next *config.Config) {
			if sections := staticDiff(current.Load(), next); len(sections) > 0 {
				logger.Warn("Ignoring configuration changes that need a restart",
					zap.Strings("sections", sections))
			}
			logLevel.SetLevel(parseLevel(next.Log.Level))
			decisionCache.SetTTL(next.Cache.TTL.Std())
			decisionCache.SetEnabled(context.Background(), next.Cache.Enabled)
			current.Store(next)
			logger.Info("Configuration reloaded",
				zap.String("log_level", next.Log.Level),
				zap.Bool("cache_enabled", next.Cache.Enabled),
				zap.Duration("cache_ttl", next.Cache.TTL.Std()),
			)
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create config watcher", zap.Error(err))
		}
		if err := watcher.Watch(appCtx); err != nil {
			logger.Fatal("Failed to start config watcher", zap.Error(err))
		}
	}

	errChan := make(chan error, 3)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() { errChan <- restSrv.Start() }()
	go func() { errChan <- grpcSrv.Start() }()
	go func() { errChan <- opsSrv.Start() }()

	select {
	case err := <-errChan:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()

		// Fail readiness first so load balancers drain before the
		// listeners close.
		opsSrv.SetReady(false)
		appCancel()

		if watcher != nil {
			if err := watcher.Stop(); err != nil {
				logger.Error("Config watcher stop failed", zap.Error(err))
			}
		}
		if consumer != nil {
			consumer.Close()
		}
		if sweeper != nil {
			sweeper.Close()
		}

		if err := restSrv.Shutdown(ctx); err != nil {
			logger.Error("REST server shutdown failed", zap.Error(err))
		}
		grpcSrv.Stop()
		if err := opsSrv.Shutdown(ctx); err != nil {
			logger.Error("Ops server shutdown failed", zap.Error(err))
		}

		// Flush buffered audit events before the process exits.
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				logger.Error("Event publisher close failed", zap.Error(err))
			}
		}

		eng.Close()
		decisionCache.Close()
		if err := store.Close(); err != nil {
			logger.Error("Store close failed", zap.Error(err))
		}
	}

	logger.Info("Server stopped successfully")
}

// runMigrations applies pending schema migrations on a dedicated
// connection pool, so closing the migration handles cannot disturb the
// serving pool opened afterwards.
func runMigrations(dbCfg config.DatabaseConfig, logger *zap.Logger) error {
	pool, err := db.Open(dbCfg.DSN, 2, 2, time.Minute)
	if err != nil {
		return err
	}
	defer pool.Close()

	runner, err := db.NewMigrationRunner(pool, logger)
	if err != nil {
		return err
	}
	defer runner.Close()

	return runner.Up()
}

// initLogger builds the service logger. The returned level is shared with
// the config watcher so reloads can retune verbosity live.
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.AddSync(os.Stdout)
	if cfg.File != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core, zap.AddCaller()), level
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// staticDiff names the reloaded sections the running process cannot
// apply. Only the log level and the cache switch/TTL take effect live.
func staticDiff(prev, next *config.Config) []string {
	var sections []string
	if prev.Server != next.Server {
		sections = append(sections, "server")
	}
	prevLog, nextLog := prev.Log, next.Log
	prevLog.Level, nextLog.Level = "", ""
	if prevLog != nextLog {
		sections = append(sections, "log")
	}
	if prev.Database != next.Database {
		sections = append(sections, "database")
	}
	if prev.Redis != next.Redis {
		sections = append(sections, "redis")
	}
	if prev.Cache.Backend != next.Cache.Backend || prev.Cache.Size != next.Cache.Size {
		sections = append(sections, "cache")
	}
	if prev.Events != next.Events {
		sections = append(sections, "events")
	}
	if prev.Authz != next.Authz {
		sections = append(sections, "authz")
	}
	if prev.Sweep != next.Sweep {
		sections = append(sections, "sweep")
	}
	if prev.Auth != next.Auth {
		sections = append(sections, "auth")
	}
	return sections
}
