package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"propstack/internal/broker"
	"propstack/internal/config"
	"propstack/internal/constants"
	"propstack/internal/dispatch"
	"propstack/internal/logger"
	"propstack/internal/moderation"
	"propstack/pkg/bootstrap"
	"propstack/pkg/health"
	"propstack/pkg/logging"
	"propstack/pkg/metrics"
	"propstack/pkg/middleware"
	"propstack/pkg/migrations"
	"propstack/pkg/models"
	"propstack/pkg/ratelimit"
	"propstack/pkg/tracing"
)

const queueMetricsInterval = 30 * time.Second

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	mongoClient    *mongo.Client
	redisClient    *redis.Client
	service        *moderation.Service
	flagRules      *moderation.FlagRuleService
	reaper         *moderation.Reaper
	dispatcher     *dispatch.Dispatcher
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceModeration)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker(constants.ServiceModeration); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initService(ctx); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	if err := a.initDispatcher(); err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceModeration)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterBrokerMetrics()
	metrics.RegisterDispatchMetrics()
	metrics.RegisterModerationMetrics()
	if a.Config.CircuitBreaker.Enabled || a.Config.Dispatch.Store == "redis" {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("postgres configuration is required")
	}
	a.db = db

	if a.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(db, a.Config.Database.MigrationsPath); err != nil {
			return err
		}
		a.Logger.Info("Postgres migrations applied")
	}

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	if mongoClient == nil {
		return fmt.Errorf("mongodb configuration is required for the blacklist")
	}
	a.mongoClient = mongoClient

	dbName := a.Config.Database.MongoDB.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}
	if err := migrations.EnsureMongoCollection(ctx, mongoClient.Database(dbName)); err != nil {
		return err
	}

	if a.Config.Dispatch.Store == "redis" {
		rdb, err := a.dbConnector.InitRedis(ctx)
		if err != nil {
			return err
		}
		a.redisClient = rdb
	}

	return nil
}

func (a *App) initService(ctx context.Context) error {
	repo := moderation.NewRepository(a.db)

	dbName := a.Config.Database.MongoDB.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}
	blacklist := moderation.NewMongoBlacklist(a.mongoClient, dbName, constants.BlacklistCollection)

	flagRules, err := moderation.NewFlagRuleService(repo, a.Config.Moderation.FlagRules, a.Logger)
	if err != nil {
		return err
	}
	if err := flagRules.ReloadRules(ctx); err != nil {
		initCtx := logging.WithServiceName(ctx, constants.ServiceModeration)
		a.Logger.WarnwCtx(initCtx, "Failed to load initial flag rules",
			"error", err,
		)
	}
	a.flagRules = flagRules

	a.service = moderation.NewService(repo, blacklist, flagRules, a.Producer, a.Config.Moderation, a.Logger)
	a.reaper = moderation.NewReaper(repo, a.Producer, a.Config.Moderation, a.Logger)
	return nil
}

func (a *App) initDispatcher() error {
	var redisClient dispatch.RedisClient
	if a.redisClient != nil {
		redisClient = a.redisClient
	}

	store, err := dispatch.NewStore(a.Config.Dispatch, a.Config.CircuitBreaker, redisClient)
	if err != nil {
		return err
	}

	d := dispatch.NewDispatcher(constants.ServiceModeration, store, a.Config.Dispatch, a.Logger)

	d.On(models.EventPropertySubmitted, a.service.ProcessSubmission)
	d.On(models.EventPropertyArchived, a.service.HandlePropertyArchived)

	d.On(models.EventModerationConfigUpdated, a.service.HandleConfigUpdated)
	d.On(models.EventModerationConfigUpdated, func(ctx context.Context, _ models.EventEnvelope) error {
		if err := a.flagRules.ReloadRules(ctx); err != nil {
			a.Logger.WarnwCtx(ctx, "Flag rule reload on config update failed", "error", err)
		}
		return nil
	})

	d.Start()
	a.dispatcher = d
	return nil
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceModeration))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.Config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.Config.RateLimit.RPS,
			Burst:           a.Config.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
		a.Logger.InfowCtx(context.Background(), "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	handler := moderation.NewHandler(a.service, a.flagRules, a.Logger)
	handler.RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}
	healthRegistry.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: router,
	}

	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	a.Consumer.Subscribe(
		[]string{models.TopicProperty, models.TopicModeration},
		broker.SubscribeOptions{FromBeginning: a.Config.Broker.Kafka.FromBeginning},
	)

	g.Go(func() error {
		return a.Consumer.Run(gCtx, a.dispatcher.Dispatch)
	})

	g.Go(func() error {
		return a.flagRules.StartReloader(gCtx)
	})

	if a.Config.Moderation.Reaper.Enabled {
		g.Go(func() error {
			return a.reaper.Run(gCtx)
		})
	}

	g.Go(func() error {
		return a.runQueueMetrics(gCtx)
	})

	return g.Wait()
}

func (a *App) runQueueMetrics(ctx context.Context) error {
	ticker := time.NewTicker(queueMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.service.RefreshQueueMetrics(ctx); err != nil {
				a.Logger.WarnwCtx(ctx, "Failed to refresh queue depth metrics", "error", err)
			}
		}
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceModeration)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down moderation service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
