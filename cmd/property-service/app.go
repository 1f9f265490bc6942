package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"propstack/internal/broker"
	"propstack/internal/config"
	"propstack/internal/constants"
	"propstack/internal/dispatch"
	"propstack/internal/logger"
	"propstack/internal/property"
	"propstack/pkg/bootstrap"
	"propstack/pkg/health"
	"propstack/pkg/logging"
	"propstack/pkg/metrics"
	"propstack/pkg/migrations"
	"propstack/pkg/models"
	"propstack/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redisClient    *redis.Client
	service        *property.Service
	reconciler     *property.Reconciler
	decisions      *property.DecisionConsumer
	dispatcher     *dispatch.Dispatcher
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceProperty)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := a.InitBroker(constants.ServiceProperty); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initService(); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	if err := a.initDispatcher(); err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceProperty)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterBrokerMetrics()
	metrics.RegisterDispatchMetrics()
	metrics.RegisterLifecycleMetrics()
	if a.Config.CircuitBreaker.Enabled || a.Config.Dispatch.Store == "redis" {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
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

	if a.Config.Dispatch.Store == "redis" {
		rdb, err := a.dbConnector.InitRedis(ctx)
		if err != nil {
			return err
		}
		a.redisClient = rdb
	}

	return nil
}

func (a *App) initService() error {
	repo := property.NewRepository(a.db)
	a.service = property.NewService(repo, a.Producer, a.Config.Lifecycle.PublishTTLDays, a.Logger)
	a.reconciler = property.NewReconciler(repo, a.Logger)
	a.decisions = property.NewDecisionConsumer(a.service, a.Logger)
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

	d := dispatch.NewDispatcher(constants.ServiceProperty, store, a.Config.Dispatch, a.Logger)

	d.On(models.EventSubscriptionActivated, a.reconciler.HandleSubscriptionActivated)
	d.On(models.EventSubscriptionCancelled, a.reconciler.HandleSubscriptionEnded)
	d.On(models.EventSubscriptionExpired, a.reconciler.HandleSubscriptionEnded)

	d.On(models.EventModerationAutoApproved, a.decisions.HandleAutoApproved)
	d.On(models.EventModerationAutoRejected, a.decisions.HandleAutoRejected)
	d.On(models.EventModerationTaskDecided, a.decisions.HandleTaskDecided)

	d.Start()
	a.dispatcher = d
	return nil
}

func (a *App) initHTTPServer() error {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}
	healthRegistry.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: mux,
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
		[]string{models.TopicBilling, models.TopicModeration},
		broker.SubscribeOptions{FromBeginning: a.Config.Broker.Kafka.FromBeginning},
	)

	g.Go(func() error {
		return a.Consumer.Run(gCtx, a.dispatcher.Dispatch)
	})

	g.Go(func() error {
		return a.runExpirySweeper(gCtx)
	})

	return g.Wait()
}

// runExpirySweeper periodically moves overdue PUBLISHED listings to EXPIRED.
func (a *App) runExpirySweeper(ctx context.Context) error {
	interval := time.Duration(a.Config.Lifecycle.ExpirySweepSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweepCtx := logging.WithServiceName(ctx, constants.ServiceProperty)
	a.Logger.InfowCtx(sweepCtx, "Expiry sweeper started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			expired, err := a.service.ExpireOverdue(ctx, a.Config.Lifecycle.ExpirySweepBatch)
			if err != nil {
				a.Logger.ErrorwCtx(sweepCtx, "Expiry sweep failed", "error", err)
				continue
			}
			if expired > 0 {
				a.Logger.InfowCtx(sweepCtx, "Expired overdue listings", "count", expired)
			}
		}
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceProperty)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down property service")

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

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, nil)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
