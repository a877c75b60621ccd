// Package app assembles the migration runner from configuration
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/linkflow-ai/dbmigrate/internal/migration/adapters/repository/sqldb"
	"github.com/linkflow-ai/dbmigrate/internal/migration/adapters/runner"
	"github.com/linkflow-ai/dbmigrate/internal/migration/adapters/source"
	"github.com/linkflow-ai/dbmigrate/internal/migration/app/service"
	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/model"
	"github.com/linkflow-ai/dbmigrate/internal/platform/cache"
	"github.com/linkflow-ai/dbmigrate/internal/platform/config"
	"github.com/linkflow-ai/dbmigrate/internal/platform/database"
	"github.com/linkflow-ai/dbmigrate/internal/platform/health"
	"github.com/linkflow-ai/dbmigrate/internal/platform/logger"
	"github.com/linkflow-ai/dbmigrate/internal/platform/messaging/kafka"
	"github.com/linkflow-ai/dbmigrate/internal/platform/metrics"
	"github.com/linkflow-ai/dbmigrate/internal/platform/resilience"
	"github.com/linkflow-ai/dbmigrate/internal/platform/telemetry"
	"github.com/linkflow-ai/dbmigrate/internal/shared/events"
)

// MetricsNamespace prefixes every exported metric
const MetricsNamespace = "dbmigrate"

// App holds the wired components of the runner
type App struct {
	Config    *config.Config
	Logger    logger.Logger
	DB        *database.DB
	Repo      *sqldb.WatermarkRepository
	Service   *service.MigrationService
	Metrics   *metrics.Metrics
	Telemetry *telemetry.Telemetry
	Health    *health.Handler

	closers []func(context.Context) error
}

// New connects to the database and every optional backend the configuration
// enables, and builds the migration service on top of them. On error the
// components opened so far are closed again.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *App, err error) {
	if log == nil {
		log = logger.NewNop()
	}
	a := &App{
		Config: cfg,
		Logger: log,
		Health: health.NewHandler(cfg.Service.Name, cfg.Version),
	}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	if err = a.setupDatabase(ctx); err != nil {
		return nil, err
	}

	lister, err := a.setupSources(ctx)
	if err != nil {
		return nil, err
	}

	opts, err := a.setupObservability(ctx)
	if err != nil {
		return nil, err
	}

	lockOpts, err := a.setupLock(ctx)
	if err != nil {
		return nil, err
	}
	opts = append(opts, lockOpts...)
	opts = append(opts, service.WithAutoInitialize(cfg.Migration.AutoInitialize))

	catalog := service.NewMigrationCatalog(Sources(cfg.Migration), lister, ScriptExtensions(cfg.Migration))
	scripts := runner.NewScriptRunner(cfg.Migration.ScriptInterpreters, cfg.Migration.ScriptTimeout, a.DB.DSN(), log)
	a.Service = service.NewMigrationService(a.DB, a.Repo, catalog, runner.NewSQLRunner(), scripts, opts...)

	return a, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	db, err := database.New(a.Config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db
	a.onClose(func(context.Context) error { return db.Close() })
	a.Health.AddCheck("database", db.HealthCheck)

	repo, err := sqldb.NewWatermarkRepository(db, db.Dialect(), a.Config.Migration.TableName)
	if err != nil {
		return err
	}
	if err := repo.EnsureTable(ctx); err != nil {
		return err
	}
	a.Repo = repo
	return nil
}

// setupSources routes plain paths to the local filesystem and, when any
// source lives in S3, s3:// paths to an S3 client.
func (a *App) setupSources(ctx context.Context) (*source.Router, error) {
	router := source.NewRouter(source.NewLocalLister())

	for _, src := range a.Config.Migration.Sources {
		if !strings.HasPrefix(src.Path, source.S3Scheme) {
			continue
		}
		client, err := source.NewS3Client(ctx, a.Config.S3)
		if err != nil {
			return nil, err
		}
		router.Handle(source.S3Scheme, source.NewS3Lister(client))
		break
	}
	return router, nil
}

func (a *App) setupObservability(ctx context.Context) ([]service.Option, error) {
	cfg := a.Config
	opts := []service.Option{service.WithLogger(a.Logger)}

	if cfg.Telemetry.MetricsEnabled {
		a.Metrics = metrics.NewMetrics(MetricsNamespace)
		opts = append(opts, service.WithMetrics(a.Metrics))
	}

	tel, err := telemetry.New(telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		JaegerEndpoint: cfg.Telemetry.JaegerEndpoint,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
	})
	if err != nil {
		return nil, err
	}
	a.Telemetry = tel
	a.onClose(tel.Close)
	opts = append(opts, service.WithTelemetry(tel))

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:            "kafka",
			MaxFailures:     cfg.Kafka.BreakerFailures,
			Timeout:         cfg.Kafka.BreakerTimeout,
			HalfOpenSuccess: 1,
			OnStateChange: func(name string, from, to resilience.State) {
				a.Logger.Warn("Event publisher circuit changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
		p, err := kafka.NewEventPublisher(
			&kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic},
			kafka.WithCircuitBreaker(breaker),
		)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return p.Close() })
		publisher = p
		a.Logger.Info("Publishing migration events", "topic", cfg.Kafka.Topic)
	}
	opts = append(opts, service.WithPublisher(publisher))

	return opts, nil
}

func (a *App) setupLock(ctx context.Context) ([]service.Option, error) {
	cfg := a.Config
	if !cfg.Migration.LockEnabled {
		return nil, nil
	}

	locks, err := cache.NewRedisCache(cache.Config{
		Host:      cfg.Redis.Host,
		Port:      cfg.Redis.Port,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.onClose(func(context.Context) error { return locks.Close() })
	a.Health.AddCheck("redis", locks.Health)

	return []service.Option{service.WithRunLock(locks, cfg.Migration.LockTTL)}, nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases every component in reverse order of creation
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Sources converts configured sources into domain sources. The first entry
// has priority 0 and wins equal-key ties.
func Sources(cfg config.MigrationConfig) []model.Source {
	out := make([]model.Source, 0, len(cfg.Sources))
	for i, src := range cfg.Sources {
		name := src.Name
		if name == "" {
			name = config.DefaultSourceName(i)
		}
		out = append(out, model.Source{Name: name, Path: src.Path, Priority: i})
	}
	return out
}

// ScriptExtensions returns the script extensions with a registered
// interpreter, sorted.
func ScriptExtensions(cfg config.MigrationConfig) []string {
	exts := make([]string, 0, len(cfg.ScriptInterpreters))
	for ext := range cfg.ScriptInterpreters {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
