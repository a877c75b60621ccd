package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/model"
	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/repository"
	"github.com/linkflow-ai/dbmigrate/internal/platform/cache"
	"github.com/linkflow-ai/dbmigrate/internal/platform/logger"
	"github.com/linkflow-ai/dbmigrate/internal/platform/telemetry"
	"github.com/linkflow-ai/dbmigrate/internal/shared/events"
)

// RunLockKey names the distributed lock held for the duration of a run
const RunLockKey = "migrations:run"

// RunLocker hands out the distributed run lock
type RunLocker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*cache.Lock, error)
}

// RunOptions controls a run
type RunOptions struct {
	DryRun bool
}

// SourceStatus is the state of one source
type SourceStatus struct {
	Source    model.Source
	Watermark *model.Watermark
	Pending   int
}

// Status is the state of every configured source
type Status struct {
	Initialized bool
	Sources     []SourceStatus
	Pending     int
}

// MigrationService handles migration business logic: discovery, sequencing
// against the stored watermarks, and application.
type MigrationService struct {
	repo      repository.WatermarkRepository
	catalog   *MigrationCatalog
	executor  *Executor
	bootstrap *Bootstrapper
	opts      *options
}

// NewMigrationService creates a new migration service
func NewMigrationService(db TxRunner, repo repository.WatermarkRepository, catalog *MigrationCatalog, sqlRunner SQLRunner, scriptRunner ScriptRunner, opts ...Option) *MigrationService {
	return &MigrationService{
		repo:      repo,
		catalog:   catalog,
		executor:  NewExecutor(db, repo, catalog, sqlRunner, scriptRunner, opts...),
		bootstrap: NewBootstrapper(db, repo, catalog, opts...),
		opts:      newOptions(opts),
	}
}

// Run discovers, sequences and applies every pending migration
func (s *MigrationService) Run(ctx context.Context, opts RunOptions) (result *RunResult, err error) {
	runID := uuid.New().String()
	ctx = context.WithValue(ctx, logger.RunIDKey, runID)
	log := s.opts.logger.WithContext(ctx)

	ctx, span := s.opts.telemetry.StartSpan(ctx, "migration.run", "migration.run_id", runID)
	defer func() { telemetry.EndSpan(span, err) }()

	started := time.Now()
	defer func() {
		if opts.DryRun {
			return
		}
		s.observeRun(err)
	}()

	if !opts.DryRun {
		release, err := s.lock(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	log.Info("Starting migration run", "dry_run", opts.DryRun)

	plan, err := s.plan(ctx, !opts.DryRun)
	if err != nil {
		log.Error("Failed to plan migrations", "error", err)
		return nil, err
	}

	if opts.DryRun {
		log.Info("Dry run planned", "pending", len(plan))
		return &RunResult{
			RunID:      runID,
			DryRun:     true,
			Planned:    plan,
			Watermarks: map[string]model.Key{},
			StartedAt:  started,
			Duration:   time.Since(started),
		}, nil
	}

	result, err = s.executor.Apply(ctx, plan)
	result.RunID = runID
	result.StartedAt = started
	result.Duration = time.Since(started)

	summary := make(map[string]string, len(result.Watermarks))
	for name, key := range result.Watermarks {
		summary[name] = key.String()
	}
	s.opts.publish(ctx, runID, events.RunCompleted, events.RunCompletedPayload{
		RunID:      runID,
		Applied:    len(result.Applied),
		Failed:     err != nil,
		Watermarks: summary,
		DurationMs: result.Duration.Milliseconds(),
	})

	if err != nil {
		log.Error("Migration run failed", "applied", len(result.Applied), "error", err)
		return result, err
	}

	log.Info("Migration run completed", "applied", len(result.Applied), "duration_ms", result.Duration.Milliseconds())
	return result, nil
}

// Pending returns the migrations the next run would apply, in order
func (s *MigrationService) Pending(ctx context.Context) ([]*model.MigrationFile, error) {
	return s.plan(ctx, false)
}

// Initialize seeds the watermark of every targeted source that has none
func (s *MigrationService) Initialize(ctx context.Context, opts InitOptions) (*InitResult, error) {
	release, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.bootstrap.Initialize(ctx, opts)
}

// Status reports each source's watermark and how many migrations wait on it.
// Sources without a watermark are reported with a nil Watermark.
func (s *MigrationService) Status(ctx context.Context) (*Status, error) {
	catalog, err := s.catalog.Discover(ctx)
	if err != nil {
		return nil, err
	}

	status := &Status{Initialized: true}
	for _, src := range s.catalog.Sources() {
		st := SourceStatus{Source: src}

		wm, err := s.repo.Load(ctx, src.Name)
		switch {
		case err == nil:
			st.Watermark = wm
			st.Pending = len(PendingFiles(wm, catalog.ForSource(src.Name)))
		case errors.Is(err, repository.ErrWatermarkNotFound):
			status.Initialized = false
			st.Pending = len(catalog.ForSource(src.Name))
		default:
			return nil, fmt.Errorf("failed to load watermark for %s: %w", src.Name, err)
		}

		status.Pending += st.Pending
		status.Sources = append(status.Sources, st)
		if s.opts.metrics != nil {
			s.opts.metrics.SetPending(src.Name, st.Pending)
		}
	}
	return status, nil
}

// plan discovers migrations and merges every source's pending files into one
// timeline. With bootstrap set and auto-initialization enabled, sources
// without a watermark are seeded first.
func (s *MigrationService) plan(ctx context.Context, bootstrap bool) ([]*model.MigrationFile, error) {
	catalog, err := s.catalog.Discover(ctx)
	if err != nil {
		return nil, err
	}

	watermarks, missing, err := s.loadWatermarks(ctx)
	if err != nil {
		return nil, err
	}

	if len(missing) > 0 {
		if !bootstrap || !s.opts.autoInitialize {
			return nil, fmt.Errorf("%w: no watermark for source %s", model.ErrNotInitialized, missing[0])
		}
		s.opts.logger.WithContext(ctx).Info("Initializing sources without a watermark", "sources", missing)
		if _, err := s.bootstrap.Initialize(ctx, InitOptions{Sources: missing}); err != nil {
			return nil, err
		}
		if watermarks, _, err = s.loadWatermarks(ctx); err != nil {
			return nil, err
		}
	}

	lists := make([][]*model.MigrationFile, 0, len(watermarks))
	for _, src := range s.catalog.Sources() {
		wm := watermarks[src.Name]
		pending := PendingFiles(wm, catalog.ForSource(src.Name))
		if s.opts.metrics != nil {
			s.opts.metrics.SetPending(src.Name, len(pending))
			s.opts.metrics.SetWatermark(src.Name, wm.Timestamp)
		}
		lists = append(lists, pending)
	}

	return Merge(lists...), nil
}

func (s *MigrationService) loadWatermarks(ctx context.Context) (map[string]*model.Watermark, []string, error) {
	watermarks := make(map[string]*model.Watermark)
	var missing []string
	for _, src := range s.catalog.Sources() {
		wm, err := s.repo.Load(ctx, src.Name)
		switch {
		case err == nil:
			watermarks[src.Name] = wm
		case errors.Is(err, repository.ErrWatermarkNotFound):
			missing = append(missing, src.Name)
		default:
			return nil, nil, fmt.Errorf("failed to load watermark for %s: %w", src.Name, err)
		}
	}
	return watermarks, missing, nil
}

// lock takes the run lock when one is configured. The returned func
// releases it.
func (s *MigrationService) lock(ctx context.Context) (func(), error) {
	if s.opts.locker == nil {
		return func() {}, nil
	}

	l, err := s.opts.locker.AcquireLock(ctx, RunLockKey, s.opts.lockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) && s.opts.metrics != nil {
			s.opts.metrics.LockContention.Inc()
		}
		return nil, err
	}

	return func() {
		// release even when the run's context has been cancelled
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.Release(releaseCtx); err != nil {
			s.opts.logger.WithContext(ctx).Warn("Failed to release run lock", "error", err)
		}
	}, nil
}

func (s *MigrationService) observeRun(err error) {
	if s.opts.metrics == nil {
		return
	}
	switch {
	case err == nil:
		s.opts.metrics.ObserveRun("success")
	case errors.Is(err, cache.ErrLockHeld):
		s.opts.metrics.ObserveRun("locked")
	default:
		s.opts.metrics.ObserveRun("failure")
	}
}
