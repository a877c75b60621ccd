package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/linkflow-ai/dbmigrate/internal/migration/adapters/runner"
	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/model"
	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/repository"
	"github.com/linkflow-ai/dbmigrate/internal/platform/logger"
	"github.com/linkflow-ai/dbmigrate/internal/platform/telemetry"
	"github.com/linkflow-ai/dbmigrate/internal/shared/events"
)

// TxRunner runs fn inside a database transaction
type TxRunner interface {
	Transaction(ctx context.Context, fn func(*sql.Tx) error) error
}

// SQLRunner executes a SQL migration inside a transaction
type SQLRunner interface {
	Exec(ctx context.Context, tx *sql.Tx, content string) error
}

// ScriptRunner runs a script migration as its own process
type ScriptRunner interface {
	Run(ctx context.Context, job runner.ScriptJob) error
}

// ContentReader fetches the payload of a discovered migration
type ContentReader interface {
	Read(ctx context.Context, file *model.MigrationFile) ([]byte, error)
}

// RunResult describes what a run did or, for a dry run, would do
type RunResult struct {
	RunID      string
	DryRun     bool
	Planned    []*model.MigrationFile
	Applied    []model.MigrationResult
	Failed     *model.MigrationResult
	Watermarks map[string]model.Key
	StartedAt  time.Time
	Duration   time.Duration
}

// Executor applies pending migrations in order, advancing the owning
// source's watermark after each success.
type Executor struct {
	db      TxRunner
	repo    repository.WatermarkRepository
	reader  ContentReader
	sql     SQLRunner
	scripts ScriptRunner
	opts    *options
}

// NewExecutor creates an executor
func NewExecutor(db TxRunner, repo repository.WatermarkRepository, reader ContentReader, sqlRunner SQLRunner, scriptRunner ScriptRunner, opts ...Option) *Executor {
	return &Executor{
		db:      db,
		repo:    repo,
		reader:  reader,
		sql:     sqlRunner,
		scripts: scriptRunner,
		opts:    newOptions(opts),
	}
}

// Apply runs files in the given order. It stops at the first failure and
// returns an ApplicationError; migrations after it are not attempted and the
// failing source's watermark stays at its last success.
func (e *Executor) Apply(ctx context.Context, files []*model.MigrationFile) (*RunResult, error) {
	result := &RunResult{
		RunID:      runIDFrom(ctx),
		Planned:    files,
		Applied:    make([]model.MigrationResult, 0, len(files)),
		Watermarks: make(map[string]model.Key),
		StartedAt:  time.Now(),
	}
	defer func() { result.Duration = time.Since(result.StartedAt) }()

	for _, file := range files {
		applied, err := e.applyOne(ctx, file)
		if err != nil {
			result.Failed = &applied
			return result, err
		}
		result.Applied = append(result.Applied, applied)
		result.Watermarks[file.Source.Name] = file.Key
	}

	return result, nil
}

func (e *Executor) applyOne(ctx context.Context, file *model.MigrationFile) (model.MigrationResult, error) {
	log := e.opts.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"source":    file.Source.Name,
		"migration": file.Filename,
		"kind":      string(file.Kind),
	})

	ctx, span := e.opts.telemetry.StartSpan(ctx, "migration.apply",
		"migration.source", file.Source.Name,
		"migration.file", file.Filename,
		"migration.kind", string(file.Kind),
	)

	log.Info("Applying migration")
	start := time.Now()
	err := e.apply(ctx, file)
	duration := time.Since(start)

	telemetry.EndSpan(span, err)
	if e.opts.metrics != nil {
		e.opts.metrics.ObserveMigration(file.Source.Name, string(file.Kind), duration, err)
	}

	res := model.MigrationResult{
		Source:     file.Source.Name,
		Filename:   file.Filename,
		Key:        file.Key,
		Kind:       file.Kind,
		Status:     model.MigrationStatusApplied,
		DurationMs: duration.Milliseconds(),
	}

	if err != nil {
		res.Status = model.MigrationStatusFailed
		res.Error = err.Error()
		log.Error("Migration failed", "error", err, "duration_ms", res.DurationMs)
		e.opts.publish(ctx, file.Source.Name, events.MigrationFailed, events.MigrationFailedPayload{
			RunID:    runIDFrom(ctx),
			Source:   file.Source.Name,
			Filename: file.Filename,
			Kind:     string(file.Kind),
			Error:    err.Error(),
		})
		return res, &model.ApplicationError{Source: file.Source.Name, Filename: file.Filename, Err: err}
	}

	if e.opts.metrics != nil {
		e.opts.metrics.SetWatermark(file.Source.Name, file.Key.Date)
	}
	log.Info("Migration applied", "watermark", file.Key.String(), "duration_ms", res.DurationMs)
	e.opts.publish(ctx, file.Source.Name, events.MigrationApplied, events.MigrationAppliedPayload{
		RunID:      runIDFrom(ctx),
		Source:     file.Source.Name,
		Filename:   file.Filename,
		Kind:       string(file.Kind),
		Watermark:  file.Key.String(),
		DurationMs: res.DurationMs,
	})
	return res, nil
}

func (e *Executor) apply(ctx context.Context, file *model.MigrationFile) error {
	content, err := e.reader.Read(ctx, file)
	if err != nil {
		return err
	}

	if file.IsSQL() {
		return e.db.Transaction(ctx, func(tx *sql.Tx) error {
			if err := e.sql.Exec(ctx, tx, string(content)); err != nil {
				return err
			}
			return e.advance(ctx, tx, file)
		})
	}

	job := runner.ScriptJob{
		Source:   file.Source.Name,
		Filename: file.Filename,
		Content:  content,
	}
	if !strings.Contains(file.Source.Path, "://") {
		job.Dir = file.Source.Path
	}
	if err := e.scripts.Run(ctx, job); err != nil {
		return err
	}

	// The script has already committed its own work. If this advance is lost
	// the script runs again next time.
	return e.db.Transaction(ctx, func(tx *sql.Tx) error {
		return e.advance(ctx, tx, file)
	})
}

func (e *Executor) advance(ctx context.Context, tx *sql.Tx, file *model.MigrationFile) error {
	if err := e.repo.Advance(ctx, tx, file.Source.Name, file.Key); err != nil {
		return fmt.Errorf("failed to advance watermark to %s: %w", file.Key, err)
	}
	return nil
}

func runIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(logger.RunIDKey).(string)
	return id
}
