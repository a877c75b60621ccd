package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/model"
	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/repository"
	"github.com/linkflow-ai/dbmigrate/internal/shared/events"
)

// InitOptions selects the sources bootstrap seeds. An empty Sources list
// targets every configured source.
type InitOptions struct {
	Sources []string
}

// InitResult lists the watermarks created by bootstrap and the targeted
// sources that already had one
type InitResult struct {
	Watermarks []*model.Watermark
	Skipped    []string
}

// Bootstrapper creates the first watermark of every source on a database
// whose schema is already current, so that existing migrations are treated
// as applied.
type Bootstrapper struct {
	db      TxRunner
	repo    repository.WatermarkRepository
	catalog *MigrationCatalog
	opts    *options
}

// NewBootstrapper creates a bootstrapper
func NewBootstrapper(db TxRunner, repo repository.WatermarkRepository, catalog *MigrationCatalog, opts ...Option) *Bootstrapper {
	return &Bootstrapper{
		db:      db,
		repo:    repo,
		catalog: catalog,
		opts:    newOptions(opts),
	}
}

// Initialize seeds a watermark for every targeted source that has none,
// at the latest migration that source holds. A source without files gets
// the latest key across all sources, and with no files anywhere today's
// date is used. Existing watermarks are never touched. When every targeted
// source already has one, nothing is written and AlreadyInitializedError
// is returned.
func (b *Bootstrapper) Initialize(ctx context.Context, opts InitOptions) (*InitResult, error) {
	log := b.opts.logger.WithContext(ctx)

	targets, err := b.targets(opts.Sources)
	if err != nil {
		return nil, err
	}

	catalog, err := b.catalog.Discover(ctx)
	if err != nil {
		return nil, err
	}

	fallback, ok := LatestKey(catalog.Files)
	if !ok {
		fallback = model.NewKey(b.opts.now())
	}

	result := &InitResult{Watermarks: make([]*model.Watermark, 0, len(targets))}
	for _, src := range targets {
		_, err := b.repo.Load(ctx, src.Name)
		switch {
		case err == nil:
			result.Skipped = append(result.Skipped, src.Name)
			continue
		case !errors.Is(err, repository.ErrWatermarkNotFound):
			return nil, fmt.Errorf("failed to check watermark for %s: %w", src.Name, err)
		}

		key, ok := LatestKey(catalog.ForSource(src.Name))
		if !ok {
			key = fallback
		}
		result.Watermarks = append(result.Watermarks, model.NewWatermark(src.Name, key))
	}

	if len(result.Watermarks) == 0 {
		if len(result.Skipped) == 0 {
			return result, nil
		}
		return nil, &model.AlreadyInitializedError{Service: result.Skipped[0]}
	}

	err = b.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, wm := range result.Watermarks {
			if err := b.repo.Initialize(ctx, tx, wm); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, name := range result.Skipped {
		log.Info("Watermark already present, left unchanged", "source", name)
	}
	for _, wm := range result.Watermarks {
		log.Info("Watermark initialized", "source", wm.Service, "watermark", wm.Key().String())
		if b.opts.metrics != nil {
			b.opts.metrics.SetWatermark(wm.Service, wm.Timestamp)
		}
		b.opts.publish(ctx, wm.Service, events.WatermarkInitialized, events.WatermarkInitializedPayload{
			Source:    wm.Service,
			Watermark: wm.Key().String(),
		})
	}

	return result, nil
}

// targets resolves names to configured sources in priority order
func (b *Bootstrapper) targets(names []string) ([]model.Source, error) {
	sources := b.catalog.Sources()
	if len(names) == 0 {
		return sources, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	targets := make([]model.Source, 0, len(names))
	for _, src := range sources {
		if wanted[src.Name] {
			targets = append(targets, src)
			delete(wanted, src.Name)
		}
	}
	for _, name := range names {
		if wanted[name] {
			return nil, fmt.Errorf("%w: %s", model.ErrUnknownSource, name)
		}
	}
	return targets, nil
}
