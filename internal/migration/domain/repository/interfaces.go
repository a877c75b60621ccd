package repository

import (
	"context"
	"errors"

	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/model"
	"github.com/linkflow-ai/dbmigrate/internal/platform/database"
)

var (
	// ErrWatermarkNotFound is returned when a source has no watermark row
	ErrWatermarkNotFound = errors.New("watermark not found")
)

// WatermarkRepository persists one progress marker per migration source.
// Writes take a Querier so they can join the caller's transaction.
type WatermarkRepository interface {
	// EnsureTable creates the watermark table if it is missing
	EnsureTable(ctx context.Context) error

	// Load returns the watermark stored for service
	Load(ctx context.Context, service string) (*model.Watermark, error)

	// List returns every stored watermark ordered by service
	List(ctx context.Context) ([]*model.Watermark, error)

	// Advance moves an existing watermark to key
	Advance(ctx context.Context, q database.Querier, service string, key model.Key) error

	// Initialize inserts a new watermark and never overwrites one
	Initialize(ctx context.Context, q database.Querier, wm *model.Watermark) error
}

// Lister lists and reads the migration files of one source path. A path
// that does not exist lists as empty.
type Lister interface {
	List(ctx context.Context, path string) ([]string, error)
	Read(ctx context.Context, path, name string) ([]byte, error)
}
