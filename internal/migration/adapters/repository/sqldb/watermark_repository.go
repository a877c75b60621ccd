// Package sqldb provides the database/sql implementation of the watermark
// repository for postgres, mysql and sqlite.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/model"
	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/repository"
	"github.com/linkflow-ai/dbmigrate/internal/platform/database"
)

// DefaultTableName is used when no table name is configured
const DefaultTableName = "migration_watermarks"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// WatermarkRepository implements watermark persistence over database/sql
type WatermarkRepository struct {
	db      database.Querier
	dialect database.Dialect
	table   string
}

// NewWatermarkRepository creates a watermark repository on table
func NewWatermarkRepository(db database.Querier, dialect database.Dialect, table string) (*WatermarkRepository, error) {
	if table == "" {
		table = DefaultTableName
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid watermark table name %q", table)
	}
	switch dialect {
	case database.DialectPostgres, database.DialectMySQL, database.DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	return &WatermarkRepository{db: db, dialect: dialect, table: table}, nil
}

var _ repository.WatermarkRepository = (*WatermarkRepository)(nil)

// EnsureTable creates the watermark table if it doesn't exist
func (r *WatermarkRepository) EnsureTable(ctx context.Context) error {
	var query string
	switch r.dialect {
	case database.DialectPostgres:
		query = `
			CREATE TABLE IF NOT EXISTS %s (
				service VARCHAR(255) PRIMARY KEY,
				"timestamp" DATE NOT NULL,
				"counter" INTEGER,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			)`
	case database.DialectMySQL:
		query = "CREATE TABLE IF NOT EXISTS %s (" +
			" service VARCHAR(255) NOT NULL PRIMARY KEY," +
			" `timestamp` DATE NOT NULL," +
			" `counter` INT NULL," +
			" updated_at DATETIME(6) NOT NULL" +
			")"
	default:
		query = `
			CREATE TABLE IF NOT EXISTS %s (
				service TEXT PRIMARY KEY,
				"timestamp" DATE NOT NULL,
				"counter" INTEGER,
				updated_at TIMESTAMP NOT NULL
			)`
	}

	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(query, r.table)); err != nil {
		return fmt.Errorf("failed to create watermark table: %w", err)
	}
	return nil
}

// Load returns the watermark for service
func (r *WatermarkRepository) Load(ctx context.Context, service string) (*model.Watermark, error) {
	query := r.bind(fmt.Sprintf(
		`SELECT service, %s, %s, updated_at FROM %s WHERE service = ?`,
		r.quote("timestamp"), r.quote("counter"), r.table,
	))

	wm, err := scanWatermark(r.db.QueryRowContext(ctx, query, service))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrWatermarkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load watermark for %s: %w", service, err)
	}
	return wm, nil
}

// List returns all watermarks ordered by service name
func (r *WatermarkRepository) List(ctx context.Context) ([]*model.Watermark, error) {
	query := fmt.Sprintf(
		`SELECT service, %s, %s, updated_at FROM %s ORDER BY service ASC`,
		r.quote("timestamp"), r.quote("counter"), r.table,
	)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query watermarks: %w", err)
	}
	defer rows.Close()

	var watermarks []*model.Watermark
	for rows.Next() {
		wm, err := scanWatermark(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		watermarks = append(watermarks, wm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watermark rows: %w", err)
	}

	return watermarks, nil
}

// Advance sets the watermark for service to key. The write goes through q so
// it commits or rolls back together with the migration that produced it.
func (r *WatermarkRepository) Advance(ctx context.Context, q database.Querier, service string, key model.Key) error {
	if q == nil {
		q = r.db
	}
	query := r.bind(fmt.Sprintf(
		`UPDATE %s SET %s = ?, %s = ?, updated_at = ? WHERE service = ?`,
		r.table, r.quote("timestamp"), r.quote("counter"),
	))

	res, err := q.ExecContext(ctx, query, dateArg(key.Date), counterArg(key.Counter), time.Now().UTC(), service)
	if err != nil {
		return fmt.Errorf("failed to advance watermark for %s: %w", service, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to advance watermark for %s: %w", service, err)
	}
	if affected == 0 {
		return repository.ErrWatermarkNotFound
	}
	return nil
}

// Initialize inserts wm. An existing row for the same service is left
// untouched and reported as AlreadyInitializedError.
func (r *WatermarkRepository) Initialize(ctx context.Context, q database.Querier, wm *model.Watermark) error {
	if q == nil {
		q = r.db
	}

	var one int
	existsQuery := r.bind(fmt.Sprintf(`SELECT 1 FROM %s WHERE service = ?`, r.table))
	err := q.QueryRowContext(ctx, existsQuery, wm.Service).Scan(&one)
	switch {
	case err == nil:
		return &model.AlreadyInitializedError{Service: wm.Service}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to check watermark for %s: %w", wm.Service, err)
	}

	updatedAt := wm.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	insert := r.bind(fmt.Sprintf(
		`INSERT INTO %s (service, %s, %s, updated_at) VALUES (?, ?, ?, ?)`,
		r.table, r.quote("timestamp"), r.quote("counter"),
	))
	if _, err := q.ExecContext(ctx, insert, wm.Service, dateArg(wm.Timestamp), counterArg(wm.Counter), updatedAt); err != nil {
		return fmt.Errorf("failed to insert watermark for %s: %w", wm.Service, err)
	}
	return nil
}

func (r *WatermarkRepository) bind(query string) string {
	return database.Rebind(r.dialect, query)
}

func (r *WatermarkRepository) quote(column string) string {
	if r.dialect == database.DialectMySQL {
		return "`" + column + "`"
	}
	return `"` + column + `"`
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWatermark(row rowScanner) (*model.Watermark, error) {
	var (
		wm        model.Watermark
		timestamp dateValue
		counter   sql.NullInt64
		updatedAt dateValue
	)
	if err := row.Scan(&wm.Service, &timestamp, &counter, &updatedAt); err != nil {
		return nil, err
	}

	wm.Timestamp = model.NewKey(timestamp.Time).Date
	wm.UpdatedAt = updatedAt.Time
	if counter.Valid {
		n := int(counter.Int64)
		wm.Counter = &n
	}
	return &wm, nil
}

// dateArg writes dates as ISO text, which every supported dialect accepts
// for a DATE column.
func dateArg(t time.Time) string {
	return t.Format("2006-01-02")
}

func counterArg(counter *int) sql.NullInt64 {
	if counter == nil {
		return sql.NullInt64{}
	}
	n := int64(*counter)
	return database.NullInt64(&n)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
	model.DateLayout,
}

// dateValue scans DATE and TIMESTAMP columns whether the driver hands back
// time.Time or text.
type dateValue struct {
	Time time.Time
}

func (d *dateValue) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		d.Time = time.Time{}
		return nil
	case time.Time:
		d.Time = v.UTC()
		return nil
	case []byte:
		return d.parse(string(v))
	case string:
		return d.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into a date", src)
	}
}

func (d *dateValue) parse(s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("cannot parse %q as a date", s)
}
