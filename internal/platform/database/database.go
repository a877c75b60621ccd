package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/linkflow-ai/dbmigrate/internal/platform/config"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL flavour spoken by the connection
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// Querier is the subset of *sql.DB and *sql.Tx used by repositories, so the
// same code runs inside and outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
	cfg     config.DatabaseConfig
	dialect Dialect
}

// New creates a new database connection
func New(cfg config.DatabaseConfig) (*DB, error) {
	driverName, dsn, err := DriverDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	if Dialect(cfg.Driver) == DialectSQLite {
		// sqlite allows one writer; a second pooled connection only ever sees SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.Schema != "" && Dialect(cfg.Driver) == DialectPostgres {
		if err := createSchema(ctx, db, cfg.Schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &DB{
		DB:      db,
		cfg:     cfg,
		dialect: Dialect(cfg.Driver),
	}, nil
}

// DriverDSN returns the database/sql driver name and connection string for cfg
func DriverDSN(cfg config.DatabaseConfig) (string, string, error) {
	switch Dialect(cfg.Driver) {
	case DialectPostgres:
		return "postgres", cfg.DSN(), nil
	case DialectMySQL:
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = cfg.Host + ":" + strconv.Itoa(cfg.Port)
		mc.DBName = cfg.Database
		// migration files hold several statements each
		mc.MultiStatements = true
		mc.ParseTime = true
		mc.ClientFoundRows = true
		return "mysql", mc.FormatDSN(), nil
	case DialectSQLite:
		if cfg.Path == "" {
			return "", "", fmt.Errorf("sqlite requires a database path")
		}
		return "sqlite", cfg.Path, nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// createSchema creates the schema if it doesn't exist
func createSchema(ctx context.Context, db *sql.DB, schema string) error {
	query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)
	_, err := db.ExecContext(ctx, query)
	return err
}

// Dialect returns the SQL dialect of the connection
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// DSN returns the connection string handed to migration scripts
func (db *DB) DSN() string {
	_, dsn, err := DriverDSN(db.cfg)
	if err != nil {
		return ""
	}
	return dsn
}

// Transaction executes a function within a database transaction
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Rebind rewrites ? placeholders into the numbered form postgres expects
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, '$')
			out = strconv.AppendInt(out, int64(n), 10)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

// NullInt64 handles nullable integers
func NullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
