// Package runner applies the payload of a single migration: SQL batches
// inside the caller's transaction, scripts as separate processes.
package runner

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLRunner executes the text of a .sql migration as one statement batch
type SQLRunner struct{}

// NewSQLRunner creates a SQL runner
func NewSQLRunner() *SQLRunner {
	return &SQLRunner{}
}

// Exec runs content in tx. The drivers are configured to accept several
// statements per call, so the file is sent as is. A blank file is a no-op.
func (r *SQLRunner) Exec(ctx context.Context, tx *sql.Tx, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if _, err := tx.ExecContext(ctx, content); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}
	return nil
}
