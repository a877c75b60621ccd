package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-ai/dbmigrate/internal/platform/config"
)

func TestDriverDSN(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.DatabaseConfig
		wantDriver string
		contains   []string
		wantErr    bool
	}{
		{
			name:       "postgres schema in connection string",
			cfg:        config.DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "app", Password: "pw", Database: "orders", SSLMode: "disable", Schema: "tenant_a"},
			wantDriver: "postgres",
			contains:   []string{"dbname=orders", "options='-c search_path=tenant_a'"},
		},
		{
			name:       "mysql allows multiple statements",
			cfg:        config.DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "app", Password: "pw", Database: "orders"},
			wantDriver: "mysql",
			contains:   []string{"app:pw@tcp(db:3306)/orders", "multiStatements=true"},
		},
		{
			name:       "sqlite path",
			cfg:        config.DatabaseConfig{Driver: "sqlite", Path: "/var/lib/app.db"},
			wantDriver: "sqlite",
			contains:   []string{"/var/lib/app.db"},
		},
		{name: "sqlite without path", cfg: config.DatabaseConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown driver", cfg: config.DatabaseConfig{Driver: "oracle"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, dsn, err := DriverDSN(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, driver)
			for _, s := range tt.contains {
				assert.Contains(t, dsn, s)
			}
		})
	}
}
