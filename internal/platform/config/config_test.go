package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: mysql
  port: 3306
migration:
  sources:
    - path: /srv/migrations/core
    - name: plugins
      path: s3://bucket/plugins
  script_interpreters:
    .py: python3.12
    .rb: ruby
  auto_initialize: true
  schedule: "@every 1h"
`)
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")

	cfg, err := LoadFile(path, "migration")
	require.NoError(t, err)

	assert.Equal(t, "migration", cfg.Service.Name)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)

	assert.Equal(t, []SourceConfig{
		{Name: "core", Path: "/srv/migrations/core"},
		{Name: "plugins", Path: "s3://bucket/plugins"},
	}, cfg.Migration.Sources)
	assert.Equal(t, map[string]string{".py": "python3.12", ".rb": "ruby"}, cfg.Migration.ScriptInterpreters)
	assert.True(t, cfg.Migration.AutoInitialize)
	assert.Equal(t, "@every 1h", cfg.Migration.Schedule)
	assert.Equal(t, 30*time.Minute, cfg.Migration.ScriptTimeout)
	assert.Equal(t, "migration_watermarks", cfg.Migration.TableName)
}

func TestLoadFile_DirectoriesFromEnvironment(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: postgres\n")
	t.Setenv("MIGRATION_DIRECTORIES", "/srv/core,/srv/server,/srv/extra")
	t.Setenv("HTTP_API_KEYS", "old,new")

	cfg, err := LoadFile(path, "migration")
	require.NoError(t, err)

	assert.Equal(t, []SourceConfig{
		{Name: "core", Path: "/srv/core"},
		{Name: "server", Path: "/srv/server"},
		{Name: "source-2", Path: "/srv/extra"},
	}, cfg.Migration.Sources)
	assert.Equal(t, DefaultScriptInterpreters(), cfg.Migration.ScriptInterpreters)
	assert.Equal(t, []string{"old", "new"}, cfg.HTTP.APIKeys)
	assert.Equal(t, 3, cfg.Kafka.BreakerFailures)
	assert.Equal(t, time.Minute, cfg.Kafka.BreakerTimeout)
}

func TestLoadFile_Precedence(t *testing.T) {
	path := writeConfig(t, `
database:
  password: from-file
  user: file-user
http:
  api_keys: [file-key]
migration:
  sources:
    - path: /srv/migrations/core
  lock_ttl: 2h
  auto_initialize: false
`)

	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "file over defaults",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "from-file", cfg.Database.Password)
				assert.Equal(t, 2*time.Hour, cfg.Migration.LockTTL)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, []string{"file-key"}, cfg.HTTP.APIKeys)
			},
		},
		{
			name: "environment over file",
			env: map[string]string{
				"DB_PASSWORD":               "from-env",
				"MIGRATION_LOCK_TTL":        "15m",
				"MIGRATION_AUTO_INITIALIZE": "true",
				"HTTP_API_KEYS":             "env-a,env-b",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "from-env", cfg.Database.Password)
				assert.Equal(t, "file-user", cfg.Database.User)
				assert.Equal(t, 15*time.Minute, cfg.Migration.LockTTL)
				assert.True(t, cfg.Migration.AutoInitialize)
				assert.Equal(t, []string{"env-a", "env-b"}, cfg.HTTP.APIKeys)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := LoadFile(path, "migration")
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"), "migration")
	assert.Error(t, err)
}

func validConfig() Config {
	return Config{
		Database: DatabaseConfig{Driver: "postgres"},
		Migration: MigrationConfig{
			Sources:            []SourceConfig{{Name: "core", Path: "/srv/core"}},
			ScriptInterpreters: DefaultScriptInterpreters(),
			TableName:          "migration_watermarks",
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: "unsupported database driver"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Database.Driver = "sqlite" }, wantErr: "database.path"},
		{name: "no sources", mutate: func(c *Config) { c.Migration.Sources = nil }, wantErr: "at least one migration source"},
		{
			name: "duplicate names",
			mutate: func(c *Config) {
				c.Migration.Sources = append(c.Migration.Sources, SourceConfig{Name: "core", Path: "/srv/other"})
			},
			wantErr: "duplicate",
		},
		{name: "source without path", mutate: func(c *Config) { c.Migration.Sources[0].Path = "" }, wantErr: "has no path"},
		{name: "extension without dot", mutate: func(c *Config) { c.Migration.ScriptInterpreters["rb"] = "ruby" }, wantErr: "must start with a dot"},
		{name: "sql as script", mutate: func(c *Config) { c.Migration.ScriptInterpreters[".sql"] = "psql" }, wantErr: "reserved"},
		{name: "empty interpreter", mutate: func(c *Config) { c.Migration.ScriptInterpreters[".rb"] = "" }, wantErr: "no interpreter"},
		{name: "empty table", mutate: func(c *Config) { c.Migration.TableName = "" }, wantErr: "table_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultSourceName(t *testing.T) {
	assert.Equal(t, "core", DefaultSourceName(0))
	assert.Equal(t, "server", DefaultSourceName(1))
	assert.Equal(t, "source-2", DefaultSourceName(2))
}

func TestDatabaseConfig_DSN(t *testing.T) {
	base := DatabaseConfig{Host: "db", Port: 5432, User: "app", Password: "secret", Database: "orders", SSLMode: "disable"}

	tests := []struct {
		name   string
		modify func(c *DatabaseConfig)
		want   string
	}{
		{
			name: "no schema",
			want: "host=db port=5432 user=app password=secret dbname=orders sslmode=disable",
		},
		{
			name:   "schema sets search_path for every connection",
			modify: func(c *DatabaseConfig) { c.Schema = "tenant_a" },
			want:   "host=db port=5432 user=app password=secret dbname=orders sslmode=disable options='-c search_path=tenant_a'",
		},
		{
			name:   "password with space and quote",
			modify: func(c *DatabaseConfig) { c.Password = `it's open` },
			want:   `host=db port=5432 user=app password='it\'s open' dbname=orders sslmode=disable`,
		},
		{
			name:   "empty password",
			modify: func(c *DatabaseConfig) { c.Password = "" },
			want:   "host=db port=5432 user=app password='' dbname=orders sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			if tt.modify != nil {
				tt.modify(&c)
			}
			assert.Equal(t, tt.want, c.DSN())
		})
	}
}
