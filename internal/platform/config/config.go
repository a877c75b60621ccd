package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Config holds all configuration for a service
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	S3        S3Config        `mapstructure:"s3"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Migration MigrationConfig `mapstructure:"migration"`
	Version   string          `mapstructure:"version"`
}

// ServiceConfig holds service-specific configuration
type ServiceConfig struct {
	Name        string `mapstructure:"name" envconfig:"SERVICE_NAME"`
	Environment string `mapstructure:"environment" envconfig:"ENVIRONMENT" default:"development"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port         int           `mapstructure:"port" envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" envconfig:"HTTP_WRITE_TIMEOUT" default:"10m"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" envconfig:"HTTP_IDLE_TIMEOUT" default:"120s"`
	APIKeys      []string      `mapstructure:"api_keys" envconfig:"HTTP_API_KEYS"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" envconfig:"DB_DRIVER" default:"postgres"`
	Host            string        `mapstructure:"host" envconfig:"DB_HOST" default:"localhost"`
	Port            int           `mapstructure:"port" envconfig:"DB_PORT" default:"5432"`
	User            string        `mapstructure:"user" envconfig:"DB_USER" default:"postgres"`
	Password        string        `mapstructure:"password" envconfig:"DB_PASSWORD" default:"postgres"`
	Database        string        `mapstructure:"database" envconfig:"DB_NAME" default:"linkflow"`
	Path            string        `mapstructure:"path" envconfig:"DB_PATH"`
	Schema          string        `mapstructure:"schema" envconfig:"DB_SCHEMA"`
	SSLMode         string        `mapstructure:"ssl_mode" envconfig:"DB_SSL_MODE" default:"disable"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" envconfig:"DB_MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" envconfig:"DB_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" envconfig:"DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host      string `mapstructure:"host" envconfig:"REDIS_HOST" default:"localhost"`
	Port      int    `mapstructure:"port" envconfig:"REDIS_PORT" default:"6379"`
	Password  string `mapstructure:"password" envconfig:"REDIS_PASSWORD"`
	DB        int    `mapstructure:"db" envconfig:"REDIS_DB" default:"0"`
	KeyPrefix string `mapstructure:"key_prefix" envconfig:"REDIS_KEY_PREFIX" default:"dbmigrate"`
}

// KafkaConfig holds Kafka configuration. Publishing is disabled when no
// brokers are configured.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" envconfig:"KAFKA_BROKERS"`
	Topic   string   `mapstructure:"topic" envconfig:"KAFKA_TOPIC" default:"migration-events"`

	// BreakerFailures consecutive send failures open the circuit for BreakerTimeout
	BreakerFailures int           `mapstructure:"breaker_failures" envconfig:"KAFKA_BREAKER_FAILURES" default:"3"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout" envconfig:"KAFKA_BREAKER_TIMEOUT" default:"1m"`
}

// S3Config holds settings for s3:// migration sources
type S3Config struct {
	Region          string `mapstructure:"region" envconfig:"S3_REGION" default:"us-east-1"`
	Endpoint        string `mapstructure:"endpoint" envconfig:"S3_ENDPOINT"`
	AccessKeyID     string `mapstructure:"access_key_id" envconfig:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `mapstructure:"secret_access_key" envconfig:"S3_SECRET_ACCESS_KEY"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format     string `mapstructure:"format" envconfig:"LOG_FORMAT" default:"json"`
	OutputPath string `mapstructure:"output_path" envconfig:"LOG_OUTPUT_PATH" default:"stdout"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled" envconfig:"METRICS_ENABLED" default:"true"`
	TracingEnabled bool   `mapstructure:"tracing_enabled" envconfig:"TRACING_ENABLED" default:"false"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint" envconfig:"JAEGER_ENDPOINT" default:"http://localhost:14268/api/traces"`
	ServiceName    string `mapstructure:"service_name" envconfig:"TELEMETRY_SERVICE_NAME"`
}

// SourceConfig names one migration directory. Path may be a local
// directory or an s3://bucket/prefix URL.
type SourceConfig struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
}

// MigrationConfig holds migration runner configuration. Sources are listed
// in priority order, highest first.
type MigrationConfig struct {
	Sources            []SourceConfig    `mapstructure:"sources" ignored:"true"`
	Directories        []string          `mapstructure:"directories" envconfig:"MIGRATION_DIRECTORIES"`
	ScriptInterpreters map[string]string `mapstructure:"script_interpreters" ignored:"true"`
	ScriptTimeout      time.Duration     `mapstructure:"script_timeout" envconfig:"MIGRATION_SCRIPT_TIMEOUT" default:"30m"`
	TableName          string            `mapstructure:"table_name" envconfig:"MIGRATION_TABLE_NAME" default:"migration_watermarks"`
	AutoInitialize     bool              `mapstructure:"auto_initialize" envconfig:"MIGRATION_AUTO_INITIALIZE"`
	Schedule           string            `mapstructure:"schedule" envconfig:"MIGRATION_SCHEDULE"`
	LockEnabled        bool              `mapstructure:"lock_enabled" envconfig:"MIGRATION_LOCK_ENABLED"`
	LockTTL            time.Duration     `mapstructure:"lock_ttl" envconfig:"MIGRATION_LOCK_TTL" default:"1h"`
}

// DefaultScriptInterpreters maps recognized script extensions to the
// program used to run them.
func DefaultScriptInterpreters() map[string]string {
	return map[string]string{
		".py": "python3",
		".sh": "sh",
	}
}

// DefaultSourceName returns the service name used for the source at the
// given position of the priority list.
func DefaultSourceName(index int) string {
	switch index {
	case 0:
		return "core"
	case 1:
		return "server"
	default:
		return fmt.Sprintf("source-%d", index)
	}
}

// Load loads configuration from files and environment
func Load(serviceName string) (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("./configs/services/" + serviceName)
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; continue with env vars
	}

	return load(v, serviceName)
}

// LoadFile loads configuration from an explicit file path
func LoadFile(path, serviceName string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return load(v, serviceName)
}

// newViper uses a key delimiter that cannot clash with script extensions
// such as ".py", which are map keys under migration.script_interpreters.
func newViper() *viper.Viper {
	return viper.NewWithOptions(viper.KeyDelimiter("::"))
}

// load resolves values in the order defaults, config file, environment.
// envconfig writes its defaults for every unset variable, so it runs first;
// the file is then decoded over it with every set variable bound in viper,
// which puts the environment above the file.
func load(v *viper.Viper, serviceName string) (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}

	if err := bindEnv(v, reflect.TypeOf(cfg), ""); err != nil {
		return nil, fmt.Errorf("failed to bind env vars: %w", err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Service.Name == "" {
		cfg.Service.Name = serviceName
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = serviceName
	}

	cfg.Migration.normalize()

	if version := os.Getenv("VERSION"); version != "" {
		cfg.Version = version
	} else if cfg.Version == "" {
		cfg.Version = "dev"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// bindEnv binds the envconfig variable of every scalar or slice field in t
// to its viper key.
func bindEnv(v *viper.Viper, t reflect.Type, prefix string) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" || f.Tag.Get("ignored") == "true" {
			continue
		}
		if prefix != "" {
			key = prefix + "::" + key
		}

		if f.Type.Kind() == reflect.Struct {
			if err := bindEnv(v, f.Type, key); err != nil {
				return err
			}
			continue
		}

		name := f.Tag.Get("envconfig")
		if name == "" || f.Type.Kind() == reflect.Map {
			continue
		}
		if _, ok := os.LookupEnv(name); !ok {
			continue
		}
		if err := v.BindEnv(key, name); err != nil {
			return err
		}
	}
	return nil
}

// normalize folds MIGRATION_DIRECTORIES into Sources and fills in default
// source names and interpreters.
func (m *MigrationConfig) normalize() {
	if len(m.Sources) == 0 {
		for _, dir := range m.Directories {
			dir = strings.TrimSpace(dir)
			if dir == "" {
				continue
			}
			m.Sources = append(m.Sources, SourceConfig{Path: dir})
		}
	}
	for i := range m.Sources {
		if m.Sources[i].Name == "" {
			m.Sources[i].Name = DefaultSourceName(i)
		}
	}
	if len(m.ScriptInterpreters) == 0 {
		m.ScriptInterpreters = DefaultScriptInterpreters()
	}
}

// Validate checks the configuration for values the runner cannot work with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		return errors.New("database.path is required for the sqlite driver")
	}

	if len(c.Migration.Sources) == 0 {
		return errors.New("at least one migration source is required")
	}
	seen := make(map[string]bool, len(c.Migration.Sources))
	for _, src := range c.Migration.Sources {
		if src.Path == "" {
			return fmt.Errorf("migration source %q has no path", src.Name)
		}
		if seen[src.Name] {
			return fmt.Errorf("duplicate migration source name %q", src.Name)
		}
		seen[src.Name] = true
	}
	for ext, interpreter := range c.Migration.ScriptInterpreters {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("script extension %q must start with a dot", ext)
		}
		if ext == ".sql" {
			return errors.New("script extension .sql is reserved for SQL migrations")
		}
		if interpreter == "" {
			return fmt.Errorf("script extension %q has no interpreter", ext)
		}
	}
	if c.Migration.TableName == "" {
		return errors.New("migration.table_name must not be empty")
	}
	return nil
}

// DSN returns the database connection string for postgres. A configured
// schema is set as the search_path of every connection opened with it.
func (c *DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dsnValue(c.Host), c.Port, dsnValue(c.User), dsnValue(c.Password), dsnValue(c.Database), dsnValue(c.SSLMode))
	if c.Schema != "" {
		dsn += " options=" + dsnValue("-c search_path="+c.Schema)
	}
	return dsn
}

// dsnValue quotes v for a key=value connection string when it is empty or
// holds spaces, quotes or backslashes.
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
