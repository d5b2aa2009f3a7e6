package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Hermes    HermesConfig    `yaml:"hermes" toml:"hermes"`
	Blobstore BlobstoreConfig `yaml:"blobstore" toml:"blobstore"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Workflow  WorkflowConfig  `yaml:"workflow" toml:"workflow"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

type ServerConfig struct {
	Port                  int `yaml:"port" toml:"port"`
	MetricsPort           int `yaml:"metrics_port" toml:"metrics_port"`
	RateLimitPerMinute    int `yaml:"rate_limit_per_minute" toml:"rate_limit_per_minute"`
	IdempotencyTTLSeconds int `yaml:"idempotency_ttl_seconds" toml:"idempotency_ttl_seconds"`
	MaxUploadMB           int `yaml:"max_upload_mb" toml:"max_upload_mb"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	URL    string `yaml:"url" toml:"url"`
	Path   string `yaml:"path" toml:"path"`
}

type HermesConfig struct {
	URL string `yaml:"url" toml:"url"`
}

type BlobstoreConfig struct {
	URL   string `yaml:"url" toml:"url"`
	Token string `yaml:"token" toml:"token"`
}

type AuthConfig struct {
	URL          string                 `yaml:"url" toml:"url"`
	Token        string                 `yaml:"token" toml:"token"`
	StaticTokens map[string]StaticToken `yaml:"static_tokens" toml:"static_tokens"`
}

// StaticToken maps a bearer token to a fixed identity. Used for local runs
// and tests when no auth service is configured.
type StaticToken struct {
	UserID string `yaml:"user_id" toml:"user_id"`
	Role   string `yaml:"role" toml:"role"`
}

type WorkflowConfig struct {
	BlockingSeverities []string                  `yaml:"blocking_severities" toml:"blocking_severities"`
	Catalog            map[string][]CatalogStage `yaml:"catalog" toml:"catalog"`
}

type CatalogStage struct {
	Code     string `yaml:"code" toml:"code"`
	Name     string `yaml:"name" toml:"name"`
	Role     string `yaml:"role" toml:"role"`
	SLAHours int    `yaml:"sla_hours" toml:"sla_hours"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.Server.IdempotencyTTLSeconds) * time.Second
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:                  8700,
			MetricsPort:           8701,
			RateLimitPerMinute:    120,
			IdempotencyTTLSeconds: 86400,
			MaxUploadMB:           50,
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "atpflow.db",
		},
		Hermes: HermesConfig{
			URL: "nats://localhost:4222",
		},
		Blobstore: BlobstoreConfig{
			URL: "http://localhost:8510",
		},
		Workflow: WorkflowConfig{
			BlockingSeverities: []string{"critical"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Server.RateLimitPerMinute <= 0 {
		return fmt.Errorf("server.rate_limit_per_minute must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ATPFLOW_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("ATPFLOW_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("ATPFLOW_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("ATPFLOW_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("ATPFLOW_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("ATPFLOW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v, ok := os.LookupEnv("ATPFLOW_HERMES_URL"); ok {
		cfg.Hermes.URL = v
	}
	if v := os.Getenv("ATPFLOW_BLOBSTORE_URL"); v != "" {
		cfg.Blobstore.URL = v
	}
	if v := os.Getenv("ATPFLOW_BLOBSTORE_TOKEN"); v != "" {
		cfg.Blobstore.Token = v
	}
	if v := os.Getenv("ATPFLOW_AUTH_URL"); v != "" {
		cfg.Auth.URL = v
	}
	if v := os.Getenv("ATPFLOW_AUTH_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("ATPFLOW_BLOCKING_SEVERITIES"); v != "" {
		var sevs []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				sevs = append(sevs, s)
			}
		}
		cfg.Workflow.BlockingSeverities = sevs
	}
	if v := os.Getenv("ATPFLOW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ATPFLOW_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
