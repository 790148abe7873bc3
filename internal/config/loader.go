package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/argussec/argus/internal/secrets"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "argus.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	if err := loadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config. Credentials
// additionally accept the "<NAME>_FILE" mounted-secret convention.
func loadEnv(cfg *Config) error {
	setString(&cfg.Server.Port, "ARGUS_PORT")
	setString(&cfg.Server.PublicHost, "ARGUS_PUBLIC_HOST")
	setString(&cfg.Server.CORSOrigin, "ARGUS_CORS_ORIGIN")
	if err := setSecret(&cfg.Postgres.DSN, "DATABASE_URL"); err != nil {
		return err
	}
	setInt32(&cfg.Postgres.MaxConns, "ARGUS_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ARGUS_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ARGUS_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ARGUS_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ARGUS_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LLM.URL, "ARGUS_LLM_URL")
	if err := setSecret(&cfg.LLM.APIKey, "ARGUS_LLM_API_KEY"); err != nil {
		return err
	}
	setString(&cfg.LLM.Model, "ARGUS_LLM_MODEL")
	setString(&cfg.Logging.Level, "ARGUS_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ARGUS_LOG_SERVICE")
	setDuration(&cfg.Auth.SessionTTL, "ARGUS_SESSION_TTL")
	setDuration(&cfg.Auth.KeyCacheTTL, "ARGUS_KEY_CACHE_TTL")
	setInt64(&cfg.Auth.KeyCacheSize, "ARGUS_KEY_CACHE_SIZE")
	setDuration(&cfg.Reaper.Interval, "ARGUS_REAPER_INTERVAL")
	setDuration(&cfg.Reaper.StaleTimeout, "ARGUS_STALE_TIMEOUT")
	setInt64(&cfg.Ingest.MaxBodyBytes, "ARGUS_INGEST_MAX_BODY_BYTES")
	setInt(&cfg.Ingest.MaxBatch, "ARGUS_INGEST_MAX_BATCH")
	setString(&cfg.Otel.Endpoint, "ARGUS_OTEL_ENDPOINT")
	return nil
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Reaper.Interval <= 0 {
		return errors.New("reaper.interval must be positive")
	}
	if cfg.Reaper.StaleTimeout <= 0 {
		return errors.New("reaper.stale_timeout must be positive")
	}
	if cfg.Ingest.MaxBatch < 1 {
		return errors.New("ingest.max_batch must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setSecret(dst *string, key string) error {
	v, err := secrets.Getenv(key)
	if err != nil {
		return err
	}
	if v != "" {
		*dst = v
	}
	return nil
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
