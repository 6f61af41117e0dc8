package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "verdikt.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg. Returns nil if
// the file does not exist.
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

// loadEnv overlays environment variables onto cfg. Only non-empty env
// values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "VERDIKT_PORT")
	setString(&cfg.Server.CORSOrigin, "VERDIKT_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "VERDIKT_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "VERDIKT_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "VERDIKT_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "VERDIKT_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "VERDIKT_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Identity.URL, "VERDIKT_IDENTITY_URL")
	setString(&cfg.Logging.Level, "VERDIKT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "VERDIKT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "VERDIKT_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "VERDIKT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "VERDIKT_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "VERDIKT_RATE_RPS")
	setInt(&cfg.Rate.Burst, "VERDIKT_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "VERDIKT_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "VERDIKT_RATE_MAX_IDLE_TIME")
	setInt64(&cfg.Cache.MaxSizeMB, "VERDIKT_CACHE_SIZE_MB")
	setString(&cfg.Idempotency.Bucket, "VERDIKT_IDEMPOTENCY_BUCKET")
	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Protocol.Owner, "VERDIKT_PROTOCOL_OWNER")
	setString(&cfg.Protocol.DomainID, "VERDIKT_DOMAIN_ID")
	setDuration(&cfg.Protocol.SweepInterval, "VERDIKT_SWEEP_INTERVAL")
	setInt(&cfg.Protocol.SweepBatch, "VERDIKT_SWEEP_BATCH")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Protocol.Owner == "" {
		return errors.New("protocol.owner is required")
	}
	if cfg.Protocol.DomainID == "" {
		return errors.New("protocol.domain_id is required")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
