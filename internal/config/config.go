/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// LedgerBackend selects where the recency ledger lives.
type LedgerBackend string

const (
	LedgerFile LedgerBackend = "file"
	LedgerS3   LedgerBackend = "s3"
	LedgerSQL  LedgerBackend = "sql"
)

const (
	ledgerFileName = "selected_collections.json"
	statusFileName = "status.json"
	lockFileName   = "selected_collections.lock"
)

// Config covers process level configuration read from environment variables.
// Pinning behaviour lives in the settings file, see LoadSettings.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	ConfigPath  string // pinning settings file, re-read every run
	DataDir     string // ledger, status and lock files

	LedgerBackend  LedgerBackend
	LedgerKey      string // object key when the ledger lives in S3
	LockStaleAfter time.Duration

	DBBackend DatabaseBackend
	DBDSN     string

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string // empty disables Redis locking
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	NATSURL     string // empty disables the NATS bridge
	RedisEvents bool   // publish events on Redis pub/sub when NATS is not configured

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"COLLEXIONS_ENV", "ENVIRONMENT"}, "development"),
		HTTPBind:    getEnvAny([]string{"COLLEXIONS_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"COLLEXIONS_HTTP_PORT"}, 2000),
		ConfigPath:  getEnvAny([]string{"COLLEXIONS_CONFIG_PATH", "CONFIG_PATH"}, "/app/config/config.json"),
		DataDir:     getEnvAny([]string{"COLLEXIONS_DATA_DIR", "DATA_DIR"}, "/app/data"),

		LedgerBackend:  LedgerBackend(strings.ToLower(getEnvAny([]string{"COLLEXIONS_LEDGER_BACKEND"}, string(LedgerFile)))),
		LedgerKey:      getEnvAny([]string{"COLLEXIONS_LEDGER_KEY"}, "collexions/"+ledgerFileName),
		LockStaleAfter: time.Duration(getEnvIntAny([]string{"COLLEXIONS_LOCK_STALE_MINUTES"}, 120)) * time.Minute,

		DBBackend: DatabaseBackend(getEnvAny([]string{"COLLEXIONS_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:     getEnvAny([]string{"COLLEXIONS_DB_DSN"}, ""),

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny([]string{"COLLEXIONS_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"COLLEXIONS_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"COLLEXIONS_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"COLLEXIONS_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"COLLEXIONS_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"COLLEXIONS_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"COLLEXIONS_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"COLLEXIONS_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"COLLEXIONS_TRACING_SAMPLE_RATE"}, 1.0),

		// Multi-instance configuration
		LeaderElectionEnabled: getEnvBoolAny([]string{"COLLEXIONS_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"COLLEXIONS_REDIS_ADDR"}, ""),
		RedisPassword:         getEnvAny([]string{"COLLEXIONS_REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"COLLEXIONS_REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"COLLEXIONS_INSTANCE_ID", "HOSTNAME"}, ""),

		NATSURL:     getEnvAny([]string{"COLLEXIONS_NATS_URL"}, ""),
		RedisEvents: getEnvBoolAny([]string{"COLLEXIONS_REDIS_EVENTS"}, false),
	}

	switch cfg.LedgerBackend {
	case LedgerFile:
	case LedgerS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("COLLEXIONS_S3_BUCKET or S3_BUCKET must be provided for the s3 ledger backend")
		}
	case LedgerSQL:
		if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
			return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
		}
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("COLLEXIONS_DB_DSN must be provided for the sql ledger backend")
		}
	default:
		return nil, fmt.Errorf("unsupported ledger backend %q", cfg.LedgerBackend)
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid http port %d", cfg.HTTPPort)
	}

	if cfg.RedisEvents && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("COLLEXIONS_REDIS_ADDR must be provided when COLLEXIONS_REDIS_EVENTS is enabled")
	}

	if cfg.LeaderElectionEnabled && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("COLLEXIONS_REDIS_ADDR must be provided when leader election is enabled")
	}

	if cfg.TracingSampleRate < 0 || cfg.TracingSampleRate > 1 {
		return nil, fmt.Errorf("tracing sample rate must be between 0 and 1, got %v", cfg.TracingSampleRate)
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"CONFIG_PATH":   "use COLLEXIONS_CONFIG_PATH",
		"DATA_DIR":      "use COLLEXIONS_DATA_DIR",
		"ENVIRONMENT":   "use COLLEXIONS_ENV",
		"OTLP_ENDPOINT": "use COLLEXIONS_OTLP_ENDPOINT",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// LedgerPath is the ledger file for the file backend.
func (c *Config) LedgerPath() string { return filepath.Join(c.DataDir, ledgerFileName) }

// StatusPath is the status file written by the scheduler.
func (c *Config) StatusPath() string { return filepath.Join(c.DataDir, statusFileName) }

// LockPath is the ledger lock file used when Redis is not configured.
func (c *Config) LockPath() string { return filepath.Join(c.DataDir, lockFileName) }

// IsProduction reports whether the process runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
