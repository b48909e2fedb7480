/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection for the track catalog.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Snapshot persistence backend selection.
type PersistenceBackend string

const (
	PersistenceNone  PersistenceBackend = "none"
	PersistenceRedis PersistenceBackend = "redis"
	PersistenceS3    PersistenceBackend = "s3"
	PersistenceBoth  PersistenceBackend = "both"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL (e.g., http://rooms.example.com)

	// AllowedOrigins restricts websocket and CORS origins. Empty allows all
	// (development only).
	AllowedOrigins []string

	// JWTSigningKey signs room invite tokens. Optional in development.
	JWTSigningKey string

	// Track catalog database.
	DBBackend DatabaseBackend
	DBDSN     string

	// Room engine tunables.
	BeaconInterval time.Duration
	EmptyRoomGrace time.Duration
	OwnershipTTLMs int64
	OwnershipMode  string // "strict" or "permissive"
	RoomCodeLength int

	// Snapshot persistence.
	Persistence     PersistenceBackend
	PersistInterval time.Duration
	SnapshotTTL     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// S3 snapshot archive.
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Cross-instance event mirror: "none", "nats", or "redis".
	EventBus string
	NATSURL  string

	// Tracing configuration.
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Debug log buffer capacity.
	LogBufferSize int

	InstanceID string
}

// Load reads configuration from MIXROOM_* environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("MIXROOM_ENV", "development"),
		HTTPBind:    getEnv("MIXROOM_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("MIXROOM_HTTP_PORT", 8080),
		BaseURL:     getEnv("MIXROOM_BASE_URL", ""),

		AllowedOrigins: splitList(getEnv("MIXROOM_ALLOWED_ORIGINS", "")),

		JWTSigningKey: getEnv("MIXROOM_JWT_SIGNING_KEY", ""),

		DBBackend: DatabaseBackend(getEnv("MIXROOM_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:     getEnv("MIXROOM_DB_DSN", "file:mixroom.db?_pragma=busy_timeout(5000)"),

		BeaconInterval: time.Duration(getEnvInt("MIXROOM_BEACON_INTERVAL_MS", 250)) * time.Millisecond,
		EmptyRoomGrace: time.Duration(getEnvInt("MIXROOM_EMPTY_ROOM_GRACE_SEC", 60)) * time.Second,
		OwnershipTTLMs: int64(getEnvInt("MIXROOM_OWNERSHIP_TTL_MS", 2000)),
		OwnershipMode:  getEnv("MIXROOM_OWNERSHIP_MODE", "strict"),
		RoomCodeLength: getEnvInt("MIXROOM_ROOM_CODE_LENGTH", 6),

		Persistence:     PersistenceBackend(getEnv("MIXROOM_PERSISTENCE", string(PersistenceNone))),
		PersistInterval: time.Duration(getEnvInt("MIXROOM_PERSIST_INTERVAL_SEC", 3)) * time.Second,
		SnapshotTTL:     time.Duration(getEnvInt("MIXROOM_SNAPSHOT_TTL_HOURS", 24)) * time.Hour,

		RedisAddr:     getEnv("MIXROOM_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("MIXROOM_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("MIXROOM_REDIS_DB", 0),

		S3AccessKeyID:     getEnvAny([]string{"MIXROOM_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"MIXROOM_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"MIXROOM_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"MIXROOM_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"MIXROOM_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBool("MIXROOM_S3_USE_PATH_STYLE", false),

		EventBus: getEnv("MIXROOM_EVENT_BUS", "none"),
		NATSURL:  getEnv("MIXROOM_NATS_URL", "nats://localhost:4222"),

		TracingEnabled:    getEnvBool("MIXROOM_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("MIXROOM_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("MIXROOM_TRACING_SAMPLE_RATE", 1.0),

		LogBufferSize: getEnvInt("MIXROOM_LOG_BUFFER_SIZE", 10000),

		InstanceID: getEnv("MIXROOM_INSTANCE_ID", ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	switch cfg.Persistence {
	case PersistenceNone, PersistenceRedis, PersistenceS3, PersistenceBoth:
	default:
		return nil, fmt.Errorf("unsupported persistence backend %q", cfg.Persistence)
	}

	switch cfg.EventBus {
	case "none", "nats", "redis":
	default:
		return nil, fmt.Errorf("MIXROOM_EVENT_BUS must be none, nats, or redis, got %q", cfg.EventBus)
	}

	if cfg.OwnershipMode != "strict" && cfg.OwnershipMode != "permissive" {
		return nil, fmt.Errorf("MIXROOM_OWNERSHIP_MODE must be strict or permissive, got %q", cfg.OwnershipMode)
	}

	if (cfg.Persistence == PersistenceS3 || cfg.Persistence == PersistenceBoth) && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("MIXROOM_S3_BUCKET must be set for s3 persistence")
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if cfg.JWTSigningKey == "" {
			return nil, fmt.Errorf("MIXROOM_JWT_SIGNING_KEY must be provided in production")
		}
		if len(cfg.AllowedOrigins) == 0 {
			return nil, fmt.Errorf("MIXROOM_ALLOWED_ORIGINS must be set in production")
		}
	}

	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
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
