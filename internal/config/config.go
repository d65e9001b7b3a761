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

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// StorageBackend selects where hold snapshots and alarms are persisted.
type StorageBackend string

const (
	StorageDatabase StorageBackend = "database"
	StorageRedis    StorageBackend = "redis"
	StorageMemory   StorageBackend = "memory"
)

// EventsBackend selects how hold lifecycle events leave the process.
type EventsBackend string

const (
	EventsMemory EventsBackend = "memory"
	EventsRedis  EventsBackend = "redis"
	EventsNATS   EventsBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	StorageBackend StorageBackend
	DBBackend      DatabaseBackend
	DBDSN          string
	StorageTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Hold policy
	DefaultHoldTTL time.Duration
	MaxHoldTTL     time.Duration

	// Actor lifecycle
	ActorIdleTimeout time.Duration
	InstanceID       string
	Peers            []string // Instance IDs sharing the unit keyspace, including this one

	// Admin routes (cleanup); empty disables them
	JWTSigningKey string

	// Event fan-out
	EventsBackend EventsBackend
	NATSURL       string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"HOLDKEEPER_ENV", "HK_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"HOLDKEEPER_HTTP_BIND", "HK_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"HOLDKEEPER_HTTP_PORT", "HK_HTTP_PORT"}, 8080),
		MetricsBind: getEnvAny([]string{"HOLDKEEPER_METRICS_BIND", "HK_METRICS_BIND"}, "127.0.0.1:9000"),

		StorageBackend: StorageBackend(getEnvAny([]string{"HOLDKEEPER_STORAGE_BACKEND", "HK_STORAGE_BACKEND"}, string(StorageDatabase))),
		DBBackend:      DatabaseBackend(getEnvAny([]string{"HOLDKEEPER_DB_BACKEND", "HK_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:          getEnvAny([]string{"HOLDKEEPER_DB_DSN", "HK_DB_DSN"}, ""),
		StorageTimeout: time.Duration(getEnvIntAny([]string{"HOLDKEEPER_STORAGE_TIMEOUT_SECONDS", "HK_STORAGE_TIMEOUT_SECONDS"}, 5)) * time.Second,

		RedisAddr:     getEnvAny([]string{"HOLDKEEPER_REDIS_ADDR", "HK_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"HOLDKEEPER_REDIS_PASSWORD", "HK_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"HOLDKEEPER_REDIS_DB", "HK_REDIS_DB"}, 0),

		DefaultHoldTTL: time.Duration(getEnvIntAny([]string{"HOLDKEEPER_DEFAULT_HOLD_TTL_MINUTES", "HK_DEFAULT_HOLD_TTL_MINUTES"}, 15)) * time.Minute,
		MaxHoldTTL:     time.Duration(getEnvIntAny([]string{"HOLDKEEPER_MAX_HOLD_TTL_MINUTES", "HK_MAX_HOLD_TTL_MINUTES"}, 1440)) * time.Minute,

		ActorIdleTimeout: time.Duration(getEnvIntAny([]string{"HOLDKEEPER_ACTOR_IDLE_MINUTES", "HK_ACTOR_IDLE_MINUTES"}, 30)) * time.Minute,
		InstanceID:       getEnvAny([]string{"HOLDKEEPER_INSTANCE_ID", "HK_INSTANCE_ID"}, ""),
		Peers:            parseCSV(getEnvAny([]string{"HOLDKEEPER_PEERS", "HK_PEERS"}, "")),

		JWTSigningKey: getEnvAny([]string{"HOLDKEEPER_JWT_SIGNING_KEY", "HK_JWT_SIGNING_KEY"}, ""),

		EventsBackend: EventsBackend(getEnvAny([]string{"HOLDKEEPER_EVENTS_BACKEND", "HK_EVENTS_BACKEND"}, string(EventsMemory))),
		NATSURL:       getEnvAny([]string{"HOLDKEEPER_NATS_URL", "HK_NATS_URL"}, "nats://localhost:4222"),

		TracingEnabled:    getEnvBoolAny([]string{"HOLDKEEPER_TRACING_ENABLED", "HK_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"HOLDKEEPER_OTLP_ENDPOINT", "HK_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"HOLDKEEPER_TRACING_SAMPLE_RATE", "HK_TRACING_SAMPLE_RATE"}, 1.0),
	}

	switch cfg.StorageBackend {
	case StorageDatabase:
		if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
			return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
		}
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("HOLDKEEPER_DB_DSN or HK_DB_DSN must be provided for the database storage backend")
		}
	case StorageRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("HOLDKEEPER_REDIS_ADDR must be provided for the redis storage backend")
		}
	case StorageMemory:
		if strings.EqualFold(cfg.Environment, "production") {
			return nil, fmt.Errorf("memory storage backend is not durable and cannot be used in production")
		}
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}

	switch cfg.EventsBackend {
	case EventsMemory, EventsRedis, EventsNATS:
	default:
		return nil, fmt.Errorf("unsupported events backend %q", cfg.EventsBackend)
	}

	if cfg.DefaultHoldTTL <= 0 {
		return nil, fmt.Errorf("default hold TTL must be positive")
	}
	if cfg.MaxHoldTTL < cfg.DefaultHoldTTL {
		return nil, fmt.Errorf("max hold TTL (%s) is shorter than the default (%s)", cfg.MaxHoldTTL, cfg.DefaultHoldTTL)
	}
	if cfg.StorageTimeout <= 0 {
		return nil, fmt.Errorf("storage timeout must be positive")
	}

	if cfg.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "holdkeeper"
		}
		cfg.InstanceID = host
	}
	if len(cfg.Peers) > 0 && !contains(cfg.Peers, cfg.InstanceID) {
		return nil, fmt.Errorf("HOLDKEEPER_PEERS must include this instance (%s)", cfg.InstanceID)
	}

	return cfg, nil
}

// AdminEnabled reports whether admin routes can be authenticated.
func (c *Config) AdminEnabled() bool {
	return c != nil && c.JWTSigningKey != ""
}

func parseCSV(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
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
