// Package config loads, merges, and validates application configuration from
// defaults, environment variables, and command-line flags, in that order of
// increasing precedence.
package config

import "time"

// Flavor selects one of the three server personalities spec.md §2 describes.
type Flavor string

const (
	// FlavorSTNonblock is the single-threaded, non-blocking event loop.
	FlavorSTNonblock Flavor = "st-nonblock"
	// FlavorMTNonblock is the multi-threaded, executor-backed event loop.
	FlavorMTNonblock Flavor = "mt-nonblock"
	// FlavorSTCoroutine is the single-threaded, coroutine-scheduled loop.
	FlavorSTCoroutine Flavor = "st-coroutine"
)

// StorageBackend selects the B collaborator implementation.
type StorageBackend string

const (
	// BackendMemory is the in-process shard-striped map.
	BackendMemory StorageBackend = "memory"
	// BackendRedis delegates storage to an external Redis instance.
	BackendRedis StorageBackend = "redis"
)

// Config holds the complete, validated application configuration.
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Executor ExecutorConfig
	Storage  StorageConfig
	Events   EventsConfig
}

// AppConfig holds process-wide ambient configuration.
type AppConfig struct {
	Name            string
	Environment     string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// ServerConfig selects the server flavor and its listening socket.
type ServerConfig struct {
	Address     string
	Flavor      Flavor
	MaxConns    int
	CPUAffinity []int // st-coroutine only: the first entry pins the coroutine scheduler thread
}

// ExecutorConfig configures the elastic thread pool (spec.md §4.1). Only
// consulted by the mt-nonblock flavor.
type ExecutorConfig struct {
	Low      int
	High     int
	MaxQueue int
	IdleTime time.Duration
}

// StorageConfig selects and configures the storage collaborator (spec.md §6).
type StorageConfig struct {
	Backend      StorageBackend
	ShardCount   int // memory backend only; must be a power of two
	RedisAddress string
	RedisDB      int
	RedisTimeout time.Duration
}

// EventsConfig configures the optional, disabled-by-default MQTT event
// publisher (internal/events). It never participates in the core's
// correctness; see SPEC_FULL.md §4.
type EventsConfig struct {
	Enabled        bool
	Broker         string
	ClientID       string
	Topic          string
	QoS            byte
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}
