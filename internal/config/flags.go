package config

import (
	"flag"
	"time"
)

// flagValues holds the flags registered on a fresh FlagSet for each Load
// call, so tests can call Load repeatedly without colliding with the
// package flag.CommandLine.
type flagValues struct {
	address      *string
	flavor       *string
	maxConns     *int
	execLow      *int
	execHigh     *int
	execMaxQueue *int
	execIdle     *string
	backend      *string
	shardCount   *int
	redisAddr    *string
	logLevel     *string
	logFormat    *string
}

func registerFlags(fs *flag.FlagSet, cfg *Config) *flagValues {
	return &flagValues{
		address:      fs.String("address", cfg.Server.Address, "bind address for the key-value server"),
		flavor:       fs.String("flavor", string(cfg.Server.Flavor), "server flavor: st-nonblock|mt-nonblock|st-coroutine"),
		maxConns:     fs.Int("max-conns", cfg.Server.MaxConns, "maximum concurrent connections"),
		execLow:      fs.Int("executor-low", cfg.Executor.Low, "executor low watermark"),
		execHigh:     fs.Int("executor-high", cfg.Executor.High, "executor high watermark"),
		execMaxQueue: fs.Int("executor-max-queue", cfg.Executor.MaxQueue, "executor bounded backlog size"),
		execIdle:     fs.String("executor-idle-time", cfg.Executor.IdleTime.String(), "executor idle reap timeout"),
		backend:      fs.String("storage-backend", string(cfg.Storage.Backend), "storage backend: memory|redis"),
		shardCount:   fs.Int("storage-shards", cfg.Storage.ShardCount, "memory backend shard count (power of two)"),
		redisAddr:    fs.String("redis-address", cfg.Storage.RedisAddress, "redis address when storage-backend=redis"),
		logLevel:     fs.String("log-level", cfg.App.LogLevel, "log level: trace|debug|info|warn|error"),
		logFormat:    fs.String("log-format", cfg.App.LogFormat, "log format: text|json"),
	}
}

// applyFlags parses args against a fresh FlagSet seeded with cfg's current
// values as defaults, then overlays the parsed results onto cfg. Flags take
// precedence over environment variables, which take precedence over
// built-in defaults (spec.md's ambient-config precedence chain).
func applyFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("kvdaemon", flag.ContinueOnError)
	values := registerFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.Server.Address = *values.address
	cfg.Server.Flavor = Flavor(*values.flavor)
	cfg.Server.MaxConns = *values.maxConns
	cfg.Executor.Low = *values.execLow
	cfg.Executor.High = *values.execHigh
	cfg.Executor.MaxQueue = *values.execMaxQueue
	if d, err := time.ParseDuration(*values.execIdle); err == nil {
		cfg.Executor.IdleTime = d
	}
	cfg.Storage.Backend = StorageBackend(*values.backend)
	cfg.Storage.ShardCount = *values.shardCount
	cfg.Storage.RedisAddress = *values.redisAddr
	cfg.App.LogLevel = *values.logLevel
	cfg.App.LogFormat = *values.logFormat
	return nil
}
