package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func loadAppFromEnv(cfg *AppConfig) {
	cfg.Name = getEnv("APP_NAME", cfg.Name)
	cfg.Environment = getEnv("APP_ENV", cfg.Environment)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.ShutdownTimeout = getDurationEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
}

func loadServerFromEnv(cfg *ServerConfig) {
	cfg.Address = getEnv("KVD_ADDRESS", cfg.Address)
	cfg.Flavor = Flavor(getEnv("KVD_FLAVOR", string(cfg.Flavor)))
	cfg.MaxConns = getIntEnv("KVD_MAX_CONNS", cfg.MaxConns)
	cfg.CPUAffinity = getIntSliceEnv("KVD_CPU_AFFINITY", cfg.CPUAffinity)
}

func loadExecutorFromEnv(cfg *ExecutorConfig) {
	cfg.Low = getIntEnv("KVD_EXECUTOR_LOW", cfg.Low)
	cfg.High = getIntEnv("KVD_EXECUTOR_HIGH", cfg.High)
	cfg.MaxQueue = getIntEnv("KVD_EXECUTOR_MAX_QUEUE", cfg.MaxQueue)
	cfg.IdleTime = getDurationEnv("KVD_EXECUTOR_IDLE_TIME", cfg.IdleTime)
}

func loadStorageFromEnv(cfg *StorageConfig) {
	cfg.Backend = StorageBackend(getEnv("KVD_STORAGE_BACKEND", string(cfg.Backend)))
	cfg.ShardCount = getIntEnv("KVD_STORAGE_SHARDS", cfg.ShardCount)
	cfg.RedisAddress = getEnv("KVD_REDIS_ADDRESS", cfg.RedisAddress)
	cfg.RedisDB = getIntEnv("KVD_REDIS_DB", cfg.RedisDB)
	cfg.RedisTimeout = getDurationEnv("KVD_REDIS_TIMEOUT", cfg.RedisTimeout)
}

func loadEventsFromEnv(cfg *EventsConfig) {
	cfg.Enabled = getBoolEnv("KVD_EVENTS_ENABLED", cfg.Enabled)
	cfg.Broker = getEnv("KVD_EVENTS_BROKER", cfg.Broker)
	cfg.ClientID = getEnv("KVD_EVENTS_CLIENT_ID", cfg.ClientID)
	cfg.Topic = getEnv("KVD_EVENTS_TOPIC", cfg.Topic)
	cfg.QoS = byte(getIntEnv("KVD_EVENTS_QOS", int(cfg.QoS)))
	cfg.ConnectTimeout = getDurationEnv("KVD_EVENTS_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	cfg.WriteTimeout = getDurationEnv("KVD_EVENTS_WRITE_TIMEOUT", cfg.WriteTimeout)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntSliceEnv(key string, defaultValue []int) []int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			result = append(result, n)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
