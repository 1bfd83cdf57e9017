package config

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

// defaultConfig returns a Config populated entirely with built-in defaults.
func defaultConfig() *Config {
	return &Config{
		App:      defaultApp(),
		Server:   defaultServer(),
		Executor: defaultExecutor(),
		Storage:  defaultStorage(),
		Events:   defaultEvents(),
	}
}

func defaultApp() AppConfig {
	return AppConfig{
		Name:            "kvdaemon",
		Environment:     "production",
		LogLevel:        "info",
		LogFormat:       "text",
		ShutdownTimeout: 10 * time.Second,
	}
}

func defaultServer() ServerConfig {
	return ServerConfig{
		Address:     "0.0.0.0:11211",
		Flavor:      FlavorMTNonblock,
		MaxConns:    4096,
		CPUAffinity: []int{},
	}
}

func defaultExecutor() ExecutorConfig {
	return ExecutorConfig{
		Low:      runtime.NumCPU(),
		High:     runtime.NumCPU() * 4,
		MaxQueue: 1024,
		IdleTime: 60 * time.Second,
	}
}

func defaultStorage() StorageConfig {
	return StorageConfig{
		Backend:      BackendMemory,
		ShardCount:   nextPowerOf2(runtime.NumCPU() * 4),
		RedisAddress: "localhost:6379",
		RedisDB:      0,
		RedisTimeout: 2 * time.Second,
	}
}

func defaultEvents() EventsConfig {
	return EventsConfig{
		Enabled:        false,
		Broker:         "tcp://localhost:1883",
		ClientID:       generateClientID(),
		Topic:          "kvdaemon/commands",
		QoS:            0,
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   2 * time.Second,
	}
}

func generateClientID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("kvdaemon-%s-%d", hostname, os.Getpid())
}

func nextPowerOf2(n int) int {
	if n < 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}
