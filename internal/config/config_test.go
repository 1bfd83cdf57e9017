package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, FlavorMTNonblock, cfg.Server.Flavor)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.True(t, cfg.Executor.High >= cfg.Executor.Low)
	assert.False(t, cfg.Events.Enabled)
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{"-flavor=st-coroutine", "-address=127.0.0.1:9999", "-storage-backend=redis", "-redis-address=redis:6379"})
	require.NoError(t, err)
	assert.Equal(t, FlavorSTCoroutine, cfg.Server.Flavor)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Address)
	assert.Equal(t, BackendRedis, cfg.Storage.Backend)
	assert.Equal(t, "redis:6379", cfg.Storage.RedisAddress)
}

func TestLoadEnvOverridesDefaultsButNotFlags(t *testing.T) {
	t.Setenv("KVD_FLAVOR", "st-nonblock")
	t.Setenv("KVD_ADDRESS", "0.0.0.0:1234")

	cfg, err := Load([]string{"-address=0.0.0.0:5555"})
	require.NoError(t, err)
	assert.Equal(t, FlavorSTNonblock, cfg.Server.Flavor, "env applies when no flag overrides it")
	assert.Equal(t, "0.0.0.0:5555", cfg.Server.Address, "explicit flag wins over env")
}

func TestValidateRejectsBadExecutorConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Executor.Low = 5
	cfg.Executor.High = 2
	require.Error(t, validate(cfg))
}

func TestValidateRejectsUnknownFlavor(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Flavor = "bogus"
	require.Error(t, validate(cfg))
}

func TestValidateRejectsNonPow2ShardCount(t *testing.T) {
	cfg := defaultConfig()
	cfg.Storage.ShardCount = 3
	require.Error(t, validate(cfg))
}

func TestValidateRequiresRedisAddressForRedisBackend(t *testing.T) {
	cfg := defaultConfig()
	cfg.Storage.Backend = BackendRedis
	cfg.Storage.RedisAddress = ""
	require.Error(t, validate(cfg))
}
