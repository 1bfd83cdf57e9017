package config

import "fmt"

// validate enforces the invariants spec.md §3/§4.1 require of the
// configuration before the server starts: low ≤ high, max_queue ≥ 0, and
// the flavor/backend knobs name something the process actually implements.
func validate(cfg *Config) error {
	if err := validateExecutor(&cfg.Executor); err != nil {
		return err
	}
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}
	if err := validateStorage(&cfg.Storage); err != nil {
		return err
	}
	return nil
}

func validateExecutor(e *ExecutorConfig) error {
	if e.Low < 0 {
		return fmt.Errorf("executor.low must be >= 0, got %d", e.Low)
	}
	if e.High < e.Low {
		return fmt.Errorf("executor.high (%d) must be >= executor.low (%d)", e.High, e.Low)
	}
	if e.MaxQueue < 0 {
		return fmt.Errorf("executor.max_queue must be >= 0, got %d", e.MaxQueue)
	}
	if e.IdleTime <= 0 {
		return fmt.Errorf("executor.idle_time must be positive, got %s", e.IdleTime)
	}
	return nil
}

func validateServer(s *ServerConfig) error {
	switch s.Flavor {
	case FlavorSTNonblock, FlavorMTNonblock, FlavorSTCoroutine:
	default:
		return fmt.Errorf("server.flavor must be one of %q, %q, %q, got %q",
			FlavorSTNonblock, FlavorMTNonblock, FlavorSTCoroutine, s.Flavor)
	}
	if s.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if s.MaxConns <= 0 {
		return fmt.Errorf("server.max_conns must be positive, got %d", s.MaxConns)
	}
	return nil
}

func validateStorage(st *StorageConfig) error {
	switch st.Backend {
	case BackendMemory:
		if st.ShardCount <= 0 || st.ShardCount&(st.ShardCount-1) != 0 {
			return fmt.Errorf("storage.shard_count must be a positive power of two, got %d", st.ShardCount)
		}
	case BackendRedis:
		if st.RedisAddress == "" {
			return fmt.Errorf("storage.redis_address must not be empty when backend=redis")
		}
	default:
		return fmt.Errorf("storage.backend must be one of %q, %q, got %q", BackendMemory, BackendRedis, st.Backend)
	}
	return nil
}
