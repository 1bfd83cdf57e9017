package storage

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kvdaemon/kvdaemon/internal/ports"
	"github.com/kvdaemon/kvdaemon/internal/timeutil"
)

// RedisConfig carries the knobs internal/config's StorageConfig maps onto
// a go-redis UniversalClient, mirroring the field names the teacher's
// redis client used for the same options.
type RedisConfig struct {
	Addresses     []string
	Username      string
	Password      string
	DB            int
	PoolSize      int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

// Each key is stored as one Redis hash with these fields: go-redis only
// gives us byte strings, so flags/cas/value are packed into that hash.
const (
	fieldValue = "v"
	fieldFlags = "f"
	fieldCas   = "c"
)

// Redis is a ports.Storage implementation backed by a real Redis instance,
// adapted from the teacher's internal/redis client: a thin retry loop
// around goredis.UniversalClient, classifying transient connection/
// loading errors the same way.
type Redis struct {
	client goredis.UniversalClient
	cfg    RedisConfig
	logger ports.Logger
	casSeq atomic.Uint64
}

// NewRedis dials (lazily — go-redis connects on first use) a Redis backend
// per cfg.
func NewRedis(cfg RedisConfig, logger ports.Logger) *Redis {
	c := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return &Redis{client: c, cfg: cfg, logger: logger}
}

// Execute tokenizes argument and issues the equivalent Redis commands,
// pipelining where the operation naturally decomposes into more than one
// (e.g. "set" is HSET + EXPIRE), exactly the batching the teacher's
// AckAndDeleteBatch used XACK+XDEL for.
func (r *Redis) Execute(ctx context.Context, argument []byte) ([]byte, error) {
	req, err := parseRequest(argument)
	if err != nil {
		return []byte("ERROR"), nil
	}

	switch req.verb {
	case "set":
		if err := r.withRetry(ctx, func(ctx context.Context) error {
			return r.hsetWithExpiry(ctx, req.keys[0], req.flags, req.data, req.exptime)
		}); err != nil {
			return nil, err
		}
		return textReply(req.noreply, "STORED"), nil
	case "add":
		exists, err := r.existsNow(ctx, req.keys[0])
		if err != nil {
			return nil, err
		}
		if exists {
			return []byte("NOT_STORED"), nil
		}
		if err := r.withRetry(ctx, func(ctx context.Context) error {
			return r.hsetWithExpiry(ctx, req.keys[0], req.flags, req.data, req.exptime)
		}); err != nil {
			return nil, err
		}
		return textReply(req.noreply, "STORED"), nil
	case "replace":
		exists, err := r.existsNow(ctx, req.keys[0])
		if err != nil {
			return nil, err
		}
		if !exists {
			return []byte("NOT_STORED"), nil
		}
		if err := r.withRetry(ctx, func(ctx context.Context) error {
			return r.hsetWithExpiry(ctx, req.keys[0], req.flags, req.data, req.exptime)
		}); err != nil {
			return nil, err
		}
		return textReply(req.noreply, "STORED"), nil
	case "get", "gets":
		return r.get(ctx, req.keys, req.verb == "gets")
	case "delete":
		return r.delete(ctx, req)
	case "incr", "decr":
		return r.incrDecr(ctx, req)
	case "flush_all":
		return []byte("OK"), r.withRetry(ctx, func(ctx context.Context) error {
			return r.client.FlushDB(ctx).Err()
		})
	case "version":
		return []byte("VERSION kvdaemon-redis"), nil
	case "quit":
		return nil, nil
	default:
		return []byte("ERROR"), nil
	}
}

func (r *Redis) hsetWithExpiry(ctx context.Context, key string, flags uint32, value []byte, exptime int64) error {
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		fieldValue: value,
		fieldFlags: flags,
		fieldCas:   r.nextCas(),
	})
	if exptime != 0 {
		pipe.Expire(ctx, key, expiryDuration(exptime))
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) existsNow(ctx context.Context, key string) (bool, error) {
	var n int64
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var e error
		n, e = r.client.Exists(ctx, key).Result()
		return e
	})
	return n > 0, err
}

func (r *Redis) get(ctx context.Context, keys []string, withCas bool) ([]byte, error) {
	var lines [][]byte
	for _, key := range keys {
		var vals map[string]string
		err := r.withRetry(ctx, func(ctx context.Context) error {
			var e error
			vals, e = r.client.HGetAll(ctx, key).Result()
			return e
		})
		if err != nil {
			return nil, err
		}
		value, ok := vals[fieldValue]
		if !ok {
			continue
		}
		flags, _ := strconv.ParseUint(vals[fieldFlags], 10, 32)
		header := "VALUE " + key + " " + strconv.FormatUint(flags, 10) + " " + strconv.Itoa(len(value))
		if withCas {
			header += " " + vals[fieldCas]
		}
		lines = append(lines, []byte(header), []byte(value))
	}
	lines = append(lines, []byte("END"))
	out := lines[0]
	for _, l := range lines[1:] {
		out = append(append(out, "\r\n"...), l...)
	}
	return out, nil
}

func (r *Redis) delete(ctx context.Context, req request) ([]byte, error) {
	var n int64
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var e error
		n, e = r.client.Del(ctx, req.keys[0]).Result()
		return e
	})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return textReply(req.noreply, "NOT_FOUND"), nil
	}
	return textReply(req.noreply, "DELETED"), nil
}

func (r *Redis) incrDecr(ctx context.Context, req request) ([]byte, error) {
	exists, err := r.existsNow(ctx, req.keys[0])
	if err != nil {
		return nil, err
	}
	if !exists {
		return textReply(req.noreply, "NOT_FOUND"), nil
	}

	var newVal int64
	err = r.withRetry(ctx, func(ctx context.Context) error {
		current, e := r.client.HGet(ctx, req.keys[0], fieldValue).Result()
		if e != nil {
			return e
		}
		cur, _ := strconv.ParseInt(current, 10, 64)
		if req.verb == "incr" {
			newVal = cur + int64(req.delta)
		} else {
			newVal = cur - int64(req.delta)
			if newVal < 0 {
				newVal = 0
			}
		}
		return r.client.HSet(ctx, req.keys[0], fieldValue, strconv.FormatInt(newVal, 10), fieldCas, r.nextCas()).Err()
	})
	if err != nil {
		return nil, err
	}
	return textReply(req.noreply, strconv.FormatInt(newVal, 10)), nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func textReply(noreply bool, text string) []byte {
	if noreply {
		return nil
	}
	return []byte(text)
}

func (r *Redis) nextCas() uint64 {
	return r.casSeq.Add(1)
}

func expiryDuration(exptime int64) time.Duration {
	if exptime < 0 {
		return time.Millisecond
	}
	return timeutil.FromSeconds(exptime)
}

// withRetry wraps fn with the teacher's executeWithRetry pattern:
// transient connection/loading errors are retried up to cfg.MaxRetries,
// spaced by cfg.RetryInterval; everything else returns immediately.
func (r *Redis) withRetry(ctx context.Context, fn func(context.Context) error) error {
	var attempt int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if !isTransientRedisError(err) || attempt >= r.cfg.MaxRetries {
			if r.logger != nil {
				r.logger.Warn("redis: giving up", ports.Field{Key: "error", Value: err.Error()}, ports.Field{Key: "attempt", Value: attempt})
			}
			return err
		}
		attempt++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.RetryInterval):
		}
	}
}

func isTransientRedisError(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	return strings.Contains(es, "LOADING") ||
		strings.Contains(es, "connection refused") ||
		strings.Contains(es, "i/o timeout") ||
		strings.Contains(es, "EOF") ||
		strings.Contains(es, "connection reset")
}
