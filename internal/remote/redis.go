package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mschirtzinger/studysync/internal/logging"
	"github.com/mschirtzinger/studysync/internal/model"
)

// RedisStore keeps each document under a string key and announces writes on
// a per-document pub/sub channel carrying the whole document.
type RedisStore struct {
	rdb    *goredis.Client
	prefix string
	logger *zap.Logger
}

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // key prefix, default "studysync"
	Logger   *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "studysync"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisStore{
		rdb:    rdb,
		prefix: cfg.Prefix,
		logger: logging.OrNop(cfg.Logger).Named("redis"),
	}, nil
}

func (r *RedisStore) docKey(id string) string  { return r.prefix + ":doc:" + id }
func (r *RedisStore) channel(id string) string { return r.prefix + ":doc:" + id + ":updates" }

func (r *RedisStore) Get(ctx context.Context, id string) (model.AppData, error) {
	if id == "" {
		return model.AppData{}, ErrNoID
	}
	raw, err := r.rdb.Get(ctx, r.docKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return model.AppData{}, ErrNotFound
	}
	if err != nil {
		return model.AppData{}, fmt.Errorf("failed to read document: %w", err)
	}
	return decode(raw)
}

func (r *RedisStore) Put(ctx context.Context, id string, d model.AppData) error {
	if id == "" {
		return ErrNoID
	}
	raw, err := encode(d)
	if err != nil {
		return err
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, r.docKey(id), raw, 0)
		pipe.Publish(ctx, r.channel(id), raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}

func (r *RedisStore) Subscribe(ctx context.Context, id string, fn func(model.AppData)) (<-chan error, error) {
	if id == "" {
		return nil, ErrNoID
	}

	sub := r.rdb.Subscribe(ctx, r.channel(id))
	// Wait for the subscription confirmation before reporting success.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				finish(done, nil)
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					finish(done, fmt.Errorf("redis subscription closed"))
					return
				}
				d, err := decode([]byte(m.Payload))
				if err != nil {
					r.logger.Warn("bad document payload", zap.String("id", id), zap.Error(err))
					continue
				}
				fn(d)
			}
		}
	}()
	return done, nil
}

// Close releases the Redis connection pool.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
