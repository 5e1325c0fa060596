package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKey is the Redis list holding recent notifications
	DefaultKey = "ups:events"
	// DefaultChannel is the pub/sub channel each notification is published on
	DefaultChannel = "ups:events:live"
)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	Channel  string
}

// RedisStore implements Store using a capped Redis list plus pub/sub
type RedisStore struct {
	client  *redis.Client
	opts    Options
	key     string
	channel string
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(cfg RedisConfig, opts Options) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisStore(client, cfg, opts), nil
}

func newRedisStore(client *redis.Client, cfg RedisConfig, opts Options) *RedisStore {
	s := &RedisStore{
		client:  client,
		opts:    opts.withDefaults(),
		key:     cfg.Key,
		channel: cfg.Channel,
	}
	if s.key == "" {
		s.key = DefaultKey
	}
	if s.channel == "" {
		s.channel = DefaultChannel
	}
	return s
}

// Append pushes the entry, trims the list to capacity, refreshes its TTL
// and publishes the entry to subscribers
func (r *RedisStore) Append(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.key, data)
		pipe.LTrim(ctx, r.key, 0, int64(r.opts.Capacity-1))
		pipe.Expire(ctx, r.key, r.opts.TTL)
		pipe.Publish(ctx, r.channel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Recent returns the newest entries first
func (r *RedisStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	raw, err := r.client.LRange(ctx, r.key, 0, stop).Result()
	if err == redis.Nil {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	out := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Subscribe streams entries published after the call until ctx is done
func (r *RedisStore) Subscribe(ctx context.Context) (<-chan Entry, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	out := make(chan Entry)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e Entry
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Ping checks the Redis connection
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}
