package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/clover/pkg/metrics"
)

// Config holds Redis connection configuration
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	// CommandTimeout bounds each command so a hung server degrades into an
	// error the callers already handle instead of stalling ingestion.
	CommandTimeout time.Duration
}

// Client wraps the Redis client with logging and common operations
type Client struct {
	rdb     *redis.Client
	logger  ectologger.Logger
	timeout time.Duration
}

// NewClient creates a new Redis client
func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Infof("Connected to Redis at %s", addr)

	return &Client{
		rdb:     rdb,
		logger:  logger,
		timeout: cfg.CommandTimeout,
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Redis returns the underlying Redis client for advanced operations
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// opContext bounds one command with the configured timeout, if any.
func (c *Client) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func observe(operation string, start time.Time) {
	metrics.RedisOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Ping checks if Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.opContext(ctx)
	defer cancel()
	defer observe("ping", time.Now())

	return c.rdb.Ping(ctx).Err()
}

// Expire sets an expiration on a key
func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) error {
	ctx, cancel := c.opContext(ctx)
	defer cancel()
	defer observe("expire", time.Now())

	return c.rdb.Expire(ctx, key, expiration).Err()
}

// SMIsMember reports membership for each of the given members in a set,
// in the same order they were passed.
func (c *Client) SMIsMember(ctx context.Context, key string, members ...interface{}) ([]bool, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()
	defer observe("smismember", time.Now())

	return c.rdb.SMIsMember(ctx, key, members...).Result()
}

// SIsMember reports whether a single member is in a set
func (c *Client) SIsMember(ctx context.Context, key string, member interface{}) (bool, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()
	defer observe("sismember", time.Now())

	return c.rdb.SIsMember(ctx, key, member).Result()
}

// SAdd adds members to a set
func (c *Client) SAdd(ctx context.Context, key string, members ...interface{}) error {
	ctx, cancel := c.opContext(ctx)
	defer cancel()
	defer observe("sadd", time.Now())

	return c.rdb.SAdd(ctx, key, members...).Err()
}

// DelPattern deletes every key matching the given glob pattern. It walks the
// keyspace with SCAN so it stays safe on large instances. The whole walk runs
// under one command timeout.
func (c *Client) DelPattern(ctx context.Context, pattern string) (int, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()
	defer observe("del_pattern", time.Now())

	deleted := 0
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()

	batch := make([]string, 0, 100)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
			return err
		}
		deleted += len(batch)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	if err := flush(); err != nil {
		return deleted, err
	}

	return deleted, nil
}
