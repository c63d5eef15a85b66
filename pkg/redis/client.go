package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/musicx/musicx-backend/pkg/config"
	"github.com/musicx/musicx-backend/pkg/logger"
)

// Nil is returned by Get when the key does not exist.
var Nil = redis.Nil

var errNotConnected = errors.New("redis: client not connected")

const namespace = "mx"

// releaseIfOwner deletes KEYS[1] only while it still holds ARGV[1].
const releaseIfOwner = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// commands is the slice of go-redis used here; tests swap in a map-backed fake.
type commands interface {
	Ping(context.Context) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
	Eval(context.Context, string, []string, ...any) *redis.Cmd
}

// IdempotencyStore is what the HTTP idempotency middleware and the notify
// dedupe guard need.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	Set(context.Context, string, any, time.Duration) error
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Del(context.Context, ...string) error
	IdempotencyKey(scope, id string) string
}

// Client is a thin wrapper over go-redis with namespaced key helpers.
type Client struct {
	cmds   commands
	closer io.Closer
}

// New dials Redis and fails fast when the server does not answer PING.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"addr": opts.Addr, "db": opts.DB}), "redis.connected")
	}
	return &Client{cmds: rdb, closer: rdb}, nil
}

// optionsFromConfig prefers the URL form; explicit config only fills what the
// URL left unset.
func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	opts := &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		opts = parsed
	case cfg.Address == "":
		return nil, errors.New("redis: url or address is required")
	}

	orInt(&opts.DB, cfg.DB)
	orInt(&opts.PoolSize, cfg.PoolSize)
	orInt(&opts.MinIdleConns, cfg.MinIdleConns)
	orDuration(&opts.DialTimeout, cfg.DialTimeout)
	orDuration(&opts.ReadTimeout, cfg.ReadTimeout)
	orDuration(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func orInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func orDuration(dst *time.Duration, v time.Duration) {
	if *dst == 0 {
		*dst = v
	}
}

func (c *Client) Ping(ctx context.Context) error {
	if c.cmds == nil {
		return errNotConnected
	}
	return c.cmds.Ping(ctx).Err()
}

// Get returns Nil for a missing key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.cmds == nil {
		return "", errNotConnected
	}
	return c.cmds.Get(ctx, key).Result()
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.cmds == nil {
		return errNotConnected
	}
	return c.cmds.Set(ctx, key, value, ttl).Err()
}

// SetNX reports whether this call created the key.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.cmds == nil {
		return false, errNotConnected
	}
	return c.cmds.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.cmds == nil {
		return errNotConnected
	}
	return c.cmds.Del(ctx, keys...).Err()
}

// CompareAndDelete removes key only while it still holds value. Lock owners
// use it so an expired lock taken over by another worker is left alone.
func (c *Client) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	if c.cmds == nil {
		return false, errNotConnected
	}
	n, err := c.cmds.Eval(ctx, releaseIfOwner, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("redis compare-and-delete %s: %w", key, err)
	}
	return n == 1, nil
}

func (c *Client) IdempotencyKey(scope, id string) string {
	return joinKey("idempotency", scope, id)
}

func (c *Client) LockKey(name string) string {
	return joinKey("lock", name)
}

// Close is a no-op for a client that never connected.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func joinKey(kind string, parts ...string) string {
	var b strings.Builder
	b.WriteString(namespace)
	b.WriteByte(':')
	b.WriteString(kind)
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			b.WriteByte(':')
			b.WriteString(p)
		}
	}
	return b.String()
}
