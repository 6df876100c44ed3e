package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chatrelay/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	keyActiveModel = "relay:model"
	keyRatePrefix  = "relay:rate:"
	keyPushSubs    = "relay:push:subs"
	pushSubsTTL    = 30 * 24 * time.Hour
)

type Client struct {
	cli   *redis.Client
	limit storage.RateLimit
}

func New(ctx context.Context, url string, limit storage.RateLimit) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli, limit: limit.OrDefault()}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) GetActiveModel(ctx context.Context) (string, error) {
	val, err := c.cli.Get(ctx, keyActiveModel).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (c *Client) SetActiveModel(ctx context.Context, name string) error {
	return c.cli.Set(ctx, keyActiveModel, name, 0).Err()
}

// CheckRateLimit — фиксированное окно: INCR relay:rate:{key}, TTL ставится на первом запросе.
func (c *Client) CheckRateLimit(ctx context.Context, key string) (bool, error) {
	k := keyRatePrefix + key
	n, err := c.cli.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		c.cli.Expire(ctx, k, c.limit.Window)
	}
	return n <= int64(c.limit.Max), nil
}

// AddPushSubscription добавляет подписку в конец списка; хранятся последние MaxPushSubscriptions.
func (c *Client) AddPushSubscription(ctx context.Context, sub storage.PushSubscription) error {
	if err := c.RemovePushSubscription(ctx, sub.Endpoint); err != nil {
		return err
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	pipe := c.cli.TxPipeline()
	pipe.RPush(ctx, keyPushSubs, raw)
	pipe.LTrim(ctx, keyPushSubs, -storage.MaxPushSubscriptions, -1)
	pipe.Expire(ctx, keyPushSubs, pushSubsTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *Client) RemovePushSubscription(ctx context.Context, endpoint string) error {
	items, err := c.cli.LRange(ctx, keyPushSubs, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, raw := range items {
		var s storage.PushSubscription
		if json.Unmarshal([]byte(raw), &s) != nil || s.Endpoint == endpoint {
			if err := c.cli.LRem(ctx, keyPushSubs, 0, raw).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Client) ListPushSubscriptions(ctx context.Context) ([]storage.PushSubscription, error) {
	items, err := c.cli.LRange(ctx, keyPushSubs, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	subs := make([]storage.PushSubscription, 0, len(items))
	for _, raw := range items {
		var s storage.PushSubscription
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			continue
		}
		subs = append(subs, s)
	}
	return subs, nil
}

// FlushDB очищает текущую БД Redis.
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
