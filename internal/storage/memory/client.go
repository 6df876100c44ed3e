package memory

import (
	"context"
	"sync"
	"time"

	"github.com/chatrelay/internal/storage"
)

// Client — StateStore в памяти процесса. Состояние теряется при перезапуске.
type Client struct {
	mu    sync.RWMutex
	model string
	limit storage.RateLimit
	hits  map[string][]time.Time
	subs  []storage.PushSubscription
	nowFn func() time.Time
}

func New(limit storage.RateLimit) *Client {
	return &Client{
		limit: limit.OrDefault(),
		hits:  make(map[string][]time.Time),
		nowFn: time.Now,
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) GetActiveModel(ctx context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model, nil
}

func (c *Client) SetActiveModel(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = name
	return nil
}

// CheckRateLimit — скользящее окно по меткам времени.
func (c *Client) CheckRateLimit(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFn()
	cut := now.Add(-c.limit.Window)
	var kept []time.Time
	for _, t := range c.hits[key] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= c.limit.Max {
		c.hits[key] = kept
		return false, nil
	}
	c.hits[key] = append(kept, now)
	return true, nil
}

func (c *Client) AddPushSubscription(ctx context.Context, sub storage.PushSubscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = removeEndpoint(c.subs, sub.Endpoint)
	c.subs = append(c.subs, sub)
	if len(c.subs) > storage.MaxPushSubscriptions {
		c.subs = c.subs[len(c.subs)-storage.MaxPushSubscriptions:]
	}
	return nil
}

func (c *Client) RemovePushSubscription(ctx context.Context, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = removeEndpoint(c.subs, endpoint)
	return nil
}

func (c *Client) ListPushSubscriptions(ctx context.Context) ([]storage.PushSubscription, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]storage.PushSubscription(nil), c.subs...), nil
}

func removeEndpoint(subs []storage.PushSubscription, endpoint string) []storage.PushSubscription {
	out := subs[:0]
	for _, s := range subs {
		if s.Endpoint != endpoint {
			out = append(out, s)
		}
	}
	return out
}
