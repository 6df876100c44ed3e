package devstore

import (
	"context"
	"errors"

	"github.com/chatrelay/internal/repository"
	"github.com/chatrelay/internal/storage"
	"github.com/chatrelay/internal/storage/memory"
)

const settingActiveModel = "active_model"

// Client реализует StateStore для режима -dev: rate limit и push-подписки в памяти,
// выбранная модель в relay_settings и переживает перезапуск.
type Client struct {
	mem  *memory.Client
	repo *repository.SettingsRepository
}

func New(repo *repository.SettingsRepository, limit storage.RateLimit) *Client {
	return &Client{mem: memory.New(limit), repo: repo}
}

func (c *Client) Close() error { return c.mem.Close() }

func (c *Client) GetActiveModel(ctx context.Context) (string, error) {
	v, err := c.repo.Get(ctx, settingActiveModel)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (c *Client) SetActiveModel(ctx context.Context, name string) error {
	return c.repo.Set(ctx, settingActiveModel, name)
}

func (c *Client) CheckRateLimit(ctx context.Context, key string) (bool, error) {
	return c.mem.CheckRateLimit(ctx, key)
}

func (c *Client) AddPushSubscription(ctx context.Context, sub storage.PushSubscription) error {
	return c.mem.AddPushSubscription(ctx, sub)
}
func (c *Client) RemovePushSubscription(ctx context.Context, endpoint string) error {
	return c.mem.RemovePushSubscription(ctx, endpoint)
}
func (c *Client) ListPushSubscriptions(ctx context.Context) ([]storage.PushSubscription, error) {
	return c.mem.ListPushSubscriptions(ctx)
}
