package startup

import (
	"context"
	"time"

	"github.com/chatrelay/internal/storage"
	redisstorage "github.com/chatrelay/internal/storage/redis"
)

// ConnectRedis подключается к Redis с повторами.
func ConnectRedis(ctx context.Context, redisURL string, limit storage.RateLimit, maxWait time.Duration) (*redisstorage.Client, error) {
	var client *redisstorage.Client
	err := retry(ctx, "redis", maxWait, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c, err := redisstorage.New(cctx, redisURL, limit)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	return client, err
}
