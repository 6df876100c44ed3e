package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/chatrelay/internal/logger"
)

const maxBackoff = 30 * time.Second

// retry повторяет attempt с экспоненциальной паузой, пока не истечёт maxWait или ctx.
// what попадает в сообщения лога ("db", "redis").
func retry(ctx context.Context, what string, maxWait time.Duration, attempt func(ctx context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if time.Now().Add(backoff).After(deadline) {
			return fmt.Errorf("%s: gave up after %v: %w", what, maxWait, err)
		}
		logger.Errorf("%s connect failed, retry in %v: %v", what, backoff, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w (last error: %v)", what, ctx.Err(), err)
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
