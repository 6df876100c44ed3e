package storage

import (
	"context"
	"time"
)

// StateStore — служебное состояние relay вне Postgres: выбранная модель,
// rate limit сообщений студентов и push-подписки операторов.
// Реализации: redis.Client, memory.Client, devstore.Client (-dev без Redis).
type StateStore interface {
	GetActiveModel(ctx context.Context) (string, error) // "" если модель не выбиралась
	SetActiveModel(ctx context.Context, name string) error
	CheckRateLimit(ctx context.Context, key string) (allowed bool, err error)
	AddPushSubscription(ctx context.Context, sub PushSubscription) error
	RemovePushSubscription(ctx context.Context, endpoint string) error
	ListPushSubscriptions(ctx context.Context) ([]PushSubscription, error)
	Close() error
}

// RateLimit — не больше Max событий за Window на ключ.
type RateLimit struct {
	Max    int
	Window time.Duration
}

// DefaultRateLimit — 20 сообщений в минуту.
var DefaultRateLimit = RateLimit{Max: 20, Window: time.Minute}

func (l RateLimit) OrDefault() RateLimit {
	if l.Max <= 0 || l.Window <= 0 {
		return DefaultRateLimit
	}
	return l
}

// MaxPushSubscriptions — сколько последних подписок операторов хранится.
const MaxPushSubscriptions = 50

type PushKeys struct {
	P256dh string `json:"p256dh" validate:"required"`
	Auth   string `json:"auth" validate:"required"`
}

type PushSubscription struct {
	Endpoint string   `json:"endpoint" validate:"required,url"`
	Keys     PushKeys `json:"keys" validate:"required"`
}
