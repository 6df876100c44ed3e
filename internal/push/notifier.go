package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/storage"
)

const (
	sendTimeout = 10 * time.Second
	messageTTL  = 30
)

// SubscriptionStore — где лежат подписки операторов (storage.StateStore).
type SubscriptionStore interface {
	ListPushSubscriptions(ctx context.Context) ([]storage.PushSubscription, error)
	RemovePushSubscription(ctx context.Context, endpoint string) error
}

type notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notifier шлёт операторам Web Push при эскалации чата.
// Без VAPID-ключей NotifyEscalation ничего не делает.
type Notifier struct {
	subs SubscriptionStore
	opts *webpush.Options
}

func NewNotifier(subs SubscriptionStore, keys *VAPIDKeys, subject string) *Notifier {
	n := &Notifier{subs: subs}
	if keys.Valid() {
		n.opts = &webpush.Options{
			Subscriber:      subject,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             messageTTL,
		}
	}
	return n
}

func (n *Notifier) Enabled() bool { return n != nil && n.opts != nil }

// NotifyEscalation рассылает уведомление всем подпискам. Подписки, на которые
// push-сервис ответил 404 или 410, удаляются.
func (n *Notifier) NotifyEscalation(ctx context.Context, chatID int64) {
	if !n.Enabled() {
		return
	}
	defer logger.DeferLogDuration("push.NotifyEscalation", time.Now())()

	subs, err := n.subs.ListPushSubscriptions(ctx)
	if err != nil {
		logger.Errorf("push: list subscriptions: %v", err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload, err := json.Marshal(notification{
		Title: "Student needs an advisor",
		Body:  fmt.Sprintf("Chat #%d was handed over to a human", chatID),
		Data:  map[string]string{"chat_id": strconv.FormatInt(chatID, 10)},
	})
	if err != nil {
		logger.Errorf("push: encode: %v", err)
		return
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub storage.PushSubscription) {
			defer wg.Done()
			n.send(ctx, payload, sub)
		}(sub)
	}
	wg.Wait()
}

func (n *Notifier) send(ctx context.Context, payload []byte, sub storage.PushSubscription) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}, n.opts)
	if err != nil {
		logger.Errorf("push: send %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		if err := n.subs.RemovePushSubscription(ctx, sub.Endpoint); err != nil {
			logger.Errorf("push: remove stale subscription: %v", err)
		}
	case resp.StatusCode >= 400:
		logger.Errorf("push: send %s: status %d", sub.Endpoint, resp.StatusCode)
	}
}
