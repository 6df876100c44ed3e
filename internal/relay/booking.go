package relay

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/model"
)

// BookingCoordinator выдаёт слоты консультаций. Атомарность захвата обеспечивает хранилище.
type BookingCoordinator struct {
	store   SlotStore
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewBookingCoordinator(store SlotStore, timeout time.Duration, m *metrics.Metrics) *BookingCoordinator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BookingCoordinator{store: store, timeout: timeout, metrics: m}
}

// Claim закрепляет слот за чатом. Из параллельных попыток на один слот успешна ровно одна;
// занятый, удалённый или несуществующий слот даёт false без ошибки.
func (b *BookingCoordinator) Claim(ctx context.Context, slotID, chatID int64) (bool, error) {
	defer logger.DeferLogDuration("booking.Claim", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	ok, err := b.store.ClaimSlot(ctx, slotID, chatID)
	if err != nil {
		return false, fmt.Errorf("%w: claim slot %d chat=%d: %w", ErrStorage, slotID, chatID, err)
	}
	b.metrics.BookingClaim(ok)
	return ok, nil
}

// ListAvailable — свободные слоты по дате, затем по времени.
func (b *BookingCoordinator) ListAvailable(ctx context.Context) ([]model.BookingSlot, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	slots, err := b.store.ListAvailableSlots(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list slots: %w", ErrStorage, err)
	}
	slots = slices.DeleteFunc(slots, model.BookingSlot.Claimed)
	slices.SortStableFunc(slots, func(a, c model.BookingSlot) int {
		if d := a.Date.Compare(c.Date); d != 0 {
			return d
		}
		return cmp.Compare(model.NormalizeSlotTime(a.Time), model.NormalizeSlotTime(c.Time))
	})
	return slots, nil
}
