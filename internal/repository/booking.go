package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

type BookingRepository struct {
	db DB
}

func NewBookingRepository(db DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// ListAvailableSlots — свободные, не удалённые и не прошедшие слоты по дате и времени.
func (r *BookingRepository) ListAvailableSlots(ctx context.Context) ([]model.BookingSlot, error) {
	defer logger.DeferLogDuration("booking.ListAvailableSlots", time.Now())()
	rows, err := r.db.Query(ctx,
		`SELECT id, date, time
		 FROM bookings
		 WHERE chat_id IS NULL AND deleted_at IS NULL
		   AND (date > CURRENT_DATE OR (date = CURRENT_DATE AND time > to_char(LOCALTIMESTAMP, 'HH24MI')))
		 ORDER BY date ASC, time ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("bookingRepo.ListAvailableSlots: %w", err)
	}
	defer rows.Close()

	slots := make([]model.BookingSlot, 0)
	for rows.Next() {
		var s model.BookingSlot
		if err := rows.Scan(&s.ID, &s.Date, &s.Time); err != nil {
			return nil, fmt.Errorf("bookingRepo.ListAvailableSlots scan: %w", err)
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookingRepo.ListAvailableSlots: %w", err)
	}
	return slots, nil
}

// ClaimSlot закрепляет слот за чатом одним условным UPDATE.
// false без ошибки, если слот уже занят, удалён или не существует.
func (r *BookingRepository) ClaimSlot(ctx context.Context, slotID, chatID int64) (bool, error) {
	defer logger.DeferLogDuration("booking.ClaimSlot", time.Now())()
	tag, err := r.db.Exec(ctx,
		`UPDATE bookings SET chat_id = $1
		 WHERE id = $2 AND chat_id IS NULL AND deleted_at IS NULL`,
		chatID, slotID,
	)
	if err != nil {
		return false, fmt.Errorf("bookingRepo.ClaimSlot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
