package model

import (
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// BookingSlot — слот консультации. Time хранится как "HHMM".
type BookingSlot struct {
	ID              int64     `json:"id"`
	Date            time.Time `json:"-"`
	Time            string    `json:"time"`
	ClaimedByChatID *int64    `json:"chat_id,omitempty"`
}

// DateString возвращает дату слота в формате YYYY-MM-DD.
func (s BookingSlot) DateString() string {
	return s.Date.Format(DateLayout)
}

// Clock возвращает время слота как "HH:MM".
func (s BookingSlot) Clock() string {
	t := NormalizeSlotTime(s.Time)
	if len(t) != 4 {
		return s.Time
	}
	return t[:2] + ":" + t[2:]
}

func (s BookingSlot) Claimed() bool { return s.ClaimedByChatID != nil }

// NormalizeSlotTime приводит "9:00", "09:00", "900" к виду "0900".
func NormalizeSlotTime(t string) string {
	t = strings.ReplaceAll(strings.TrimSpace(t), ":", "")
	for len(t) < 4 {
		t = "0" + t
	}
	return t
}

// SlotView — JSON-представление слота для REST и инструментов генератора.
type SlotView struct {
	ID   int64  `json:"id"`
	Date string `json:"date"`
	Time string `json:"time"`
}

func (s BookingSlot) View() SlotView {
	return SlotView{ID: s.ID, Date: s.DateString(), Time: s.Clock()}
}
