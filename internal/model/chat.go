package model

import "time"

// Chat — диалог одного студента. IsHumanEnabled хранит состояние передачи оператору.
type Chat struct {
	ID             int64     `json:"id"`
	IsHumanEnabled bool      `json:"is_human_enabled"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChatWithHistory — ответ GET /api/chats/{id}.
type ChatWithHistory struct {
	Chat
	History []Message `json:"history"`
}
