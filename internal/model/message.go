package model

import "time"

// Role — автор сообщения в истории чата.
type Role string

const (
	RoleStudent  Role = "student"
	RoleAI       Role = "ai"
	RoleOperator Role = "operator"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleAI, RoleOperator:
		return true
	}
	return false
}

type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
