package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MaxMessageLen = 2000

var (
	ErrMessageEmpty   = errors.New("message content empty")
	ErrMessageTooLong = errors.New("message content too long")
)

// Message is immutable once created. Ordering is by CreatedAt with ties
// broken by ID so pagination stays deterministic.
type Message struct {
	ID        string    `json:"id"`
	RoomID    RoomID    `json:"room_id"`
	SenderID  UserID    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage trims and length-validates content before stamping identity.
func NewMessage(roomID RoomID, senderID UserID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrMessageEmpty
	}
	if utf8.RuneCountInString(content) > MaxMessageLen {
		return nil, ErrMessageTooLong
	}
	return &Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}, nil
}
