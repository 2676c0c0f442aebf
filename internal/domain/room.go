package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MaxTitleLen = 120

var (
	ErrTitleEmpty   = errors.New("room title empty")
	ErrTitleTooLong = errors.New("room title too long")
)

type RoomID string

// RoomType controls lobby visibility, not access.
type RoomType string

const (
	RoomPublic  RoomType = "public"
	RoomPrivate RoomType = "private"
)

func (t RoomType) Valid() bool {
	return t == RoomPublic || t == RoomPrivate
}

// Room is a bounded session container. IsActive is monotonic: once a room
// is ended it never comes back.
type Room struct {
	ID              RoomID    `json:"id"`
	Title           string    `json:"title"`
	HostID          UserID    `json:"host_id"`
	Type            RoomType  `json:"type"`
	IsActive        bool      `json:"is_active"`
	MaxParticipants int       `json:"max_participants"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewRoom validates the title and builds an active room owned by hostID.
func NewRoom(hostID UserID, title string, roomType RoomType, capacity int) (*Room, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrTitleEmpty
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return nil, ErrTitleTooLong
	}
	if !roomType.Valid() {
		roomType = RoomPublic
	}
	return &Room{
		ID:              RoomID(uuid.NewString()),
		Title:           title,
		HostID:          hostID,
		Type:            roomType,
		IsActive:        true,
		MaxParticipants: capacity,
		CreatedAt:       time.Now().UTC(),
	}, nil
}
