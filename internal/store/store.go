// Package store defines the persistence contracts for rooms, participants
// and messages. The coordinator depends only on these interfaces; the
// sqlite subpackage is the durable implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/soapboxhq/soapbox/internal/domain"
)

var ErrNotFound = errors.New("record not found")

const (
	// DefaultPageSize applies when a message page request carries no limit.
	DefaultPageSize = 50
	// MaxPageSize caps one message page.
	MaxPageSize = 100
	// MaxResyncMessages caps the ascending since-timestamp query used by
	// reconnect resync.
	MaxResyncMessages = 200
)

// RoomWithCount pairs a room with its live connected-participant count for
// the lobby listing.
type RoomWithCount struct {
	Room             domain.Room `json:"room"`
	ParticipantCount int         `json:"participant_count"`
}

type RoomStore interface {
	CreateRoom(ctx context.Context, room domain.Room) error
	// GetRoom returns ErrNotFound for unknown ids; inactive rooms are
	// still returned so callers can distinguish ended from missing.
	GetRoom(ctx context.Context, id domain.RoomID) (domain.Room, error)
	// SetRoomInactive flips is_active to false. The flag is monotonic;
	// there is no way back.
	SetRoomInactive(ctx context.Context, id domain.RoomID) error
	ListActiveRooms(ctx context.Context) ([]RoomWithCount, error)
}

type ParticipantStore interface {
	CreateParticipant(ctx context.Context, p domain.Participant) error
	GetParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.Participant, error)
	// MarkConnected restores the connection flag, clears the disconnected
	// timestamp and re-associates the transport handle.
	MarkConnected(ctx context.Context, roomID domain.RoomID, userID domain.UserID, conn domain.ConnectionID) error
	// MarkDisconnected clears the connection flag and stamps the
	// disconnect time. When conn is non-empty the update only applies if
	// the participant still holds that handle, so a stale drop never
	// clobbers a newer connection.
	MarkDisconnected(ctx context.Context, roomID domain.RoomID, userID domain.UserID, conn domain.ConnectionID, at time.Time) error
	UpdateRole(ctx context.Context, roomID domain.RoomID, userID domain.UserID, role domain.Role, micEnabled bool) error
	DeleteParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	ListConnected(ctx context.Context, roomID domain.RoomID) ([]domain.Participant, error)
	CountConnected(ctx context.Context, roomID domain.RoomID) (int, error)
	// DisconnectAll marks every participant of a room disconnected.
	DisconnectAll(ctx context.Context, roomID domain.RoomID, at time.Time) error
	// ParticipantsForConnection lists the connected participant rows bound
	// to one transport handle, used by the disconnect sweep.
	ParticipantsForConnection(ctx context.Context, conn domain.ConnectionID) ([]domain.Participant, error)
}

// MessagePage is one descending page plus the cursor for the next one.
// NextCursor is nil on the last page.
type MessagePage struct {
	Messages   []domain.Message `json:"messages"`
	NextCursor *Cursor          `json:"next_cursor,omitempty"`
}

type MessageStore interface {
	CreateMessage(ctx context.Context, msg domain.Message) error
	// ListMessages pages backwards in time: newest first, ties broken by
	// id. A nil cursor means "from the latest".
	ListMessages(ctx context.Context, roomID domain.RoomID, cursor *Cursor, limit int) (MessagePage, error)
	// ListMessagesSince returns messages created strictly after since, in
	// ascending order, capped at MaxResyncMessages.
	ListMessagesSince(ctx context.Context, roomID domain.RoomID, since time.Time) ([]domain.Message, error)
}

// Store is the full persistence surface the coordinator consumes.
type Store interface {
	RoomStore
	ParticipantStore
	MessageStore

	Ping(ctx context.Context) error
	Close() error
}
