// Package bus delivers room-scoped and lobby-scoped events to attached
// connections, optionally replicated across server processes through Redis
// pub/sub. State transitions produce broadcast intents; the bus is the only
// component that knows where connections live.
package bus

import (
	"context"

	"github.com/soapboxhq/soapbox/internal/domain"
)

// Outbound event names.
const (
	EventRoomCreated             = "room_created"
	EventRoomUpdated             = "room_updated"
	EventRoomRemoved             = "room_removed"
	EventRoomEnded               = "room_ended"
	EventParticipantJoined       = "participant_joined"
	EventParticipantLeft         = "participant_left"
	EventParticipantUpdated      = "participant_updated"
	EventParticipantDisconnected = "participant_disconnected"
	EventParticipantReconnected  = "participant_reconnected"
	EventMicRequested            = "mic_requested"
	EventMicGranted              = "mic_granted"
	EventMicRevoked              = "mic_revoked"
	EventRoleChanged             = "role_changed"
	EventRemovedFromRoom         = "removed_from_room"
	EventReceiveMessage          = "receive_message"
)

type audienceKind string

const (
	kindRoom  audienceKind = "room"
	kindLobby audienceKind = "lobby"
	kindUser  audienceKind = "user"
)

// Audience selects who receives an event: one room group, the global lobby,
// or a single user within a room group.
type Audience struct {
	Kind   audienceKind  `json:"kind"`
	RoomID domain.RoomID `json:"room_id,omitempty"`
	UserID domain.UserID `json:"user_id,omitempty"`
	// Except suppresses delivery to one user of a room audience, used so
	// an actor does not echo its own join back to itself.
	Except domain.UserID `json:"except,omitempty"`
}

// Room addresses every connection in a room group.
func Room(roomID domain.RoomID) Audience {
	return Audience{Kind: kindRoom, RoomID: roomID}
}

// RoomExcept addresses a room group minus one user.
func RoomExcept(roomID domain.RoomID, except domain.UserID) Audience {
	return Audience{Kind: kindRoom, RoomID: roomID, Except: except}
}

// Lobby addresses every attached connection.
func Lobby() Audience {
	return Audience{Kind: kindLobby}
}

// User addresses a single user inside a room group.
func User(roomID domain.RoomID, userID domain.UserID) Audience {
	return Audience{Kind: kindUser, RoomID: roomID, UserID: userID}
}

// Intent is one (audience, event, payload) tuple produced by a state
// transition and delivered by the bus.
type Intent struct {
	Audience Audience `json:"audience"`
	Event    string   `json:"event"`
	Payload  any      `json:"payload"`
}

// Sink is one attached connection.
type Sink interface {
	UserID() domain.UserID
	Deliver(event string, payload any)
}

// Bus manages group membership and event fan-out. Publish is fire-and-
// forget: delivery failures never propagate to the triggering operation.
type Bus interface {
	Attach(s Sink)
	Detach(s Sink)
	JoinRoom(s Sink, roomID domain.RoomID)
	LeaveRoom(s Sink, roomID domain.RoomID)

	Publish(ctx context.Context, intents ...Intent)
	// Evict empties a room's broadcast group on every process.
	Evict(ctx context.Context, roomID domain.RoomID)
	// Expel drops one user's connections from a room group on every
	// process, so a removed user stops receiving room events immediately.
	Expel(ctx context.Context, roomID domain.RoomID, userID domain.UserID)

	Close() error
}
