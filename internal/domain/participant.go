package domain

import "time"

type UserID string

// ConnectionID identifies one live transport connection. A participant keeps
// its seat across connections; only the handle changes.
type ConnectionID string

// Participant is a user's membership in one room. Exactly one record exists
// per (room, user) pair; rejoin mutates it instead of duplicating it.
type Participant struct {
	ID             string       `json:"id"`
	RoomID         RoomID       `json:"room_id"`
	UserID         UserID       `json:"user_id"`
	Role           Role         `json:"role"`
	MicEnabled     bool         `json:"mic_enabled"`
	IsConnected    bool         `json:"is_connected"`
	ConnectionID   ConnectionID `json:"connection_id,omitempty"`
	JoinedAt       time.Time    `json:"joined_at"`
	DisconnectedAt *time.Time   `json:"disconnected_at,omitempty"`
}
