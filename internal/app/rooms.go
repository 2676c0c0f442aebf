package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/soapboxhq/soapbox/internal/authz"
	"github.com/soapboxhq/soapbox/internal/bus"
	"github.com/soapboxhq/soapbox/internal/capability"
	"github.com/soapboxhq/soapbox/internal/domain"
	"github.com/soapboxhq/soapbox/internal/grace"
	"github.com/soapboxhq/soapbox/internal/store"
)

// CreateRoomResult is handed back to the creator: the new room, their host
// seat and the capability for it.
type CreateRoomResult struct {
	Room        domain.Room        `json:"room"`
	Participant domain.Participant `json:"participant"`
	Capability  string             `json:"capability"`
}

// JoinRoomResult is the full snapshot a joining client needs to render the
// room without further round trips. Messages are the most recent page in
// chronological order.
type JoinRoomResult struct {
	Room         domain.Room          `json:"room"`
	Participant  domain.Participant   `json:"participant"`
	Participants []domain.Participant `json:"participants"`
	Messages     []domain.Message     `json:"messages"`
	Capability   string               `json:"capability"`
}

// CreateRoom opens a room with the creator seated as its connected host.
func (c *Coordinator) CreateRoom(ctx context.Context, actorID domain.UserID, connID domain.ConnectionID, title string, roomType domain.RoomType) (*CreateRoomResult, error) {
	room, err := domain.NewRoom(actorID, title, roomType, c.capacity)
	if err != nil {
		return nil, validation(err.Error())
	}

	if err := c.store.CreateRoom(ctx, *room); err != nil {
		return nil, c.upstream("create room", err)
	}

	host := domain.Participant{
		ID:           uuid.NewString(),
		RoomID:       room.ID,
		UserID:       actorID,
		Role:         domain.RoleHost,
		MicEnabled:   true,
		IsConnected:  true,
		ConnectionID: connID,
		JoinedAt:     time.Now().UTC(),
	}
	if err := c.store.CreateParticipant(ctx, host); err != nil {
		return nil, c.upstream("create host participant", err)
	}

	token, err := c.issuer.Issue(ctx, actorID, room.ID, capability.GrantsForRole(domain.RoleHost))
	if err != nil {
		return nil, c.upstream("issue capability", err)
	}

	log.Info().Str("module", "app").Str("room_id", string(room.ID)).Str("host_id", string(actorID)).Msg("room created")

	if room.Type == domain.RoomPublic {
		c.publish(ctx, bus.Intent{
			Audience: bus.Lobby(),
			Event:    bus.EventRoomCreated,
			Payload:  roomCreatedPayload{Room: *room, ParticipantCount: 1},
		})
	}

	return &CreateRoomResult{Room: *room, Participant: host, Capability: token}, nil
}

// JoinRoom seats a user in an active room, or reconnects an existing seat.
// Joining while already connected converges without a duplicate broadcast.
func (c *Coordinator) JoinRoom(ctx context.Context, userID domain.UserID, roomID domain.RoomID, connID domain.ConnectionID) (*JoinRoomResult, error) {
	unlock := c.lockRoom(roomID)
	defer unlock()

	room, err := c.activeRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	// A pending grace timer means this user dropped recently; joining again
	// settles the question.
	c.grace.Cancel(grace.Key{UserID: userID, RoomID: roomID})

	var participant domain.Participant
	wasConnected := false

	existing, err := c.store.GetParticipant(ctx, roomID, userID)
	switch {
	case err == nil:
		wasConnected = existing.IsConnected
		if err := c.store.MarkConnected(ctx, roomID, userID, connID); err != nil {
			return nil, c.upstream("mark connected", err)
		}
		participant = existing
		participant.IsConnected = true
		participant.ConnectionID = connID
		participant.DisconnectedAt = nil

	case err == store.ErrNotFound:
		count, err := c.store.CountConnected(ctx, roomID)
		if err != nil {
			return nil, c.upstream("count connected", err)
		}
		if count >= room.MaxParticipants {
			return nil, conflict("room is full")
		}
		participant = domain.Participant{
			ID:           uuid.NewString(),
			RoomID:       roomID,
			UserID:       userID,
			Role:         domain.RoleListener,
			IsConnected:  true,
			ConnectionID: connID,
			JoinedAt:     time.Now().UTC(),
		}
		if err := c.store.CreateParticipant(ctx, participant); err != nil {
			return nil, c.upstream("create participant", err)
		}

	default:
		return nil, c.upstream("get participant", err)
	}

	participants, err := c.store.ListConnected(ctx, roomID)
	if err != nil {
		return nil, c.upstream("list connected", err)
	}
	page, err := c.store.ListMessages(ctx, roomID, nil, store.DefaultPageSize)
	if err != nil {
		return nil, c.upstream("list messages", err)
	}
	messages := reverseMessages(page.Messages)

	token, err := c.issuer.Issue(ctx, userID, roomID, capability.GrantsForRole(participant.Role))
	if err != nil {
		return nil, c.upstream("issue capability", err)
	}

	if !wasConnected {
		intents := []bus.Intent{{
			Audience: bus.RoomExcept(roomID, userID),
			Event:    bus.EventParticipantJoined,
			Payload:  participantPayload{Participant: participant},
		}}
		if update, ok := c.lobbyRoomUpdated(ctx, room); ok {
			intents = append(intents, update)
		}
		c.publish(ctx, intents...)
	}

	return &JoinRoomResult{
		Room:         room,
		Participant:  participant,
		Participants: participants,
		Messages:     messages,
		Capability:   token,
	}, nil
}

// LeaveRoom releases a seat immediately, with no grace period. The
// participant record survives so a later rejoin keeps the earned role.
func (c *Coordinator) LeaveRoom(ctx context.Context, userID domain.UserID, roomID domain.RoomID) error {
	unlock := c.lockRoom(roomID)
	defer unlock()

	if err := c.store.MarkDisconnected(ctx, roomID, userID, "", time.Now().UTC()); err != nil {
		if err == store.ErrNotFound {
			return notFound("you are not a participant of this room")
		}
		return c.upstream("mark disconnected", err)
	}
	c.grace.Cancel(grace.Key{UserID: userID, RoomID: roomID})

	intents := []bus.Intent{{
		Audience: bus.Room(roomID),
		Event:    bus.EventParticipantLeft,
		Payload:  participantLeftPayload{UserID: userID},
	}}
	if room, err := c.store.GetRoom(ctx, roomID); err == nil {
		if update, ok := c.lobbyRoomUpdated(ctx, room); ok {
			intents = append(intents, update)
		}
	}
	c.publish(ctx, intents...)
	return nil
}

// EndRoom terminates a room for everyone. Host only. The room group is
// evicted after the terminal events are published so room_ended still
// reaches its audience.
func (c *Coordinator) EndRoom(ctx context.Context, actorID domain.UserID, roomID domain.RoomID) error {
	unlock := c.lockRoom(roomID)
	defer unlock()

	room, err := c.store.GetRoom(ctx, roomID)
	if err != nil {
		if err == store.ErrNotFound {
			return notFound("room not found")
		}
		return c.upstream("get room", err)
	}
	if !room.IsActive {
		return conflict("room already ended")
	}

	actor, err := c.connectedActor(ctx, roomID, actorID)
	if err != nil {
		return err
	}
	if d := authz.Authorize(authz.Request{Action: authz.ActionEndRoom, ActorRole: actor.Role}); !d.Allowed {
		return unauthorized(d.Reason, "only the host can end the room")
	}

	if err := c.terminateRoom(ctx, room); err != nil {
		return c.upstream("end room", err)
	}
	return nil
}

// terminateRoom is the shared room-ending tail: flip the flag, disconnect
// everyone, announce, evict the broadcast group. Callers hold the room lock.
// Eviction comes after the terminal events so room_ended still reaches its
// audience.
func (c *Coordinator) terminateRoom(ctx context.Context, room domain.Room) error {
	if err := c.store.SetRoomInactive(ctx, room.ID); err != nil {
		return fmt.Errorf("set room inactive: %w", err)
	}
	if err := c.store.DisconnectAll(ctx, room.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("disconnect all: %w", err)
	}

	log.Info().Str("module", "app").Str("room_id", string(room.ID)).Msg("room ended")

	intents := []bus.Intent{
		{Audience: bus.Room(room.ID), Event: bus.EventRoomEnded, Payload: roomRefPayload{RoomID: room.ID}},
	}
	if room.Type == domain.RoomPublic {
		intents = append(intents, bus.Intent{
			Audience: bus.Lobby(),
			Event:    bus.EventRoomRemoved,
			Payload:  roomRefPayload{RoomID: room.ID},
		})
	}
	c.publish(ctx, intents...)
	c.bus.Evict(ctx, room.ID)
	return nil
}

func reverseMessages(in []domain.Message) []domain.Message {
	out := make([]domain.Message, len(in))
	for i, msg := range in {
		out[len(in)-1-i] = msg
	}
	return out
}
