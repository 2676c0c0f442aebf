package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soapboxhq/soapbox/internal/bus"
	"github.com/soapboxhq/soapbox/internal/capability"
	"github.com/soapboxhq/soapbox/internal/domain"
	"github.com/soapboxhq/soapbox/internal/grace"
	"github.com/soapboxhq/soapbox/internal/store"
)

// RestoreResult is the reconnect snapshot: current room state plus the
// messages the client missed while away.
type RestoreResult struct {
	Room           domain.Room          `json:"room"`
	Participant    domain.Participant   `json:"participant"`
	Participants   []domain.Participant `json:"participants"`
	MissedMessages []domain.Message     `json:"missed_messages,omitempty"`
	Capability     string               `json:"capability"`
}

// HandleConnectionDrop runs the disconnect sweep for one dead transport
// handle. Every seat still bound to it enters the grace window.
func (c *Coordinator) HandleConnectionDrop(ctx context.Context, connID domain.ConnectionID) {
	participants, err := c.store.ParticipantsForConnection(ctx, connID)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Str("connection_id", string(connID)).Msg("disconnect sweep lookup")
		return
	}
	for _, p := range participants {
		c.MarkDisconnected(ctx, p.UserID, p.RoomID, connID)
	}
}

// MarkDisconnected flags a seat as dropped and arms its grace timer. The
// connection id guards against a stale drop racing a fresh reconnect: if the
// seat already moved to a new handle the update does not apply.
func (c *Coordinator) MarkDisconnected(ctx context.Context, userID domain.UserID, roomID domain.RoomID, connID domain.ConnectionID) {
	unlock := c.lockRoom(roomID)
	defer unlock()

	if err := c.store.MarkDisconnected(ctx, roomID, userID, connID, time.Now().UTC()); err != nil {
		if err != store.ErrNotFound {
			log.Error().Err(err).Str("module", "app").Str("user_id", string(userID)).Str("room_id", string(roomID)).Msg("mark disconnected")
		}
		return
	}

	c.publish(ctx, bus.Intent{
		Audience: bus.Room(roomID),
		Event:    bus.EventParticipantDisconnected,
		Payload:  userRefPayload{UserID: userID},
	})

	key := grace.Key{UserID: userID, RoomID: roomID}
	c.grace.Start(key, c.graceDelay, func() {
		c.finalizeDisconnect(userID, roomID)
	})
}

// finalizeDisconnect runs when a grace window expires without a reconnect.
// It is a background cleanup: every failure is logged and swallowed, the
// next sweep or room end picks up whatever is left.
func (c *Coordinator) finalizeDisconnect(userID domain.UserID, roomID domain.RoomID) {
	ctx := context.Background()
	unlock := c.lockRoom(roomID)
	defer unlock()

	p, err := c.store.GetParticipant(ctx, roomID, userID)
	if err != nil {
		if err != store.ErrNotFound {
			log.Warn().Err(err).Str("module", "app").Str("user_id", string(userID)).Str("room_id", string(roomID)).Msg("finalize disconnect lookup")
		}
		return
	}
	// Reconnected after the timer fired but before we got the lock.
	if p.IsConnected {
		return
	}

	// An expired host ends the room outright: an active room has exactly one
	// host, so deleting the seat would leave a room nobody can ever end.
	if p.Role == domain.RoleHost {
		room, err := c.store.GetRoom(ctx, roomID)
		if err != nil {
			if err != store.ErrNotFound {
				log.Warn().Err(err).Str("module", "app").Str("room_id", string(roomID)).Msg("finalize disconnect room lookup")
			}
			return
		}
		if !room.IsActive {
			return
		}
		log.Info().Str("module", "app").Str("room_id", string(roomID)).Str("user_id", string(userID)).Msg("host grace expired, ending room")
		if err := c.terminateRoom(ctx, room); err != nil {
			log.Warn().Err(err).Str("module", "app").Str("room_id", string(roomID)).Msg("finalize disconnect end room")
		}
		return
	}

	if err := c.store.DeleteParticipant(ctx, roomID, userID); err != nil {
		if err != store.ErrNotFound {
			log.Warn().Err(err).Str("module", "app").Str("user_id", string(userID)).Str("room_id", string(roomID)).Msg("finalize disconnect delete")
		}
		return
	}

	log.Info().Str("module", "app").Str("user_id", string(userID)).Str("room_id", string(roomID)).Msg("grace expired, participant removed")

	intents := []bus.Intent{{
		Audience: bus.Room(roomID),
		Event:    bus.EventParticipantLeft,
		Payload:  participantLeftPayload{UserID: userID, Expired: true},
	}}
	if room, err := c.store.GetRoom(ctx, roomID); err == nil {
		if update, ok := c.lobbyRoomUpdated(ctx, room); ok {
			intents = append(intents, update)
		}
	}
	c.publish(ctx, intents...)
}

// RestoreState reconnects a dropped participant inside the grace window:
// cancel the timer, rebind the transport handle, and hand back the current
// snapshot plus messages missed since the client's last seen timestamp.
func (c *Coordinator) RestoreState(ctx context.Context, userID domain.UserID, roomID domain.RoomID, connID domain.ConnectionID, since *time.Time) (*RestoreResult, error) {
	unlock := c.lockRoom(roomID)
	defer unlock()

	room, err := c.activeRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	existing, err := c.store.GetParticipant(ctx, roomID, userID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, notFound("no session to restore in this room")
		}
		return nil, c.upstream("get participant", err)
	}
	wasConnected := existing.IsConnected

	c.grace.Cancel(grace.Key{UserID: userID, RoomID: roomID})

	if err := c.store.MarkConnected(ctx, roomID, userID, connID); err != nil {
		return nil, c.upstream("mark connected", err)
	}
	participant, err := c.store.GetParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, c.upstream("get participant", err)
	}

	participants, err := c.store.ListConnected(ctx, roomID)
	if err != nil {
		return nil, c.upstream("list connected", err)
	}

	var missed []domain.Message
	if since != nil {
		missed, err = c.store.ListMessagesSince(ctx, roomID, *since)
		if err != nil {
			return nil, c.upstream("list messages since", err)
		}
	}

	token, err := c.issuer.Issue(ctx, userID, roomID, capability.GrantsForRole(participant.Role))
	if err != nil {
		return nil, c.upstream("issue capability", err)
	}

	log.Info().Str("module", "app").Str("user_id", string(userID)).Str("room_id", string(roomID)).Msg("session restored")

	// A restore from a still-connected client just rebinds the handle; only
	// an actual reconnect is announced.
	if !wasConnected {
		c.publish(ctx, bus.Intent{
			Audience: bus.RoomExcept(roomID, userID),
			Event:    bus.EventParticipantReconnected,
			Payload:  userRefPayload{UserID: userID},
		})
	}

	return &RestoreResult{
		Room:           room,
		Participant:    participant,
		Participants:   participants,
		MissedMessages: missed,
		Capability:     token,
	}, nil
}
