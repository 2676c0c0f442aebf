// Package app hosts the room session coordinator: every state transition of
// rooms, participants and messages runs through it. Operations mutate the
// store, then describe the fallout as bus intents; transports only translate
// frames in and out.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soapboxhq/soapbox/internal/bus"
	"github.com/soapboxhq/soapbox/internal/capability"
	"github.com/soapboxhq/soapbox/internal/domain"
	"github.com/soapboxhq/soapbox/internal/grace"
	"github.com/soapboxhq/soapbox/internal/store"
)

const (
	// DefaultGraceDelay is how long a dropped participant keeps its seat.
	DefaultGraceDelay = 30 * time.Second
	// DefaultRoomCapacity bounds connected participants per room.
	DefaultRoomCapacity = 100
)

// Config tunes coordinator behavior. Zero values fall back to the defaults
// above.
type Config struct {
	GraceDelay   time.Duration
	RoomCapacity int
}

// Coordinator is the single authority over session state. Mutating
// operations on one room are serialized by a per-room mutex so concurrent
// read-decide-write sequences cannot interleave.
type Coordinator struct {
	store  store.Store
	issuer capability.Issuer
	grace  *grace.Registry
	bus    bus.Bus

	graceDelay time.Duration
	capacity   int

	lockMu    sync.Mutex
	roomLocks map[domain.RoomID]*sync.Mutex
}

func New(st store.Store, issuer capability.Issuer, reg *grace.Registry, b bus.Bus, cfg Config) *Coordinator {
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = DefaultGraceDelay
	}
	if cfg.RoomCapacity <= 0 {
		cfg.RoomCapacity = DefaultRoomCapacity
	}
	return &Coordinator{
		store:      st,
		issuer:     issuer,
		grace:      reg,
		bus:        b,
		graceDelay: cfg.GraceDelay,
		capacity:   cfg.RoomCapacity,
		roomLocks:  make(map[domain.RoomID]*sync.Mutex),
	}
}

// lockRoom acquires the mutex for one room and returns its release func.
// Lock entries are never removed; the map grows with distinct room ids seen
// by this process, which is bounded by room churn.
func (c *Coordinator) lockRoom(roomID domain.RoomID) func() {
	c.lockMu.Lock()
	mu, ok := c.roomLocks[roomID]
	if !ok {
		mu = &sync.Mutex{}
		c.roomLocks[roomID] = mu
	}
	c.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// activeRoom loads a room and fails uniformly when it is missing or ended.
func (c *Coordinator) activeRoom(ctx context.Context, roomID domain.RoomID) (domain.Room, error) {
	room, err := c.store.GetRoom(ctx, roomID)
	if err != nil {
		if err == store.ErrNotFound {
			return domain.Room{}, notFound("room not found")
		}
		return domain.Room{}, c.upstream("get room", err)
	}
	if !room.IsActive {
		return domain.Room{}, notFound("room is no longer active")
	}
	return room, nil
}

// connectedActor loads the acting participant and requires a live seat.
func (c *Coordinator) connectedActor(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.Participant, error) {
	p, err := c.store.GetParticipant(ctx, roomID, userID)
	if err != nil {
		if err == store.ErrNotFound {
			return domain.Participant{}, unauthorized(ReasonNotParticipant, "you are not a participant of this room")
		}
		return domain.Participant{}, c.upstream("get participant", err)
	}
	if !p.IsConnected {
		return domain.Participant{}, unauthorized(ReasonNotParticipant, "you are not connected to this room")
	}
	return p, nil
}

// upstream logs the real failure and returns an opaque error to the caller.
func (c *Coordinator) upstream(op string, err error) error {
	log.Error().Err(err).Str("module", "app").Str("op", op).Msg("upstream failure")
	return &Error{Code: CodeUpstream, Message: "internal error"}
}

// publish hands intents to the bus. Delivery is fire-and-forget by
// contract; the triggering operation has already committed.
func (c *Coordinator) publish(ctx context.Context, intents ...bus.Intent) {
	if len(intents) == 0 {
		return
	}
	c.bus.Publish(ctx, intents...)
}

// lobbyRoomUpdated builds the lobby count refresh for one room. Private
// rooms never surface in the lobby, so they produce nothing.
func (c *Coordinator) lobbyRoomUpdated(ctx context.Context, room domain.Room) (bus.Intent, bool) {
	if room.Type != domain.RoomPublic {
		return bus.Intent{}, false
	}
	count, err := c.store.CountConnected(ctx, room.ID)
	if err != nil {
		log.Warn().Err(err).Str("module", "app").Str("room_id", string(room.ID)).Msg("count connected for lobby update")
		return bus.Intent{}, false
	}
	return bus.Intent{
		Audience: bus.Lobby(),
		Event:    bus.EventRoomUpdated,
		Payload:  roomCountPayload{RoomID: room.ID, ParticipantCount: count},
	}, true
}

// Broadcast payload shapes. Kept together so the outbound wire surface is
// reviewable in one place.

type roomCreatedPayload struct {
	Room             domain.Room `json:"room"`
	ParticipantCount int         `json:"participant_count"`
}

type roomCountPayload struct {
	RoomID           domain.RoomID `json:"room_id"`
	ParticipantCount int           `json:"participant_count"`
}

type roomRefPayload struct {
	RoomID domain.RoomID `json:"room_id"`
}

type participantPayload struct {
	Participant domain.Participant `json:"participant"`
}

type participantLeftPayload struct {
	UserID  domain.UserID `json:"user_id"`
	Removed bool          `json:"removed,omitempty"`
	Expired bool          `json:"expired,omitempty"`
}

type userRefPayload struct {
	UserID domain.UserID `json:"user_id"`
}

type micRequestedPayload struct {
	UserID domain.UserID `json:"user_id"`
	RoomID domain.RoomID `json:"room_id"`
}

type roleGrantPayload struct {
	Participant domain.Participant `json:"participant"`
	Capability  string             `json:"capability"`
}

type messagePayload struct {
	Message domain.Message `json:"message"`
}
