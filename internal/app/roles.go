package app

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/soapboxhq/soapbox/internal/authz"
	"github.com/soapboxhq/soapbox/internal/bus"
	"github.com/soapboxhq/soapbox/internal/capability"
	"github.com/soapboxhq/soapbox/internal/domain"
	"github.com/soapboxhq/soapbox/internal/grace"
	"github.com/soapboxhq/soapbox/internal/store"
)

// RoleChangeResult carries the target's updated seat and the capability
// re-minted for the new role.
type RoleChangeResult struct {
	Participant domain.Participant `json:"participant"`
	Capability  string             `json:"capability"`
}

// Promote raises target to newRole. The policy requires the actor to
// strictly outrank both the target and the new role; co-host promotion is
// host only.
func (c *Coordinator) Promote(ctx context.Context, actorID, targetID domain.UserID, roomID domain.RoomID, newRole domain.Role) (*RoleChangeResult, error) {
	if !newRole.Valid() {
		return nil, validation("unknown role")
	}
	mic := newRole != domain.RoleListener
	return c.changeRole(ctx, authz.ActionPromote, actorID, targetID, roomID, newRole, mic, bus.EventRoleChanged)
}

// Demote returns target to listener.
func (c *Coordinator) Demote(ctx context.Context, actorID, targetID domain.UserID, roomID domain.RoomID) (*RoleChangeResult, error) {
	return c.changeRole(ctx, authz.ActionDemote, actorID, targetID, roomID, domain.RoleListener, false, bus.EventRoleChanged)
}

// GrantMic makes target a speaker with an open mic.
func (c *Coordinator) GrantMic(ctx context.Context, actorID, targetID domain.UserID, roomID domain.RoomID) (*RoleChangeResult, error) {
	return c.changeRole(ctx, authz.ActionGrantMic, actorID, targetID, roomID, domain.RoleSpeaker, true, bus.EventMicGranted)
}

// RevokeMic sends target back to listener with a closed mic.
func (c *Coordinator) RevokeMic(ctx context.Context, actorID, targetID domain.UserID, roomID domain.RoomID) (*RoleChangeResult, error) {
	return c.changeRole(ctx, authz.ActionRevokeMic, actorID, targetID, roomID, domain.RoleListener, false, bus.EventMicRevoked)
}

// changeRole is the shared mutation path for every role transition: load
// both seats, authorize, persist, re-mint the target's capability, announce.
func (c *Coordinator) changeRole(ctx context.Context, action authz.Action, actorID, targetID domain.UserID, roomID domain.RoomID, newRole domain.Role, micEnabled bool, targetEvent string) (*RoleChangeResult, error) {
	unlock := c.lockRoom(roomID)
	defer unlock()

	if _, err := c.activeRoom(ctx, roomID); err != nil {
		return nil, err
	}
	actor, err := c.connectedActor(ctx, roomID, actorID)
	if err != nil {
		return nil, err
	}

	target, err := c.store.GetParticipant(ctx, roomID, targetID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, notFound("target user is not in this room")
		}
		return nil, c.upstream("get target participant", err)
	}

	d := authz.Authorize(authz.Request{
		Action:     action,
		ActorRole:  actor.Role,
		TargetRole: target.Role,
		NewRole:    newRole,
	})
	if !d.Allowed {
		return nil, unauthorized(d.Reason, "not allowed")
	}

	if err := c.store.UpdateRole(ctx, roomID, targetID, newRole, micEnabled); err != nil {
		return nil, c.upstream("update role", err)
	}
	target.Role = newRole
	target.MicEnabled = micEnabled

	token, err := c.issuer.Issue(ctx, targetID, roomID, capability.GrantsForRole(newRole))
	if err != nil {
		return nil, c.upstream("issue capability", err)
	}

	log.Info().
		Str("module", "app").
		Str("room_id", string(roomID)).
		Str("actor_id", string(actorID)).
		Str("target_id", string(targetID)).
		Str("action", string(action)).
		Str("new_role", string(newRole)).
		Msg("role changed")

	c.publish(ctx,
		bus.Intent{
			Audience: bus.User(roomID, targetID),
			Event:    targetEvent,
			Payload:  roleGrantPayload{Participant: target, Capability: token},
		},
		bus.Intent{
			Audience: bus.Room(roomID),
			Event:    bus.EventParticipantUpdated,
			Payload:  participantPayload{Participant: target},
		},
	)

	return &RoleChangeResult{Participant: target, Capability: token}, nil
}

// RemoveUser ejects target from the room entirely. Host only; the host
// itself cannot be removed. The deleted seat means a rejoin starts over as
// listener.
func (c *Coordinator) RemoveUser(ctx context.Context, actorID, targetID domain.UserID, roomID domain.RoomID) error {
	unlock := c.lockRoom(roomID)
	defer unlock()

	room, err := c.activeRoom(ctx, roomID)
	if err != nil {
		return err
	}
	actor, err := c.connectedActor(ctx, roomID, actorID)
	if err != nil {
		return err
	}

	target, err := c.store.GetParticipant(ctx, roomID, targetID)
	if err != nil {
		if err == store.ErrNotFound {
			return notFound("target user is not in this room")
		}
		return c.upstream("get target participant", err)
	}

	d := authz.Authorize(authz.Request{
		Action:     authz.ActionRemove,
		ActorRole:  actor.Role,
		TargetRole: target.Role,
	})
	if !d.Allowed {
		return unauthorized(d.Reason, "not allowed")
	}

	if err := c.store.DeleteParticipant(ctx, roomID, targetID); err != nil {
		return c.upstream("delete participant", err)
	}
	c.grace.Cancel(grace.Key{UserID: targetID, RoomID: roomID})

	log.Info().
		Str("module", "app").
		Str("room_id", string(roomID)).
		Str("actor_id", string(actorID)).
		Str("target_id", string(targetID)).
		Msg("participant removed")

	intents := []bus.Intent{
		{
			Audience: bus.User(roomID, targetID),
			Event:    bus.EventRemovedFromRoom,
			Payload:  roomRefPayload{RoomID: roomID},
		},
		{
			Audience: bus.Room(roomID),
			Event:    bus.EventParticipantLeft,
			Payload:  participantLeftPayload{UserID: targetID, Removed: true},
		},
	}
	if update, ok := c.lobbyRoomUpdated(ctx, room); ok {
		intents = append(intents, update)
	}
	c.publish(ctx, intents...)
	// Expelled after the removal events so removed_from_room still reaches
	// the target.
	c.bus.Expel(ctx, roomID, targetID)
	return nil
}

// RequestMic notifies every connected moderator that a listener wants to
// speak. No state changes; moderators answer with GrantMic.
func (c *Coordinator) RequestMic(ctx context.Context, userID domain.UserID, roomID domain.RoomID) error {
	if _, err := c.activeRoom(ctx, roomID); err != nil {
		return err
	}
	if _, err := c.connectedActor(ctx, roomID, userID); err != nil {
		return err
	}

	participants, err := c.store.ListConnected(ctx, roomID)
	if err != nil {
		return c.upstream("list connected", err)
	}
	moderators := lo.Filter(participants, func(p domain.Participant, _ int) bool {
		return p.Role == domain.RoleHost || p.Role == domain.RoleCoHost
	})

	intents := lo.Map(moderators, func(mod domain.Participant, _ int) bus.Intent {
		return bus.Intent{
			Audience: bus.User(roomID, mod.UserID),
			Event:    bus.EventMicRequested,
			Payload:  micRequestedPayload{UserID: userID, RoomID: roomID},
		}
	})
	c.publish(ctx, intents...)
	return nil
}
