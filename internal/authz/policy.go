// Package authz evaluates whether an actor's role permits an action on a
// target's role. It is pure and stateless; every privileged path in the
// coordinator goes through Authorize so the privilege-escalation rules live
// in exactly one place.
package authz

import "github.com/soapboxhq/soapbox/internal/domain"

type Action string

const (
	ActionPromote   Action = "promote"
	ActionDemote    Action = "demote"
	ActionGrantMic  Action = "grant-mic"
	ActionRevokeMic Action = "revoke-mic"
	ActionRemove    Action = "remove"
	ActionEndRoom   Action = "end-room"
)

// Reason tags carried by every denial.
const (
	ReasonInsufficientRole = "insufficient_role"
	ReasonHostOnly         = "host_only"
	ReasonTargetProtected  = "target_protected"
	ReasonPeerOrSuperior   = "peer_or_superior"
	ReasonRankNotHigher    = "rank_not_higher"
	ReasonUnknownAction    = "unknown_action"
)

// Decision is the outcome of one policy evaluation. Reason is set only on
// denial.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Request describes one privileged action. TargetRole is ignored for
// end-room; NewRole is consulted only for promote.
type Request struct {
	Action     Action
	ActorRole  domain.Role
	TargetRole domain.Role
	NewRole    domain.Role
}

// Authorize applies the role-hierarchy rules:
//
//   - end-room: actor must be the host, exactly.
//   - remove: actor must be the host; the host itself is un-removable.
//   - promote to co-host: host only.
//   - promote/demote/grant-mic/revoke-mic: actor must be host or co-host and
//     must strictly outrank the target. Promotion must land strictly below
//     the actor and strictly above the target's current rank.
func Authorize(req Request) Decision {
	switch req.Action {
	case ActionEndRoom:
		if req.ActorRole != domain.RoleHost {
			return deny(ReasonHostOnly)
		}
		return allow()

	case ActionRemove:
		if req.ActorRole != domain.RoleHost {
			return deny(ReasonHostOnly)
		}
		if req.TargetRole == domain.RoleHost {
			return deny(ReasonTargetProtected)
		}
		return allow()

	case ActionPromote:
		if d := requireModerator(req.ActorRole); !d.Allowed {
			return d
		}
		if !req.NewRole.Valid() {
			return deny(ReasonRankNotHigher)
		}
		if req.NewRole == domain.RoleCoHost && req.ActorRole != domain.RoleHost {
			return deny(ReasonHostOnly)
		}
		if req.NewRole.Rank() >= req.ActorRole.Rank() {
			return deny(ReasonPeerOrSuperior)
		}
		if req.NewRole.Rank() <= req.TargetRole.Rank() {
			return deny(ReasonRankNotHigher)
		}
		return allow()

	case ActionDemote, ActionGrantMic, ActionRevokeMic:
		if d := requireModerator(req.ActorRole); !d.Allowed {
			return d
		}
		if req.TargetRole.Rank() >= req.ActorRole.Rank() {
			return deny(ReasonPeerOrSuperior)
		}
		return allow()

	default:
		return deny(ReasonUnknownAction)
	}
}

func requireModerator(actor domain.Role) Decision {
	if actor != domain.RoleHost && actor != domain.RoleCoHost {
		return deny(ReasonInsufficientRole)
	}
	return allow()
}
