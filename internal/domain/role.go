package domain

// Role is the participant privilege level inside one room.
// The hierarchy is a strict total order: host > co-host > speaker > listener.
type Role string

const (
	RoleHost     Role = "host"
	RoleCoHost   Role = "co-host"
	RoleSpeaker  Role = "speaker"
	RoleListener Role = "listener"
)

var roleRanks = map[Role]int{
	RoleHost:     4,
	RoleCoHost:   3,
	RoleSpeaker:  2,
	RoleListener: 1,
}

// Rank returns the numeric privilege rank, 0 for unknown roles.
// Comparing ranks is the only sanctioned way to compare roles.
func (r Role) Rank() int {
	return roleRanks[r]
}

func (r Role) Valid() bool {
	return roleRanks[r] != 0
}

// CanPublish reports whether the role is allowed to hold an open mic.
// Listeners are never publish-capable.
func (r Role) CanPublish() bool {
	return r.Rank() >= RoleSpeaker.Rank()
}
