package models

// Role is a member's role within a group.
type Role string

const (
	RoleLeader Role = "LEADER"
	RoleMember Role = "MEMBER"
)

// GroupMembership records one user's membership in a group. Mutated
// only in response to server-confirmed events.
type GroupMembership struct {
	GroupID string `json:"group"`
	UserID  string `json:"user"`
	Role    Role   `json:"role"`
}
