package model

import "time"

// Role is a user's permission level.
type Role string

const (
	RoleOperator   Role = "operator"
	RoleSupervisor Role = "supervisor"
)

// ValidRole reports whether role is a known role.
func ValidRole(role Role) bool {
	return role == RoleOperator || role == RoleSupervisor
}

// User represents an operator or supervisor in the meat reception system.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	// LastLogin is zero when the user has never logged in.
	LastLogin time.Time `json:"last_login,omitempty"`
}

// IsSupervisor reports whether the user holds the supervisor role.
func (u *User) IsSupervisor() bool {
	return u.Role == RoleSupervisor
}
