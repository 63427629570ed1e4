package domain

import "github.com/google/uuid"

type Role string

const (
	RoleUser    Role = "user"
	RoleAdmin   Role = "admin"
	RoleSweeper Role = "sweeper"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSweeper:
		return true
	}
	return false
}

// Actor is whoever performs an operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// SweeperActor is the identity the auto-confirmation job acts under.
var SweeperActor = Actor{
	ID:   uuid.MustParse("00000000-0000-0000-0000-00000000000a"),
	Role: RoleSweeper,
}

func UserActor(id uuid.UUID) Actor { return Actor{ID: id, Role: RoleUser} }

func AdminActor(id uuid.UUID) Actor { return Actor{ID: id, Role: RoleAdmin} }

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) IsSweeper() bool { return a.Role == RoleSweeper }
