package domain

// Identity is the result of validating a token with the auth gate.
type Identity struct {
	EmployeeID int64
	BranchID   int64
	Role       string
}

// Rooms derives the rooms a session with this identity may occupy: exactly
// one branch room, exactly one employee room, and at most one role room.
func (id Identity) Rooms() []Room {
	rooms := []Room{BranchRoom(id.BranchID), EmployeeRoom(id.EmployeeID)}
	if id.Role != "" {
		rooms = append(rooms, RoleRoom(id.Role))
	}
	return rooms
}

// Allows reports whether this identity is permitted to join room. Sessions
// may only occupy rooms matching their own scope, which keeps cross-branch
// events from leaking to a session that asks for someone else's room.
func (id Identity) Allows(room Room) bool {
	for _, r := range id.Rooms() {
		if r == room {
			return true
		}
	}
	return false
}
