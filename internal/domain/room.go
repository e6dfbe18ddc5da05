package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Room is a named multicast scope. Rooms exist only while they have members;
// there is no persisted room state.
type Room string

func BranchRoom(branchID int64) Room {
	return Room("branch:" + strconv.FormatInt(branchID, 10))
}

func RoleRoom(role string) Room {
	return Room("role:" + role)
}

func EmployeeRoom(employeeID int64) Room {
	return Room("employee:" + strconv.FormatInt(employeeID, 10))
}

// ParseRoom validates a room name from a client control message.
func ParseRoom(s string) (Room, error) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok || rest == "" {
		return "", fmt.Errorf("malformed room name %q", s)
	}
	switch kind {
	case "branch", "employee":
		if _, err := strconv.ParseInt(rest, 10, 64); err != nil {
			return "", fmt.Errorf("malformed room name %q: %w", s, err)
		}
	case "role":
		// role names are free-form identifiers
	default:
		return "", fmt.Errorf("unknown room kind %q", kind)
	}
	return Room(s), nil
}

// ControlMessage is the client-to-server frame on the push channel.
// Action is "join:room" or "leave:room".
type ControlMessage struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

const (
	ControlJoin  = "join:room"
	ControlLeave = "leave:room"
)
