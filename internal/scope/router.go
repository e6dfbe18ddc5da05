// Package scope maps committed domain mutations to the rooms that must hear
// about them.
package scope

import (
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/clinicware/syncd/internal/domain"
	"github.com/clinicware/syncd/internal/metrics"
)

// routing describes the scopes one event kind fans out to. The table below is
// closed: adding a new entity kind means adding one row, not new control flow.
type routing struct {
	branch   bool
	employee bool
	// role is the destination role room, empty when not role-scoped.
	role string
}

// RoleAdmin approvals and payment notifications go to admin consoles.
const RoleAdmin = "admin"

var routingTable = map[domain.EventKind]routing{
	domain.RegistrationCreated: {branch: true},
	domain.RegistrationUpdated: {branch: true},
	domain.RegistrationDeleted: {branch: true},
	domain.TestCreated:         {branch: true},
	domain.TestUpdated:         {branch: true},
	domain.TestDeleted:         {branch: true},
	domain.PatientUpdated:      {branch: true},
	domain.InquiryCreated:      {branch: true},
	domain.InquiryUpdated:      {branch: true},
	domain.PaymentCreated:      {branch: true, role: RoleAdmin},
	domain.ApprovalPending:     {branch: true, role: RoleAdmin},
	domain.ApprovalResolved:    {branch: true, employee: true},
	domain.NotificationNew:     {employee: true},
	domain.ScheduleUpdated:     {branch: true, employee: true},
}

// Change is a committed domain mutation reported by the CRUD layer. The
// router only needs to know that the entity changed and which scope it
// belongs to, not how the change was computed.
type Change struct {
	Kind           domain.EventKind
	BranchID       int64
	EmployeeID     int64
	TargetEntityID int64
}

// Publisher receives the routed event, once per target room.
type Publisher interface {
	Publish(room domain.Room, event domain.Event)
}

// Router resolves target rooms for a change and hands the event to the
// publisher. Routing is synchronous and pure; there are no retries.
type Router struct {
	publisher Publisher
	clock     clockwork.Clock
}

func NewRouter(publisher Publisher, clock clockwork.Clock) *Router {
	return &Router{publisher: publisher, clock: clock}
}

// Rooms resolves the rooms a change fans out to. Scope ids absent from the
// change suppress the matching room rather than producing a malformed name.
func Rooms(c Change) ([]domain.Room, error) {
	r, ok := routingTable[c.Kind]
	if !ok {
		return nil, domain.ErrUnknownEventKind
	}

	var rooms []domain.Room
	if r.branch && c.BranchID != 0 {
		rooms = append(rooms, domain.BranchRoom(c.BranchID))
	}
	if r.employee && c.EmployeeID != 0 {
		rooms = append(rooms, domain.EmployeeRoom(c.EmployeeID))
	}
	if r.role != "" {
		rooms = append(rooms, domain.RoleRoom(r.role))
	}
	return rooms, nil
}

// ChangeOccurred routes one committed mutation. Unknown kinds are logged and
// dropped; short of a programming error routing cannot fail.
func (rt *Router) ChangeOccurred(c Change) error {
	rooms, err := Rooms(c)
	if err != nil {
		slog.Error("Dropping event with unknown kind", "event_kind", c.Kind.String())
		metrics.RouterEventsDroppedTotal.Inc()
		return err
	}

	event := domain.Event{
		Kind:           c.Kind,
		BranchID:       c.BranchID,
		EmployeeID:     c.EmployeeID,
		TargetEntityID: c.TargetEntityID,
		Timestamp:      rt.clock.Now().UTC(),
	}
	if r := routingTable[c.Kind]; r.role != "" {
		event.Role = r.role
	}

	for _, room := range rooms {
		rt.publisher.Publish(room, event)
	}
	return nil
}
