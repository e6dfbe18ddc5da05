package scope

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/syncd/internal/domain"
)

type recordingPublisher struct {
	published []struct {
		room  domain.Room
		event domain.Event
	}
}

func (p *recordingPublisher) Publish(room domain.Room, event domain.Event) {
	p.published = append(p.published, struct {
		room  domain.Room
		event domain.Event
	}{room, event})
}

func (p *recordingPublisher) rooms() []domain.Room {
	rooms := make([]domain.Room, 0, len(p.published))
	for _, entry := range p.published {
		rooms = append(rooms, entry.room)
	}
	return rooms
}

func TestRooms_EveryKindRoutesSomewhere(t *testing.T) {
	change := Change{BranchID: 7, EmployeeID: 42, TargetEntityID: 1}

	for _, kind := range domain.Kinds() {
		change.Kind = kind
		rooms, err := Rooms(change)
		require.NoError(t, err, "kind %s must have a routing rule", kind)
		assert.NotEmpty(t, rooms, "kind %s must target at least one room", kind)
	}
}

func TestRooms_ScopeSelection(t *testing.T) {
	tests := []struct {
		name   string
		change Change
		want   []domain.Room
	}{
		{
			name:   "branch only",
			change: Change{Kind: domain.RegistrationCreated, BranchID: 7},
			want:   []domain.Room{domain.BranchRoom(7)},
		},
		{
			name:   "payment adds the admin role room",
			change: Change{Kind: domain.PaymentCreated, BranchID: 7},
			want:   []domain.Room{domain.BranchRoom(7), domain.RoleRoom(RoleAdmin)},
		},
		{
			name:   "notification targets only the employee",
			change: Change{Kind: domain.NotificationNew, BranchID: 7, EmployeeID: 42},
			want:   []domain.Room{domain.EmployeeRoom(42)},
		},
		{
			name:   "schedule goes to branch and employee",
			change: Change{Kind: domain.ScheduleUpdated, BranchID: 7, EmployeeID: 42},
			want:   []domain.Room{domain.BranchRoom(7), domain.EmployeeRoom(42)},
		},
		{
			name:   "missing employee id suppresses the employee room",
			change: Change{Kind: domain.ScheduleUpdated, BranchID: 7},
			want:   []domain.Room{domain.BranchRoom(7)},
		},
		{
			name:   "missing branch id suppresses the branch room",
			change: Change{Kind: domain.ApprovalPending},
			want:   []domain.Room{domain.RoleRoom(RoleAdmin)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rooms, err := Rooms(tt.change)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, rooms)
		})
	}
}

func TestRooms_UnknownKind(t *testing.T) {
	_, err := Rooms(Change{Kind: domain.EventKind(200), BranchID: 7})
	require.ErrorIs(t, err, domain.ErrUnknownEventKind)
}

func TestChangeOccurred_PublishesOncePerRoom(t *testing.T) {
	publisher := &recordingPublisher{}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	router := NewRouter(publisher, clock)

	err := router.ChangeOccurred(Change{
		Kind:           domain.ApprovalResolved,
		BranchID:       7,
		EmployeeID:     42,
		TargetEntityID: 99,
	})
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]domain.Room{domain.BranchRoom(7), domain.EmployeeRoom(42)},
		publisher.rooms(),
	)
	for _, entry := range publisher.published {
		assert.Equal(t, domain.ApprovalResolved, entry.event.Kind)
		assert.Equal(t, int64(99), entry.event.TargetEntityID)
		assert.Equal(t, clock.Now().UTC(), entry.event.Timestamp)
	}
}

func TestChangeOccurred_StampsRoleOnRoleScopedKinds(t *testing.T) {
	publisher := &recordingPublisher{}
	router := NewRouter(publisher, clockwork.NewFakeClock())

	require.NoError(t, router.ChangeOccurred(Change{Kind: domain.PaymentCreated, BranchID: 7}))
	require.NotEmpty(t, publisher.published)
	for _, entry := range publisher.published {
		assert.Equal(t, RoleAdmin, entry.event.Role)
	}
}

func TestChangeOccurred_DropsUnknownKind(t *testing.T) {
	publisher := &recordingPublisher{}
	router := NewRouter(publisher, clockwork.NewFakeClock())

	err := router.ChangeOccurred(Change{Kind: domain.EventKind(200), BranchID: 7})
	require.ErrorIs(t, err, domain.ErrUnknownEventKind)
	assert.Empty(t, publisher.published)
}
