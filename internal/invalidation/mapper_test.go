package invalidation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/syncd/internal/domain"
)

func TestKeys_EveryKindHasRules(t *testing.T) {
	event := domain.Event{BranchID: 7, EmployeeID: 42, TargetEntityID: 99}

	for _, kind := range domain.Kinds() {
		event.Kind = kind
		keys := Keys(event)
		assert.NotEmpty(t, keys, "kind %s must invalidate at least one key", kind)
	}
}

func TestKeys_ScopedKeys(t *testing.T) {
	tests := []struct {
		name  string
		event domain.Event
		want  []CacheKey
	}{
		{
			name:  "registration touches dashboard, list, and schedule",
			event: domain.Event{Kind: domain.RegistrationCreated, BranchID: 7},
			want: []CacheKey{
				"branch:7:dashboard",
				"branch:7:registrations",
				"branch:7:schedule",
			},
		},
		{
			name:  "patient update refreshes the record and the list",
			event: domain.Event{Kind: domain.PatientUpdated, BranchID: 7, TargetEntityID: 99},
			want:  []CacheKey{"patient:99", "branch:7:registrations"},
		},
		{
			name:  "notification is employee-scoped",
			event: domain.Event{Kind: domain.NotificationNew, EmployeeID: 42},
			want:  []CacheKey{"employee:42:notifications"},
		},
		{
			name:  "schedule update hits both branch and employee views",
			event: domain.Event{Kind: domain.ScheduleUpdated, BranchID: 7, EmployeeID: 42},
			want:  []CacheKey{"branch:7:schedule", "employee:42:schedule"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Keys(tt.event))
		})
	}
}

func TestKeys_BranchIsolation(t *testing.T) {
	branch7 := Keys(domain.Event{Kind: domain.PaymentCreated, BranchID: 7})
	branch9 := Keys(domain.Event{Kind: domain.PaymentCreated, BranchID: 9})

	for _, key := range branch7 {
		assert.NotContains(t, branch9, key)
	}
}

func TestKeys_UnknownKindYieldsNothing(t *testing.T) {
	keys := Keys(domain.Event{Kind: domain.EventKind(200), BranchID: 7})
	require.Empty(t, keys)
}
