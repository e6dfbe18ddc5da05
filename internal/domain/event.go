package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind is the closed set of change notifications the sync core carries.
// The zero value is invalid; ParseEventKind rejects anything outside the set.
type EventKind uint8

const (
	RegistrationCreated EventKind = iota + 1
	RegistrationUpdated
	RegistrationDeleted
	TestCreated
	TestUpdated
	TestDeleted
	PatientUpdated
	InquiryCreated
	InquiryUpdated
	PaymentCreated
	ApprovalPending
	ApprovalResolved
	NotificationNew
	ScheduleUpdated
)

var kindNames = map[EventKind]string{
	RegistrationCreated: "registration:created",
	RegistrationUpdated: "registration:updated",
	RegistrationDeleted: "registration:deleted",
	TestCreated:         "test:created",
	TestUpdated:         "test:updated",
	TestDeleted:         "test:deleted",
	PatientUpdated:      "patient:updated",
	InquiryCreated:      "inquiry:created",
	InquiryUpdated:      "inquiry:updated",
	PaymentCreated:      "payment:created",
	ApprovalPending:     "approval:pending",
	ApprovalResolved:    "approval:resolved",
	NotificationNew:     "notification:new",
	ScheduleUpdated:     "schedule:updated",
}

var kindsByName = func() map[string]EventKind {
	m := make(map[string]EventKind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("eventkind(%d)", uint8(k))
}

// Valid reports whether k is a member of the closed taxonomy.
func (k EventKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseEventKind maps a wire string like "registration:created" to its kind.
func ParseEventKind(s string) (EventKind, error) {
	if k, ok := kindsByName[s]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEventKind, s)
}

// Kinds returns every member of the taxonomy. Used by exhaustiveness tests
// over the routing and invalidation tables.
func Kinds() []EventKind {
	kinds := make([]EventKind, 0, len(kindNames))
	for k := RegistrationCreated; k <= ScheduleUpdated; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

func (k EventKind) MarshalJSON() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEventKind, uint8(k))
	}
	return json.Marshal(name)
}

func (k *EventKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEventKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Event is the payload delivered on the push channel. Events are transient
// signals: never persisted, never replayed to late joiners.
type Event struct {
	Kind           EventKind `json:"eventKind"`
	BranchID       int64     `json:"branchId,omitempty"`
	EmployeeID     int64     `json:"employeeId,omitempty"`
	TargetEntityID int64     `json:"targetEntityId,omitempty"`
	Role           string    `json:"role,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
