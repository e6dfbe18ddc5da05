// Package invalidation maps push events to the cache keys a client must
// refetch.
package invalidation

import (
	"fmt"
	"log/slog"

	"github.com/clinicware/syncd/internal/domain"
	"github.com/clinicware/syncd/internal/metrics"
)

// CacheKey names one locally cached view that became stale.
type CacheKey string

func branchDashboard(e domain.Event) CacheKey {
	return CacheKey(fmt.Sprintf("branch:%d:dashboard", e.BranchID))
}

func branchRegistrations(e domain.Event) CacheKey {
	return CacheKey(fmt.Sprintf("branch:%d:registrations", e.BranchID))
}

func branchSchedule(e domain.Event) CacheKey {
	return CacheKey(fmt.Sprintf("branch:%d:schedule", e.BranchID))
}

func branchTests(e domain.Event) CacheKey {
	return CacheKey(fmt.Sprintf("branch:%d:tests", e.BranchID))
}

func branchInquiries(e domain.Event) CacheKey {
	return CacheKey(fmt.Sprintf("branch:%d:inquiries", e.BranchID))
}

func branchPayments(e domain.Event) CacheKey {
	return CacheKey(fmt.Sprintf("branch:%d:payments", e.BranchID))
}

func branchApprovals(e domain.Event) CacheKey {
	return CacheKey(fmt.Sprintf("branch:%d:approvals", e.BranchID))
}

func patientRecord(e domain.Event) CacheKey {
	return CacheKey(fmt.Sprintf("patient:%d", e.TargetEntityID))
}

func employeeNotifications(e domain.Event) CacheKey {
	return CacheKey(fmt.Sprintf("employee:%d:notifications", e.EmployeeID))
}

func employeeSchedule(e domain.Event) CacheKey {
	return CacheKey(fmt.Sprintf("employee:%d:schedule", e.EmployeeID))
}

type template func(domain.Event) CacheKey

// ruleTable is the static event-to-invalidation mapping, defined once at
// startup and immutable after. Registration lifecycle events touch the
// dashboard aggregate, the registration list, and the schedule view because
// registrations affect counts, lists, and calendar slots simultaneously.
var ruleTable = map[domain.EventKind][]template{
	domain.RegistrationCreated: {branchDashboard, branchRegistrations, branchSchedule},
	domain.RegistrationUpdated: {branchDashboard, branchRegistrations, branchSchedule},
	domain.RegistrationDeleted: {branchDashboard, branchRegistrations, branchSchedule},
	domain.TestCreated:         {branchTests, branchDashboard},
	domain.TestUpdated:         {branchTests},
	domain.TestDeleted:         {branchTests, branchDashboard},
	domain.PatientUpdated:      {patientRecord, branchRegistrations},
	domain.InquiryCreated:      {branchInquiries, branchDashboard},
	domain.InquiryUpdated:      {branchInquiries},
	domain.PaymentCreated:      {branchPayments, branchDashboard},
	domain.ApprovalPending:     {branchApprovals},
	domain.ApprovalResolved:    {branchApprovals, branchDashboard},
	domain.NotificationNew:     {employeeNotifications},
	domain.ScheduleUpdated:     {branchSchedule, employeeSchedule},
}

// Keys returns the cache keys invalidated by event. Pure and total: an
// unknown kind is logged and yields an empty set, never an error, since a
// missed invalidation is recoverable by the next pull-sync while a crash is
// not.
func Keys(event domain.Event) []CacheKey {
	templates, ok := ruleTable[event.Kind]
	if !ok {
		slog.Warn("Ignoring event with no invalidation rule", "event_kind", event.Kind.String())
		metrics.InvalidationUnknownKindTotal.Inc()
		return nil
	}

	keys := make([]CacheKey, 0, len(templates))
	for _, t := range templates {
		keys = append(keys, t(event))
	}
	metrics.InvalidationKeysTotal.WithLabelValues(event.Kind.String()).Add(float64(len(keys)))
	return keys
}
