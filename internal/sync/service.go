package sync

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/clinicware/syncd/internal/database"
	"github.com/clinicware/syncd/internal/metrics"
)

// cursorOverlap is subtracted from the call-time cursor returned to clients.
// Rows committed while the queries ran can carry timestamps slightly before
// call time; the overlap re-delivers them on the next pull instead of
// skipping them. Re-delivery is safe because pulls are idempotent.
const cursorOverlap = 2 * time.Second

const (
	breakerFailureThreshold = 5
	breakerOpenDuration     = 30 * time.Second
)

// Request is the pull-sync endpoint input.
type Request struct {
	Since    string   `json:"since"`
	BranchID int64    `json:"branchId,omitempty"`
	Tables   []string `json:"tables,omitempty"`
}

// Response maps each synced table to its changed rows. LastSyncTimestamp is
// stored by the client as the next request's Since value.
type Response struct {
	Success           bool                      `json:"success"`
	LastSyncTimestamp string                    `json:"lastSyncTimestamp"`
	Changes           map[string][]database.Row `json:"changes"`
}

// Service serves cursor-based incremental diffs. Stateless per request;
// concurrent calls for different branches share nothing but the fetcher.
type Service struct {
	fetcher  database.Fetcher
	rules    map[string]TableRule
	clock    clockwork.Clock
	maxRows  int
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewService builds a sync service over the given allowlist. maxRows caps
// each table's result set per call; clients page by advancing the cursor.
func NewService(fetcher database.Fetcher, rules map[string]TableRule, clock clockwork.Clock, maxRows int) *Service {
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(rules))
	for table := range rules {
		breakers[table] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "sync:" + table,
			Timeout: breakerOpenDuration,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailureThreshold
			},
		})
	}
	return &Service{
		fetcher:  fetcher,
		rules:    rules,
		clock:    clock,
		maxRows:  maxRows,
		breakers: breakers,
	}
}

// Sync returns every allowlisted row changed since the request cursor,
// scoped to the request branch. Per-table failures are isolated: a failing
// table is skipped and logged while the rest of the sync proceeds.
func (s *Service) Sync(ctx context.Context, req Request) (*Response, error) {
	start := s.clock.Now()
	defer func() {
		metrics.SyncDuration.Observe(s.clock.Since(start).Seconds())
	}()

	since, err := ParseCursor(req.Since)
	if err != nil {
		metrics.SyncRequestsTotal.WithLabelValues("bad_cursor").Inc()
		return nil, err
	}

	tables := req.Tables
	if len(tables) == 0 {
		tables = s.defaultTables()
	}

	resp := &Response{
		Success: true,
		Changes: make(map[string][]database.Row, len(tables)),
	}

	callTime := s.clock.Now().UTC()
	maxRowTS := time.Time{}

	for _, table := range tables {
		rule, ok := s.rules[table]
		if !ok {
			// Unlisted table: empty result, never a storage error.
			resp.Changes[table] = []database.Row{}
			continue
		}
		if rule.Scope.Global() && !slices.Contains(req.Tables, table) {
			// Global tables only on explicit request.
			resp.Changes[table] = []database.Row{}
			continue
		}
		if !rule.Scope.Global() && req.BranchID == 0 {
			resp.Changes[table] = []database.Row{}
			continue
		}

		rows, err := s.fetchTable(ctx, table, rule, since, req.BranchID)
		if err != nil {
			slog.Warn("Skipping table after query failure",
				"table", table,
				"error", err,
			)
			metrics.SyncTableFailuresTotal.WithLabelValues(table).Inc()
			continue
		}

		resp.Changes[table] = rows
		metrics.SyncRowsReturned.WithLabelValues(table).Add(float64(len(rows)))
		if ts := maxTimestamp(rows, rule.TimestampColumn); ts.After(maxRowTS) {
			maxRowTS = ts
		}
	}

	// Cursor choice: call time minus a fixed overlap window, bumped up to
	// the latest row actually returned. The overlap closes the in-flight
	// transaction gap without ever handing back a cursor older than data
	// the client just received.
	last := callTime.Add(-cursorOverlap)
	if maxRowTS.After(last) {
		last = maxRowTS
	}
	resp.LastSyncTimestamp = FormatCursor(last)

	metrics.SyncRequestsTotal.WithLabelValues("ok").Inc()
	return resp, nil
}

func (s *Service) fetchTable(ctx context.Context, table string, rule TableRule, since time.Time, branchID int64) ([]database.Row, error) {
	filters := []database.Filter{
		{Column: rule.TimestampColumn, Op: ">", Value: since},
	}
	if !rule.Scope.Global() {
		filters = append(filters, database.Filter{
			Column: rule.Scope.Column,
			Op:     "=",
			Value:  branchID,
		})
	}

	query := database.Query{
		Table:   table,
		Join:    rule.Scope.Join,
		Filters: filters,
		OrderBy: rule.TimestampColumn,
		Limit:   s.maxRows,
	}
	if rule.Scope.Join != "" {
		// A joined select must not pull the join partner's columns: the
		// partner shares names (id, updated_at) and would overwrite the
		// target table's values in the result row.
		query.Columns = []string{table + ".*"}
	}

	result, err := s.breakers[table].Execute(func() (any, error) {
		return s.fetcher.Fetch(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	rows, _ := result.([]database.Row)
	if rows == nil {
		rows = []database.Row{}
	}
	return rows, nil
}

// defaultTables is every branch-scoped table; global tables require explicit
// naming.
func (s *Service) defaultTables() []string {
	tables := make([]string, 0, len(s.rules))
	for table, rule := range s.rules {
		if !rule.Scope.Global() {
			tables = append(tables, table)
		}
	}
	return tables
}

func maxTimestamp(rows []database.Row, tsColumn string) time.Time {
	// Joined rules qualify the column; row keys carry the bare name.
	if i := strings.LastIndexByte(tsColumn, '.'); i >= 0 {
		tsColumn = tsColumn[i+1:]
	}
	var max time.Time
	for _, row := range rows {
		if ts, ok := row[tsColumn].(time.Time); ok && ts.After(max) {
			max = ts
		}
	}
	return max
}
