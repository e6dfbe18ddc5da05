package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clinicware/syncd/internal/database"
)

// Endpoint abstracts the pull-sync call so the reconciler works against the
// in-process service or an HTTP client equally.
type Endpoint interface {
	Sync(ctx context.Context, req Request) (*Response, error)
}

// Applier durably applies pulled rows to the client's local store. The
// reconciler advances a table's cursor only after Apply returns nil.
type Applier interface {
	Apply(table string, rows []database.Row) error
}

// Reconciler owns the client-side cursors, one per tracked table, all scoped
// to the client's branch. Cursors are the only sync state that survives
// reconnects and they live here, on the client.
type Reconciler struct {
	endpoint Endpoint
	applier  Applier
	rules    map[string]TableRule
	branchID int64
	tables   []string
	maxRows  int

	mu      sync.Mutex
	cursors map[string]string
}

// NewReconciler tracks the given tables for one branch, starting every
// cursor at the zero cursor so the first pull is a full cold-start sync.
// maxRows must match the server's per-table cap; a batch of that size is
// treated as capped and drained with follow-up pulls.
func NewReconciler(endpoint Endpoint, applier Applier, rules map[string]TableRule, branchID int64, tables []string, maxRows int) *Reconciler {
	cursors := make(map[string]string, len(tables))
	for _, table := range tables {
		cursors[table] = ZeroCursor
	}
	return &Reconciler{
		endpoint: endpoint,
		applier:  applier,
		rules:    rules,
		branchID: branchID,
		tables:   tables,
		maxRows:  maxRows,
		cursors:  cursors,
	}
}

// Cursor returns the stored cursor for table (the zero cursor for untracked
// tables).
func (r *Reconciler) Cursor(table string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cursors[table]; ok {
		return c
	}
	return ZeroCursor
}

// Pull fetches and applies every change since the stored cursors. Safe to
// call on cold start, after a push gap, or concurrently with push delivery:
// push and pull are deliberately eventually-consistent with each other, and
// pull is the authoritative reconciliation mechanism.
func (r *Reconciler) Pull(ctx context.Context) error {
	for _, group := range r.cursorGroups() {
		if err := r.pullGroup(ctx, group.cursor, group.tables); err != nil {
			return err
		}
	}
	return nil
}

type cursorGroup struct {
	cursor string
	tables []string
}

// cursorGroups batches tables sharing a cursor value into one request; after
// the first successful pull all tables normally converge on one cursor.
func (r *Reconciler) cursorGroups() []cursorGroup {
	r.mu.Lock()
	defer r.mu.Unlock()

	byCursor := make(map[string][]string)
	for _, table := range r.tables {
		c := r.cursors[table]
		byCursor[c] = append(byCursor[c], table)
	}
	groups := make([]cursorGroup, 0, len(byCursor))
	for c, tables := range byCursor {
		groups = append(groups, cursorGroup{cursor: c, tables: tables})
	}
	return groups
}

func (r *Reconciler) pullGroup(ctx context.Context, cursor string, tables []string) error {
	resp, err := r.endpoint.Sync(ctx, Request{
		Since:    cursor,
		BranchID: r.branchID,
		Tables:   tables,
	})
	if err != nil {
		return fmt.Errorf("pull since %s: %w", cursor, err)
	}

	for _, table := range tables {
		rows, ok := resp.Changes[table]
		if !ok {
			// Table skipped server-side (isolated failure); its cursor
			// stays put so nothing is lost.
			slog.Warn("Table missing from sync response, keeping cursor", "table", table)
			continue
		}
		if err := r.applier.Apply(table, rows); err != nil {
			return fmt.Errorf("apply %s: %w", table, err)
		}

		if len(rows) >= r.maxRows {
			// Capped batch: re-call with the cursor advanced to the last
			// row's timestamp until the batch comes back short.
			last := r.lastRowCursor(table, rows)
			if last != "" && CursorAfter(last, cursor) {
				r.advance(table, last)
				if err := r.pullGroup(ctx, last, []string{table}); err != nil {
					return err
				}
				continue
			}
		}
		r.advance(table, resp.LastSyncTimestamp)
	}
	return nil
}

// lastRowCursor extracts the capped batch's last row timestamp in cursor
// form. Rows arrive ordered by the table's timestamp column.
func (r *Reconciler) lastRowCursor(table string, rows []database.Row) string {
	rule, ok := r.rules[table]
	if !ok || len(rows) == 0 {
		return ""
	}
	column := rule.TimestampColumn
	if i := strings.LastIndexByte(column, '.'); i >= 0 {
		column = column[i+1:]
	}
	ts, ok := rows[len(rows)-1][column].(time.Time)
	if !ok {
		return ""
	}
	return FormatCursor(ts)
}

// advance moves a cursor forward, never backward.
func (r *Reconciler) advance(table, cursor string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.cursors[table]; !ok || CursorAfter(cursor, current) {
		r.cursors[table] = cursor
	}
}
