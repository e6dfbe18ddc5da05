package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// identifierPattern is the only grammar accepted for table and column names.
// Everything else in a query is bound as a parameter.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdentifier reports whether s is a safe SQL identifier.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// Filter is one predicate on a validated column. Op must be a member of the
// fixed comparison set; Value is always bound as a parameter.
type Filter struct {
	Column string
	Op     string
	Value  any
}

var allowedOps = map[string]struct{}{
	"=": {}, "<": {}, ">": {}, "<=": {}, ">=": {}, "<>": {},
}

// Query describes one bounded row fetch. Join is reserved for clauses that
// come from static server configuration, never from callers.
type Query struct {
	Table    string
	Columns  []string
	Join     string
	Filters  []Filter
	OrderBy  string
	Limit    int
	Offset   int
}

// Row is a generic result row keyed by column name.
type Row map[string]any

// Fetcher is the storage capability consumed by the sync service.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) ([]Row, error)
}

// PoolFetcher implements Fetcher on a pgx pool.
type PoolFetcher struct {
	pool *pgxpool.Pool
}

func NewPoolFetcher(pool *pgxpool.Pool) *PoolFetcher {
	return &PoolFetcher{pool: pool}
}

func (f *PoolFetcher) Fetch(ctx context.Context, q Query) ([]Row, error) {
	sql, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := f.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var result []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Table, err)
		}
		row := make(Row, len(fields))
		for i, field := range fields {
			row[field.Name] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", q.Table, err)
	}
	return result, nil
}

// buildQuery renders a parameterized statement. Identifiers are validated
// against the identifier grammar; values never touch the SQL text.
func buildQuery(q Query) (string, []any, error) {
	if !ValidIdentifier(q.Table) {
		return "", nil, fmt.Errorf("invalid table identifier %q", q.Table)
	}

	cols := "*"
	if len(q.Columns) > 0 {
		for _, c := range q.Columns {
			if !validSelectRef(c) {
				return "", nil, fmt.Errorf("invalid column identifier %q", c)
			}
		}
		cols = strings.Join(q.Columns, ", ")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", cols, q.Table)
	if q.Join != "" {
		sb.WriteString(" ")
		sb.WriteString(q.Join)
	}

	var args []any
	if len(q.Filters) > 0 {
		sb.WriteString(" WHERE ")
		for i, f := range q.Filters {
			if !validColumnRef(f.Column) {
				return "", nil, fmt.Errorf("invalid column identifier %q", f.Column)
			}
			if _, ok := allowedOps[f.Op]; !ok {
				return "", nil, fmt.Errorf("unsupported operator %q", f.Op)
			}
			if i > 0 {
				sb.WriteString(" AND ")
			}
			args = append(args, f.Value)
			fmt.Fprintf(&sb, "%s %s $%d", f.Column, f.Op, len(args))
		}
	}

	if q.OrderBy != "" {
		if !validColumnRef(q.OrderBy) {
			return "", nil, fmt.Errorf("invalid order-by identifier %q", q.OrderBy)
		}
		fmt.Fprintf(&sb, " ORDER BY %s", q.OrderBy)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", q.Offset)
	}

	return sb.String(), args, nil
}

// validColumnRef accepts "col" and the qualified "tbl.col" form used by
// joined scoping rules.
func validColumnRef(ref string) bool {
	table, col, qualified := strings.Cut(ref, ".")
	if !qualified {
		return ValidIdentifier(ref)
	}
	return ValidIdentifier(table) && ValidIdentifier(col)
}

// validSelectRef additionally accepts the qualified star ("tbl.*") so a
// joined select can be limited to the target table's columns. The star form
// is select-list only; filters and order-by stay on validColumnRef.
func validSelectRef(ref string) bool {
	if table, col, qualified := strings.Cut(ref, "."); qualified && col == "*" {
		return ValidIdentifier(table)
	}
	return validColumnRef(ref)
}
