package sync

// ScopeRule is the authoritative branch-scoping rule for one table. Making it
// explicit configuration (rather than inferring a column per table as needed)
// keeps the per-table rules testable and reviewable in one place.
type ScopeRule struct {
	// Column is the branch-id column, possibly qualified ("r.branch_id")
	// when Join is set. Empty means the table is global.
	Column string
	// Join is a static join clause for tables scoped through another
	// entity rather than a direct column. Server configuration only; never
	// caller input.
	Join string
}

// Global reports whether rows of this table carry no branch identifier.
func (s ScopeRule) Global() bool {
	return s.Column == ""
}

// TableRule describes one syncable table: its change-timestamp column and how
// its rows map to a branch.
type TableRule struct {
	TimestampColumn string
	Scope           ScopeRule
}

// DefaultAllowlist is the static set of tables eligible for pull-sync. A
// request naming any other table gets an empty result, not an error. Global
// reference tables (branch, lookup data) are returned unfiltered only when
// explicitly requested by name, never by a default sync, so an unscoped
// default cannot leak cross-branch data.
var DefaultAllowlist = map[string]TableRule{
	"registration": {
		TimestampColumn: "updated_at",
		Scope:           ScopeRule{Column: "branch_id"},
	},
	"test": {
		TimestampColumn: "test.updated_at",
		Scope: ScopeRule{
			Column: "r.branch_id",
			Join:   "JOIN registration r ON r.id = test.registration_id",
		},
	},
	"patient": {
		TimestampColumn: "updated_at",
		Scope:           ScopeRule{Column: "branch_id"},
	},
	"inquiry": {
		TimestampColumn: "updated_at",
		Scope:           ScopeRule{Column: "branch_id"},
	},
	"payment": {
		TimestampColumn: "payment.created_at",
		Scope: ScopeRule{
			Column: "r.branch_id",
			Join:   "JOIN registration r ON r.id = payment.registration_id",
		},
	},
	"approval": {
		TimestampColumn: "updated_at",
		Scope:           ScopeRule{Column: "branch_id"},
	},
	"notification": {
		TimestampColumn: "created_at",
		Scope:           ScopeRule{Column: "branch_id"},
	},
	"schedule": {
		TimestampColumn: "updated_at",
		Scope:           ScopeRule{Column: "branch_id"},
	},
	"employee": {
		TimestampColumn: "updated_at",
		Scope:           ScopeRule{Column: "branch_id"},
	},
	"branch": {
		TimestampColumn: "updated_at",
		Scope:           ScopeRule{},
	},
}
