package sync

import (
	"regexp"
	"time"

	apperrors "github.com/clinicware/syncd/internal/errors"
)

// CursorLayout is the strict timestamp grammar for sync cursors.
const CursorLayout = "2006-01-02 15:04:05"

// ZeroCursor is the cold-start cursor that matches every row.
const ZeroCursor = "1970-01-01 00:00:00"

var cursorPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)

// ParseCursor validates a cursor before it touches storage. Malformed input
// is a client error, never a query.
func ParseCursor(s string) (time.Time, error) {
	if !cursorPattern.MatchString(s) {
		return time.Time{}, apperrors.ValidationError("invalid cursor format, expected YYYY-MM-DD HH:MM:SS").
			WithContext("since", s)
	}
	t, err := time.ParseInLocation(CursorLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, apperrors.ValidationError("invalid cursor value").
			WithContext("since", s)
	}
	return t, nil
}

// FormatCursor renders t in the cursor grammar.
func FormatCursor(t time.Time) string {
	return t.UTC().Format(CursorLayout)
}

// CursorAfter reports whether cursor a is strictly later than b. Both must
// already be validated.
func CursorAfter(a, b string) bool {
	ta, errA := time.ParseInLocation(CursorLayout, a, time.UTC)
	tb, errB := time.ParseInLocation(CursorLayout, b, time.UTC)
	if errA != nil || errB != nil {
		return false
	}
	return ta.After(tb)
}
