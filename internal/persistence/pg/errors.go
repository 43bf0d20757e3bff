package pg

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sadroad/convex-pg/internal/persistence"
)

// errNoRows is pgx's sentinel for a query that matched no rows.
var errNoRows = pgx.ErrNoRows

// errReadOnlyRefusal wraps persistence.ErrReadOnly with the sentinel
// errors.Is chains in this package rely on; kept local so callers inside
// pg don't need to repeat the persistence import for a one-line wrap.
var errReadOnlyRefusal = fmt.Errorf("construction refused: %w", persistence.ErrReadOnly)

// wrapLeaseLost wraps persistence.ErrLeaseLost with a caller-supplied
// detail, matching the teacher's wrapLockError shape: the sentinel stays
// matchable via errors.Is while the message carries the instance detail.
func wrapLeaseLost(detail string) error {
	return fmt.Errorf("%s: %w", detail, persistence.ErrLeaseLost)
}

// isNoRows reports whether err is pgx's no-rows sentinel, checked the
// way callers throughout this package treat a missing singleton/global
// row as a non-error zero value.
func isNoRows(err error) bool {
	return errors.Is(err, errNoRows)
}
