package data

import (
	"errors"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDuplicate marks a write rejected because the row already exists.
// Callers treat it as "already recorded" and continue; it makes retrying a
// partially persisted request safe.
var ErrDuplicate = errors.New("row already recorded")

// ErrNotFound marks a lookup that matched no row.
var ErrNotFound = errors.New("not found")

// classifyConstraint maps driver-specific constraint violations to
// engine-independent error kinds. Unique, primary-key, and foreign-key
// violations all indicate a row that was already written (or a retry racing
// its own earlier write) and collapse to ErrDuplicate; anything else is
// returned unchanged.
func classifyConstraint(err error) error {
	if err == nil {
		return nil
	}

	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}

	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE,
		sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
		sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY,
		sqlite3.SQLITE_CONSTRAINT:
		return ErrDuplicate
	}
	return err
}
