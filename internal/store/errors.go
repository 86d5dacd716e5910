package store

import (
	"errors"

	"modernc.org/sqlite"
)

// SQLite result codes relevant to constraint detection. sqliteConstraint is the primary result code shared by every
// CHECK/FK/UNIQUE/NOT NULL violation; sqliteConstraintUnique, sqliteConstraintPrimaryKey and
// sqliteConstraintForeignKey are the more specific extended codes layered on top of it.
const (
	sqliteConstraint          = 19
	sqliteConstraintUnique    = 2067
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintForeignKey = 787
)

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint violation.
func IsUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqliteConstraintUnique || code == sqliteConstraintPrimaryKey || code == sqliteConstraint
}

// IsForeignKeyViolation reports whether err is a FOREIGN KEY constraint violation.
func IsForeignKeyViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqliteConstraintForeignKey
}
