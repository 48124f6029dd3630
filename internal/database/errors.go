package database

import "errors"

var (
	// ErrDatabaseNotFound is returned by Open when the database file is
	// missing and may not be created.
	ErrDatabaseNotFound = errors.New("database not found")

	// ErrMissingID is returned when a record without id is written.
	ErrMissingID = errors.New("business record has no id")
)
