package db

import (
	_ "modernc.org/sqlite"
)

const sqliteDriver = "sqlite"

// SQLiteDSN returns the driver DSN for path with foreign keys enforced.
// Cascading deletes of linked identities depend on it.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// NewSQLiteClient opens the SQLite database file at path.
func NewSQLiteClient(path string) (*SQLClient, error) {
	return NewSQLClient(sqliteDriver, SQLiteDSN(path))
}
