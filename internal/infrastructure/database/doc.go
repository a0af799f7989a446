// Package database manages the core's SQLite state file.
//
// It wraps database/sql with the mattn/go-sqlite3 driver, applying WAL
// mode and busy-timeout pragmas, a single-writer pool configuration,
// and an embedded-migration runner. The persistence layer builds its
// snapshot repository on top of this package.
package database
