// Package storage persists the subscription set and an operator audit trail.
//
// Drivers:
//   - "file": JSON state file (atomic temp + rename) plus an append-only audit log
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
