// Package storage persists archived log records.
//
// Two drivers are available:
//   - "file": append-only JSON Lines
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
package storage
