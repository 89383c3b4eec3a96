// Package storage persists schedule definitions so the trigger set survives restarts.
//
// Drivers:
//   - "sqlite": embedded SQLite database file (default)
//   - "postgres": PostgreSQL via pgx connection pool
//   - "file": dependency-free JSON snapshot file
package storage
