// Package stores provides the SQLite persistence layer for plan runs.
// It records runs and per-leaf results and keeps the host registry that
// plan scripts reference with "registry:<name>". Schema changes are applied
// with embedded golang-migrate migrations; the database runs in WAL mode.
package stores
