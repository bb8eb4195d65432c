// Package storage persists capture jobs.
//
// Drivers:
//   - "sqlite":   modernc.org/sqlite, single writer, WAL
//   - "postgres": lib/pq, for deployments sharing the queue with other tools
//   - "file":     dependency-free JSON snapshot plus JSONL journal
//
// Every driver orders ListByStatus by id ascending; the scheduler relies
// on that for first-come admission.
package storage
