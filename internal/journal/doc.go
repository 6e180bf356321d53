// Package journal persists live issue events to PostgreSQL.
//
// Events arrive from the realtime manager's sinks through Record, which
// never blocks: they land in a growable in-memory queue and a Writer
// batch-inserts them into the issue_events table, flushing when a batch
// fills or on a fixed interval.
//
// Inserts are append-only and idempotent. Every event carries a key derived
// from the raw frame, so a frame replayed after a reconnect is stored once.
package journal
