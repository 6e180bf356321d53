// Package database opens the PostgreSQL pool used by the event journal.
//
// The journal is optional; nothing here is touched unless journal.enabled
// is set in the config.
package database
