// Package stores provides the persistence layer for IdLE run history.
// It includes SQLite-based storage with WAL mode, connection pooling,
// embedded schema migrations, and CRUD operations for runs, timeline
// events, and audit entries, plus an engine.EventSink adapter that
// records events as they are emitted.
package stores
