// Package stores provides the SQLite persistence layer of the management
// core. SQLiteStore implements engine.Persister for the resource model,
// journals notifications through NotificationSink and keeps an audit trail
// of submitted operations. The schema is managed with embedded migrations;
// connections use WAL mode.
package stores
