// Package store provides persistent storage for the periscope backend
// using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with small
// capability interfaces:
//
//   - EventLog: append-only webhook events with (source, delivery_id)
//     replay protection
//   - NotificationStore: notification rows, dedupe-window queries, read
//     marking
//   - SubscriptionStore: push endpoints, repo subscriptions, installation
//     connections
//   - AgentTaskStore: delegated agent-task lifecycle rows
//   - RepoPolicyStore: per-(user, repo) write gates
//
// SQLiteStore implements all interfaces in a single struct; MemoryStore
// mirrors it for unit tests. Services depend only on the narrow
// interfaces they need.
//
// # SQLite Configuration
//
// WAL mode with foreign keys enabled:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// DB_PATH=":memory:" runs fully in memory (test mode).
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateDelivery: webhook (source, delivery_id) already present
//
// All methods accept context.Context for cancellation support. Timestamps
// are stored as UTC text with millisecond precision.
package store
