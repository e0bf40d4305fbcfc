// Package store provides persistent storage for the gateway using SQLite.
//
// The gateway owns no conversation state; sessions live in the agent
// backends. What it does persist is small:
//
//   - Note: key-value notes written by the notes tool, scoped per agent
//   - Invocation: one audit row per tool call outcome
//
// NoteStore and InvocationStore are the two narrow interfaces consumers
// depend on. SQLiteStore implements both; MockStore is an in-memory
// implementation for tests.
//
// # SQLite Configuration
//
// File databases run in WAL mode with a busy timeout. The special path
// ":memory:" (MemoryPath) opens a private in-memory database on a single
// connection.
//
// # Errors
//
// ErrNotFound is returned when a note does not exist. All methods accept a
// context.Context for cancellation.
package store
