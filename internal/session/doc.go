// Package session keeps a backend session alive for each turn without the
// caller having to know sessions exist.
//
// # Lifecycle
//
//	Absent ──create──▶ Active ──backend says not found──▶ Lost ──create──▶ Active(new)
//
// Manager.EnsureAndRun drives this state machine for a single request:
//
//  1. No session id: create one, run the turn.
//  2. Session id given: run the turn against it.
//  3. Not found: create one replacement and run the turn once more.
//  4. Not found again: fail with ErrSessionLost and backend.ErrUnavailable.
//
// Recovery is bounded to one extra attempt so a dead backend surfaces as an
// error rather than a hang. The Result always carries the session id used by
// the last attempt; callers must store it.
//
// # Statelessness
//
// The manager holds no session table. Two concurrent requests for the same
// agent and user that both omit a session id will create two sessions; there
// is no cross-request locking.
//
// # Identifiers
//
// ULIDGenerator mints ids from a millisecond timestamp and an 80-bit
// monotonic random component, so ids minted in the same millisecond differ
// and sort in creation order.
package session
