// Package backend is the client side of the stateful agent backend.
//
// # Overview
//
// The backend owns sessions and runs agent turns. It speaks an ADK-style
// REST protocol:
//
//	POST /apps/{agent}/users/{user}/sessions/{id}   create a session
//	POST /run                                       run one user turn
//	GET  /apps/{agent}/users/{user}/sessions/{id}   fetch a session and its events
//
// Turn and fetch responses are event logs. Each Event carries a
// genai.Content whose parts may be text, function calls, function
// responses, or other structured data.
//
// # Errors
//
// Every method separates two failure classes:
//
//   - ErrSessionNotFound: the backend has no such session. This is the
//     signal the session manager uses to recover.
//   - ErrUnavailable: anything else, reported as *Error with the operation
//     name and HTTP status.
//
// A 404 is always not-found. Other error statuses count as not-found only
// when the body mentions "session not found", because some backends raise
// a server error for a missing session during a run.
//
// # Timeouts
//
// Each operation has its own deadline, applied on top of the caller's
// context:
//
//	create   10s   pure write
//	turn     90s   model inference
//	history  30s
//
// # Testing
//
// Package backendtest provides an in-memory fake backend that can forget
// sessions and inject failures. It is also served by cmd/fake-backend for
// manual end-to-end runs.
package backend
