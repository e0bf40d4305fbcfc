// Package toolgate executes tool calls made by agents during a turn.
//
// # Contract
//
// Execute never returns an error and never lets a panic escape. Every call
// ends in exactly one Outcome with Status success, error, or timeout:
//
//	Pending ──▶ Success | Error | Timeout
//
// There are no retries; retry policy belongs to the caller.
//
// ExecuteBatch runs calls concurrently, bounded by MaxConcurrency, and
// returns a slice with the same length and order as its input. Each worker
// writes only its own slot, so a failure in one call cannot drop, duplicate,
// or reorder the outcome of another.
//
// # Timeouts
//
// Each call runs its handler in a goroutine raced against a context
// deadline. The deadline comes from the tool's category (Config.Timeouts),
// falling back to DefaultTimeout. When the deadline wins the handler's
// context is cancelled and its eventual result is discarded.
//
// # Schemas
//
// NewTool reflects a JSON Schema from a Go argument struct. Schemas are
// compiled at registration, and arguments are validated before the handler
// runs, so handlers only ever see well-formed input.
package toolgate
