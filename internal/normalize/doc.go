// Package normalize reduces backend event logs to what chat clients need.
//
// FinalAnswer picks the reply to a turn: the last text part of the last
// assistant event. A log with no such text yields the NoAnswer sentinel
// rather than an error. History flattens a session log into ordered
// user/assistant turns and is safe to apply repeatedly.
//
// Both functions are pure and never panic on malformed events.
package normalize
