// Package tools provides the builtin tools served by the tool gateway.
//
// Each tool belongs to a category so its timeout can be tuned in config:
//
//   - notes: set_note, get_note, list_notes (SQLite, scoped per agent)
//   - search: web_search (provider picked from SearchProviders at startup)
//   - fetch: http_fetch (GET with a body size limit)
//   - instructions: get_instructions (served from an instruction.Source)
package tools
