// Package agent holds the registry of agents the gateway can route to.
//
// # Overview
//
// An agent is a named conversational capability served by an ADK-style
// backend. The registry maps each name to the base URL of the backend that
// hosts it. It is built once at startup from the agents section of the
// configuration and never changes for the life of the process; picking up a
// new agent list means restarting the gateway.
//
// # Registry
//
//	reg, err := agent.NewRegistry(cfg.Agents)
//	d, err := reg.Resolve("support")
//	if errors.Is(err, agent.ErrAgentNotFound) {
//	    // client error, respond 404
//	}
//
// Key operations:
//
//   - Resolve(name): endpoint lookup, ErrAgentNotFound for unknown names
//   - List(): sorted snapshot for health and listing endpoints
//   - Len(): number of agents, used by readiness checks
//
// # Names
//
// Agent names are identifiers: a letter or underscore followed by letters,
// digits, underscore, dot or dash. The same name is used as the backend's
// app name in session URLs, so anything that could escape a path segment is
// rejected at construction and at lookup.
package agent
