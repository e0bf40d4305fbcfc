// Package gateway orchestrates the relay-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the relay-gateway server.
// It owns the agent registry, the session manager, the backend client, the
// tool gateway, the data store, and the HTTP and gRPC listeners that expose
// them.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config     *config.Config
//	    agents     *agent.Registry
//	    backend    backend.Backend
//	    sessions   *session.Manager
//	    tools      *toolgate.Gateway
//	    store      store.Store
//	    grpcServer *grpc.Server
//	    httpServer *http.Server
//	    mcpServer  *mcp.Server
//	    // ... and more
//	}
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - POST /api/turn - Run one turn against an agent
//   - GET|POST /api/history - Read a session back as user/assistant turns
//   - GET /api/agents - List registered agents
//   - GET /api/tools - List registered tools
//   - POST /api/tools/execute - Execute a batch of tool calls
//   - GET /api/ws - Websocket carrying turn frames
//   - POST /mcp - MCP streamable HTTP endpoint for the same tools
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check
//
// A turn request omits session_id to start a conversation. The response
// always carries the session_id to send next, which differs from the one
// sent when the backend had lost the session and a replacement was made:
//
//	POST /api/turn
//	{"agent_name": "planner", "user_id": "u1", "message": "hi"}
//
//	200 OK
//	{"response": "...", "session_id": "01J...", "agent_name": "planner", "status": "success"}
//
// Unknown agents return 404, malformed requests 400, and backend failures
// 502 with status "error" in the body. A message_id makes a turn idempotent:
// a completed turn is replayed, one still running returns 409.
//
// # gRPC Service
//
// The gRPC listener serves grpc.health.v1.Health. The empty service name
// reports overall health and each agent name is a service of its own. All
// of them switch to NOT_SERVING when shutdown begins.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(ctx, cfg, logger, version)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Run shuts down on its own once ctx is canceled.
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown
//   - turns.go: turn and history flows shared by every transport
//   - api.go: HTTP handlers and status mapping
//   - ws.go: websocket transport
//   - grpc.go: health service
//   - render.go: markdown rendering for html history
package gateway
