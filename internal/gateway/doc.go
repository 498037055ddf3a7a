// Package gateway orchestrates the relaydesk server components.
//
// # Overview
//
// The Gateway owns the store, presence registry, broadcaster, router,
// assignment engine, HTTP server, and (when enabled) the bot adapter. New
// wires them together; Run serves until the context is canceled, then
// shuts down gracefully.
//
// # HTTP API
//
//   - GET  /health                      - liveness
//   - GET  /health/ready                - 503 until an agent is connected
//   - GET  /ws/agent                    - agent portal websocket
//   - GET  /api/sessions                - list sessions (status/agent_id/limit filters)
//   - GET  /api/sessions/{id}/messages  - transcript, incremental via ?after=
//   - POST /api/sessions/{id}/claim     - claim a waiting session
//   - POST /api/sessions/{id}/close     - close an active session
//   - POST /api/sessions/{id}/messages  - send into a session over plain HTTP
//   - GET  /api/agents                  - agent directory (super_admin only)
//
// Everything under /api requires a valid agent token. The websocket
// authenticates inside its handler so the token can arrive as a query
// parameter.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx)
//
// Run returns nil on graceful shutdown. Shutdown stops the HTTP server,
// closes the broadcaster and all agent connections, and closes the store.
package gateway
