// Package presence tracks which support agents hold a live portal connection.
//
// # Registry
//
// The Registry maps agent IDs to connection handles:
//
//	registry := presence.NewRegistry(logger, sendTimeout)
//	connID := registry.Register(agentID, handle)
//	defer registry.UnregisterConn(agentID, connID)
//
// Registration is last-writer-wins: a reconnecting agent replaces its old
// handle and the replaced connection is closed. UnregisterConn only removes
// the handle when the connection ID still matches, so a stale connection's
// deferred cleanup cannot evict a newer one.
//
// # Delivery
//
// SendTo pushes a payload to a connected agent with a bounded timeout.
// A failed send unregisters the connection and reports the agent as not
// connected; callers fall back to stored-only delivery.
//
// # Agent Picking
//
// PickAvailableAgent intersects directory candidates with connected agents
// and orders by fewest active sessions, then earliest registration, then
// lowest ID. Only connected agents are ever picked.
package presence
