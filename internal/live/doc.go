// Package live carries real-time events to connected agent portals.
//
// # Wire Protocol
//
// Agents connect to /ws/agent with a bearer token. Inbound frames are
// commands:
//
//	{"type": "send", "session_id": 7, "body": "hello"}
//	{"type": "close", "session_id": 7}
//
// Outbound frames are events: message, session_waiting, session_assigned,
// session_closed. Each command gets an ack frame with the routing outcome
// or an error string.
//
// # Fan-out
//
// The Broadcaster is an in-process pub/sub hub. Targeted events go through
// the presence registry straight to the assigned agent's connection; lobby
// events (new waiting sessions, closures) are published on the shared lobby
// topic every portal subscribes to. Subscribers that fall behind drop
// events rather than block publishers.
//
// PortalNotifier bridges the router and assignment engine onto both paths.
package live
