// Package router is the single ingress for chat messages in both directions.
//
// # Persist First
//
// Every message is appended to the session transcript before any delivery is
// attempted. Delivery is best effort: a failed push downgrades the outcome
// from delivered to stored, it never fails the request or loses the message.
// The transcript is the source of truth.
//
// # Directions
//
//   - RouteFromUser: find the user's open session, append, push to the
//     assigned agent or the lobby. Reports no-session when the user has
//     none and session-closed when a message races a close.
//   - RouteFromAgent: authorize, append, push to the user's transport.
//
// CloseSession also lives here so the closed event reaches both sides
// through the same notifiers the message paths use.
package router
