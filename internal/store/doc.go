// Package store provides persistent storage for relaydesk using SQLite.
//
// # Architecture
//
// Two interfaces split the surface:
//
//   - Store: session and message persistence with the state machine
//     (waiting -> active -> closed) enforced at this boundary
//   - Directory: durable user and agent identity records plus the
//     assignment candidate pool
//
// SQLiteStore implements both in a single struct so they share one database
// while callers depend only on the interface they need.
//
// # Invariants
//
// Session status transitions are guarded by conditional updates, so concurrent
// assigns or closes cannot produce a lost update. Appends and closes on the
// same session are serialized by a per-session mutex: the closed-session check and the
// insert happen inside one critical section, and message ordering within a
// session (timestamp, then insertion id) is stable. A partial unique index
// keeps each user to at most one open session.
//
// User and agent chat identifiers share one id space; inserts into either
// table check both.
package store
