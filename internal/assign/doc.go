// Package assign opens conversations and matches them with agents.
//
// # Engine
//
// StartConversation creates a session for a user and tries to hand it to a
// connected, available agent in one pass:
//
//  1. Create the session (a user with an open session gets ErrConflict)
//  2. Load availability candidates from the directory
//  3. Pick the least-loaded connected candidate
//  4. Assign with a compare-and-set on the waiting status
//
// Every failure after step 1 degrades to a waiting session rather than an
// error: the conversation exists either way, and an agent can claim it later.
//
// Claim is the manual path: an agent takes a waiting session through the
// same CAS assign, guarded by the authorizer.
package assign
