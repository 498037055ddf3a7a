// Package auth provides authentication and authorization for relaydesk.
//
// # Authentication
//
// Agents authenticate with JWT bearer tokens signed with HS256 using the
// configured jwt_secret. Tokens carry the agent ID as the subject and a
// role claim (agent or super_admin):
//
//	verifier := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate(agentID, role, ttl)
//	agentID, role, err := verifier.Verify(token)
//
// HTTP requests present the token in the Authorization header; websocket
// upgrades may pass it as a "token" query parameter instead, since browsers
// cannot set headers on websocket connections.
//
// # Identity
//
// HTTPAuthMiddleware verifies the token, checks the agent is still active,
// and attaches an Identity to the request context. Handlers read it back
// with FromContext or MustFromContext.
//
// # Authorization
//
// The Authorizer decides whether an identity may act on a session:
//
//   - ActionSendMessage, ActionCloseSession: the assigned agent or a
//     super_admin
//   - ActionClaimSession: any active, available agent
//
// RoleAuthorizer is the production implementation; services accept the
// interface so tests can substitute their own.
package auth
