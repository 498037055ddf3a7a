// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds agent identity to context

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/relaydesk/relaydesk/internal/store"
)

// DirectoryChecker is the slice of the directory the middleware needs
type DirectoryChecker interface {
	GetAgent(ctx context.Context, id int64) (*store.Agent, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// TokenFromRequest pulls the bearer token out of the Authorization header,
// falling back to the "token" query parameter for websocket upgrades where
// browsers cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if token, errMsg := extractBearerToken(r.Header.Get("Authorization")); errMsg == "" {
		return token
	}
	return r.URL.Query().Get("token")
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates
// JWT tokens, confirms the agent record is still active, and attaches the
// Identity to the request context.
func HTTPAuthMiddleware(directory DirectoryChecker, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			agentID, role, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			agent, err := directory.GetAgent(r.Context(), agentID)
			if err != nil || !agent.Active {
				http.Error(w, `{"error":"agent not active"}`, http.StatusForbidden)
				return
			}

			id := &Identity{AgentID: agentID, Role: role}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireSuperAdminHTTP creates an HTTP middleware that requires the
// super_admin role. Must be used after HTTPAuthMiddleware.
func RequireSuperAdminHTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
				return
			}

			if !id.IsSuperAdmin() {
				http.Error(w, `{"error":"super_admin role required"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
