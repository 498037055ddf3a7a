// ABOUTME: HTTP API handlers for the agent portal
// ABOUTME: Session listing, message history, claims, closes, and sends

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relaydesk/relaydesk/internal/auth"
	"github.com/relaydesk/relaydesk/internal/live"
	"github.com/relaydesk/relaydesk/internal/store"
)

// AgentView is the JSON shape of an agent in API responses.
// Credential material never leaves the store.
type AgentView struct {
	ID          int64      `json:"id"`
	ChatID      string     `json:"chat_id"`
	DisplayName string     `json:"display_name"`
	Role        string     `json:"role"`
	Available   bool       `json:"available"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
}

// SendMessageRequest is the body of POST /api/sessions/{id}/messages
type SendMessageRequest struct {
	Body string `json:"body"`
}

// SendMessageResponse reports the routing outcome
type SendMessageResponse struct {
	Outcome string            `json:"outcome"`
	Message *live.MessageView `json:"message,omitempty"`
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("encoding response failed", "error", err)
	}
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

// storeError maps store and auth errors to HTTP responses
func (g *Gateway) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrInvalidState):
		g.sendJSONError(w, http.StatusConflict, "session not in a valid state")
	case errors.Is(err, store.ErrConflict):
		g.sendJSONError(w, http.StatusConflict, "conflict")
	case errors.Is(err, auth.ErrForbidden):
		g.sendJSONError(w, http.StatusForbidden, "forbidden")
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func sessionIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// handleListSessions returns sessions, optionally filtered by status and agent
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter := store.SessionFilter{}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := store.SessionStatus(statusStr)
		if status != store.StatusWaiting && status != store.StatusActive && status != store.StatusClosed {
			g.sendJSONError(w, http.StatusBadRequest, "unknown status")
			return
		}
		filter.Status = status
	}

	if agentStr := r.URL.Query().Get("agent_id"); agentStr != "" {
		agentID, err := strconv.ParseInt(agentStr, 10, 64)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid agent_id")
			return
		}
		filter.AgentID = agentID
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	sessions, err := g.store.ListSessions(r.Context(), filter)
	if err != nil {
		g.storeError(w, err)
		return
	}

	views := make([]*live.SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, live.NewSessionView(s))
	}
	g.writeJSON(w, http.StatusOK, views)
}

// handleListMessages returns a session's transcript, optionally only messages
// newer than the "after" timestamp (RFC 3339) for incremental polling.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var after time.Time
	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		after, err = time.Parse(time.RFC3339Nano, afterStr)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid after timestamp")
			return
		}
	}

	messages, err := g.store.ListMessages(r.Context(), sessionID, after)
	if err != nil {
		g.storeError(w, err)
		return
	}

	views := make([]*live.MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, live.NewMessageView(m))
	}
	g.writeJSON(w, http.StatusOK, views)
}

// handleClaimSession assigns a waiting session to the calling agent
func (g *Gateway) handleClaimSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	identity := auth.MustFromContext(r.Context())
	session, err := g.engine.Claim(r.Context(), identity, sessionID)
	if err != nil {
		g.storeError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, live.NewSessionView(session))
}

// handleCloseSession ends an active session
func (g *Gateway) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	identity := auth.MustFromContext(r.Context())
	session, err := g.router.CloseSession(r.Context(), identity, sessionID)
	if err != nil {
		g.storeError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, live.NewSessionView(session))
}

// handleSendMessage routes an agent message into a session over plain HTTP.
// The websocket path is preferred; this exists for simple integrations.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Body == "" {
		g.sendJSONError(w, http.StatusBadRequest, "body is required")
		return
	}

	identity := auth.MustFromContext(r.Context())
	result, err := g.router.RouteFromAgent(r.Context(), identity, sessionID, req.Body)
	if err != nil {
		g.storeError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, SendMessageResponse{
		Outcome: string(result.Outcome),
		Message: live.NewMessageView(result.Message),
	})
}

// handleListAgents returns the agent directory (super_admin only)
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := g.store.ListAgents(r.Context())
	if err != nil {
		g.storeError(w, err)
		return
	}

	views := make([]*AgentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, &AgentView{
			ID:          a.ID,
			ChatID:      a.ChatID,
			DisplayName: a.DisplayName,
			Role:        string(a.Role),
			Available:   a.Available,
			Active:      a.Active,
			CreatedAt:   a.CreatedAt,
			LastLogin:   a.LastLogin,
		})
	}
	g.writeJSON(w, http.StatusOK, views)
}
