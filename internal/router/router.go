// ABOUTME: Message router persisting chat traffic and fanning it out to live parties
// ABOUTME: Persist-first: a message is stored before any delivery attempt

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/relaydesk/relaydesk/internal/auth"
	"github.com/relaydesk/relaydesk/internal/store"
)

// Outcome describes what happened to a routed message
type Outcome string

const (
	// OutcomeDelivered: persisted and pushed to the counterpart live
	OutcomeDelivered Outcome = "delivered"
	// OutcomeStored: persisted; the counterpart was not reachable
	OutcomeStored Outcome = "stored"
	// OutcomeNoSession: the user has no open session
	OutcomeNoSession Outcome = "no_session"
	// OutcomeSessionClosed: the session closed before the message landed
	OutcomeSessionClosed Outcome = "session_closed"
)

// RouteResult carries the outcome plus the touched records
type RouteResult struct {
	Outcome Outcome
	Session *store.Session
	Message *store.Message
}

// MessageStore is the slice of the store the router needs
type MessageStore interface {
	FindActiveSessionForUser(ctx context.Context, userID int64) (*store.Session, error)
	GetSession(ctx context.Context, sessionID int64) (*store.Session, error)
	AppendMessage(ctx context.Context, sessionID int64, fromAgent bool, body string) (*store.Message, error)
	CloseSession(ctx context.Context, sessionID int64) (*store.Session, error)
}

// UserNotifier pushes events back to the user's transport. Best-effort:
// the return value reports delivery, never rolls back persistence.
type UserNotifier interface {
	NotifyUser(ctx context.Context, session *store.Session, msg *store.Message) bool
	NotifyUserClosed(ctx context.Context, session *store.Session)
}

// AgentNotifier pushes events to agent portal connections. Messages on a
// waiting session go to the lobby so any agent can see them.
type AgentNotifier interface {
	NotifyAgent(ctx context.Context, agentID int64, session *store.Session, msg *store.Message) bool
	NotifyLobby(ctx context.Context, session *store.Session, msg *store.Message)
	NotifyClosed(ctx context.Context, session *store.Session)
}

// Router moves messages between users and agents through the store
type Router struct {
	messages MessageStore
	users    UserNotifier
	agents   AgentNotifier
	authz    auth.Authorizer
	logger   *slog.Logger
}

// NewRouter creates a message router
func NewRouter(messages MessageStore, users UserNotifier, agents AgentNotifier, authz auth.Authorizer, logger *slog.Logger) *Router {
	return &Router{
		messages: messages,
		users:    users,
		agents:   agents,
		authz:    authz,
		logger:   logger.With("component", "router"),
	}
}

// RouteFromUser persists a user message into the user's open session and
// pushes it to the assigned agent, or to the lobby while the session waits.
// Returns OutcomeNoSession when the user has no open session; the caller
// decides whether to start one.
func (r *Router) RouteFromUser(ctx context.Context, userID int64, body string) (*RouteResult, error) {
	session, err := r.messages.FindActiveSessionForUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &RouteResult{Outcome: OutcomeNoSession}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding session for user %d: %w", userID, err)
	}

	msg, err := r.messages.AppendMessage(ctx, session.ID, false, body)
	if errors.Is(err, store.ErrInvalidState) {
		// Session closed between lookup and append
		return &RouteResult{Outcome: OutcomeSessionClosed, Session: session}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("appending user message: %w", err)
	}

	result := &RouteResult{Outcome: OutcomeStored, Session: session, Message: msg}
	if session.Status == store.StatusActive && session.AgentID != nil {
		if r.agents.NotifyAgent(ctx, *session.AgentID, session, msg) {
			result.Outcome = OutcomeDelivered
		}
	} else {
		r.agents.NotifyLobby(ctx, session, msg)
	}

	r.logger.Debug("routed user message",
		"session_id", session.ID, "message_id", msg.ID, "outcome", result.Outcome)
	return result, nil
}

// RouteFromAgent persists an agent message into the session and pushes it to
// the user. The caller must be the assigned agent or a super_admin.
func (r *Router) RouteFromAgent(ctx context.Context, id *auth.Identity, sessionID int64, body string) (*RouteResult, error) {
	session, err := r.messages.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := r.authz.Authorize(ctx, id, auth.ActionSendMessage, session); err != nil {
		return nil, err
	}

	msg, err := r.messages.AppendMessage(ctx, sessionID, true, body)
	if errors.Is(err, store.ErrInvalidState) {
		return &RouteResult{Outcome: OutcomeSessionClosed, Session: session}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("appending agent message: %w", err)
	}

	result := &RouteResult{Outcome: OutcomeStored, Session: session, Message: msg}
	if r.users.NotifyUser(ctx, session, msg) {
		result.Outcome = OutcomeDelivered
	}

	r.logger.Debug("routed agent message",
		"session_id", session.ID, "message_id", msg.ID, "agent_id", id.AgentID, "outcome", result.Outcome)
	return result, nil
}

// CloseSession transitions the session to closed and notifies both sides.
// The caller must be the assigned agent or a super_admin.
func (r *Router) CloseSession(ctx context.Context, id *auth.Identity, sessionID int64) (*store.Session, error) {
	session, err := r.messages.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := r.authz.Authorize(ctx, id, auth.ActionCloseSession, session); err != nil {
		return nil, err
	}

	closed, err := r.messages.CloseSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	r.logger.Info("session closed", "session_id", sessionID, "agent_id", id.AgentID)
	r.users.NotifyUserClosed(ctx, closed)
	r.agents.NotifyClosed(ctx, closed)
	return closed, nil
}
