// ABOUTME: Assignment engine pairing new conversations with available agents
// ABOUTME: Picks the least-loaded connected agent; unmatched sessions wait in the lobby

package assign

import (
	"context"
	"errors"
	"log/slog"

	"github.com/relaydesk/relaydesk/internal/auth"
	"github.com/relaydesk/relaydesk/internal/store"
)

// SessionStore is the slice of the store the engine needs
type SessionStore interface {
	CreateSession(ctx context.Context, userID int64) (*store.Session, error)
	AssignSession(ctx context.Context, sessionID, agentID int64) (*store.Session, error)
	GetSession(ctx context.Context, sessionID int64) (*store.Session, error)
}

// CandidateSource provides the durable pool of assignable agents
type CandidateSource interface {
	AvailableAgentCandidates(ctx context.Context) ([]store.AgentCandidate, error)
}

// Picker chooses an assignment target from the candidate pool. The presence
// registry implements this by filtering to connected agents.
type Picker interface {
	PickAvailableAgent(candidates []store.AgentCandidate) (int64, bool)
}

// Notifier receives assignment outcomes for live fan-out. Both calls are
// best-effort: delivery failure never rolls back the persisted state.
type Notifier interface {
	NotifyAssigned(ctx context.Context, session *store.Session)
	NotifyWaiting(ctx context.Context, session *store.Session)
}

// StartResult reports what happened when a conversation was started
type StartResult struct {
	Session  *store.Session
	AgentID  int64
	Assigned bool
}

// Engine pairs incoming conversations with agents
type Engine struct {
	sessions   SessionStore
	candidates CandidateSource
	picker     Picker
	notifier   Notifier
	authz      auth.Authorizer
	logger     *slog.Logger
}

// NewEngine creates an assignment engine
func NewEngine(sessions SessionStore, candidates CandidateSource, picker Picker, notifier Notifier, authz auth.Authorizer, logger *slog.Logger) *Engine {
	return &Engine{
		sessions:   sessions,
		candidates: candidates,
		picker:     picker,
		notifier:   notifier,
		authz:      authz,
		logger:     logger.With("component", "assign"),
	}
}

// StartConversation opens a session for the user and tries to assign it
// immediately. When no connected agent is available the session stays in
// waiting and the lobby is notified instead; that is a normal outcome, not
// an error. Returns store.ErrConflict if the user already has an open session.
func (e *Engine) StartConversation(ctx context.Context, userID int64) (*StartResult, error) {
	session, err := e.sessions.CreateSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	candidates, err := e.candidates.AvailableAgentCandidates(ctx)
	if err != nil {
		// The session exists and is waiting; surface it so the caller can
		// still route the first message.
		e.logger.Error("loading agent candidates failed", "session_id", session.ID, "error", err)
		e.notifier.NotifyWaiting(ctx, session)
		return &StartResult{Session: session}, nil
	}

	agentID, ok := e.picker.PickAvailableAgent(candidates)
	if !ok {
		e.logger.Info("no agent available, session waiting", "session_id", session.ID, "user_id", userID)
		e.notifier.NotifyWaiting(ctx, session)
		return &StartResult{Session: session}, nil
	}

	assigned, err := e.sessions.AssignSession(ctx, session.ID, agentID)
	if err != nil {
		// Lost a race (agent deactivated, session already taken). The
		// session is still open; leave it waiting.
		e.logger.Warn("auto-assignment failed, session waiting",
			"session_id", session.ID, "agent_id", agentID, "error", err)
		e.notifier.NotifyWaiting(ctx, session)
		return &StartResult{Session: session}, nil
	}

	e.logger.Info("session assigned", "session_id", assigned.ID, "agent_id", agentID, "user_id", userID)
	e.notifier.NotifyAssigned(ctx, assigned)
	return &StartResult{Session: assigned, AgentID: agentID, Assigned: true}, nil
}

// Claim assigns a waiting session to the requesting agent. Unlike automatic
// assignment the agent does not need a live connection, only an available and
// active directory record.
func (e *Engine) Claim(ctx context.Context, id *auth.Identity, sessionID int64) (*store.Session, error) {
	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := e.authz.Authorize(ctx, id, auth.ActionClaimSession, session); err != nil {
		return nil, err
	}

	assigned, err := e.sessions.AssignSession(ctx, sessionID, id.AgentID)
	if err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			e.logger.Info("claim lost race", "session_id", sessionID, "agent_id", id.AgentID)
		}
		return nil, err
	}

	e.logger.Info("session claimed", "session_id", sessionID, "agent_id", id.AgentID)
	e.notifier.NotifyAssigned(ctx, assigned)
	return assigned, nil
}
