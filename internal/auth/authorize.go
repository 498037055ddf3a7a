// ABOUTME: Action-level authorization for session operations
// ABOUTME: Assigned agent or super_admin may act on a session; claiming requires availability

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/relaydesk/relaydesk/internal/store"
)

// ErrForbidden indicates the agent is not allowed to perform the action
var ErrForbidden = errors.New("forbidden")

// Action identifies an operation subject to authorization
type Action string

const (
	ActionSendMessage  Action = "send_message"
	ActionCloseSession Action = "close_session"
	ActionClaimSession Action = "claim_session"
)

// Authorizer decides whether an authenticated agent may perform an action
// on a session.
type Authorizer interface {
	Authorize(ctx context.Context, id *Identity, action Action, session *store.Session) error
}

// RoleAuthorizer implements Authorizer against the agent directory.
//
// Send and close are allowed for the agent assigned to the session, or any
// super_admin. Claiming requires the agent to be active and marked available.
type RoleAuthorizer struct {
	directory DirectoryChecker
}

// NewRoleAuthorizer creates an authorizer backed by the given directory
func NewRoleAuthorizer(directory DirectoryChecker) *RoleAuthorizer {
	return &RoleAuthorizer{directory: directory}
}

// Authorize implements Authorizer
func (a *RoleAuthorizer) Authorize(ctx context.Context, id *Identity, action Action, session *store.Session) error {
	if id == nil {
		return ErrForbidden
	}

	switch action {
	case ActionSendMessage, ActionCloseSession:
		if id.IsSuperAdmin() {
			return nil
		}
		if session == nil || session.AgentID == nil || *session.AgentID != id.AgentID {
			return fmt.Errorf("%w: session not assigned to agent", ErrForbidden)
		}
		return nil

	case ActionClaimSession:
		agent, err := a.directory.GetAgent(ctx, id.AgentID)
		if err != nil {
			return err
		}
		if !agent.Active || !agent.Available {
			return fmt.Errorf("%w: agent not available", ErrForbidden)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown action %q", ErrForbidden, action)
	}
}

var _ Authorizer = (*RoleAuthorizer)(nil)
