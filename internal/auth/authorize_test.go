// ABOUTME: Tests for action-level authorization
// ABOUTME: Covers assigned-agent checks, super_admin override, and claim availability

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/store"
)

// fakeDirectory implements DirectoryChecker with a fixed agent table
type fakeDirectory struct {
	agents map[int64]*store.Agent
}

func (f *fakeDirectory) GetAgent(_ context.Context, id int64) (*store.Agent, error) {
	agent, ok := f.agents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return agent, nil
}

func sessionAssignedTo(agentID int64) *store.Session {
	return &store.Session{ID: 1, UserID: 10, AgentID: &agentID, Status: store.StatusActive}
}

func TestAuthorize_SendAndClose(t *testing.T) {
	a := NewRoleAuthorizer(&fakeDirectory{})
	ctx := context.Background()

	assigned := sessionAssignedTo(5)
	waiting := &store.Session{ID: 2, UserID: 11, Status: store.StatusWaiting}

	for _, action := range []Action{ActionSendMessage, ActionCloseSession} {
		t.Run(string(action), func(t *testing.T) {
			// Assigned agent is allowed
			err := a.Authorize(ctx, &Identity{AgentID: 5, Role: store.RoleAgent}, action, assigned)
			assert.NoError(t, err)

			// A different agent is not
			err = a.Authorize(ctx, &Identity{AgentID: 6, Role: store.RoleAgent}, action, assigned)
			assert.ErrorIs(t, err, ErrForbidden)

			// Unassigned session blocks ordinary agents
			err = a.Authorize(ctx, &Identity{AgentID: 5, Role: store.RoleAgent}, action, waiting)
			assert.ErrorIs(t, err, ErrForbidden)

			// super_admin may act on any session
			err = a.Authorize(ctx, &Identity{AgentID: 99, Role: store.RoleSuperAdmin}, action, assigned)
			assert.NoError(t, err)
			err = a.Authorize(ctx, &Identity{AgentID: 99, Role: store.RoleSuperAdmin}, action, waiting)
			assert.NoError(t, err)
		})
	}
}

func TestAuthorize_Claim(t *testing.T) {
	dir := &fakeDirectory{agents: map[int64]*store.Agent{
		1: {ID: 1, Active: true, Available: true},
		2: {ID: 2, Active: true, Available: false},
		3: {ID: 3, Active: false, Available: true},
	}}
	a := NewRoleAuthorizer(dir)
	ctx := context.Background()
	waiting := &store.Session{ID: 2, UserID: 11, Status: store.StatusWaiting}

	err := a.Authorize(ctx, &Identity{AgentID: 1, Role: store.RoleAgent}, ActionClaimSession, waiting)
	assert.NoError(t, err)

	err = a.Authorize(ctx, &Identity{AgentID: 2, Role: store.RoleAgent}, ActionClaimSession, waiting)
	assert.ErrorIs(t, err, ErrForbidden)

	err = a.Authorize(ctx, &Identity{AgentID: 3, Role: store.RoleAgent}, ActionClaimSession, waiting)
	assert.ErrorIs(t, err, ErrForbidden)

	err = a.Authorize(ctx, &Identity{AgentID: 4, Role: store.RoleAgent}, ActionClaimSession, waiting)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAuthorize_NilIdentityAndUnknownAction(t *testing.T) {
	a := NewRoleAuthorizer(&fakeDirectory{})
	ctx := context.Background()

	err := a.Authorize(ctx, nil, ActionSendMessage, sessionAssignedTo(1))
	assert.ErrorIs(t, err, ErrForbidden)

	err = a.Authorize(ctx, &Identity{AgentID: 1, Role: store.RoleAgent}, Action("reboot"), nil)
	require.ErrorIs(t, err, ErrForbidden)
}
