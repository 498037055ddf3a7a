// ABOUTME: Tests for the assignment engine
// ABOUTME: Covers auto-assignment, the no-agent path, claims, and race outcomes

package assign

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/auth"
	"github.com/relaydesk/relaydesk/internal/store"
)

// fakeSessions implements SessionStore in memory
type fakeSessions struct {
	nextID     int64
	sessions   map[int64]*store.Session
	openByUser map[int64]int64
	assignErr  error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		nextID:     1,
		sessions:   make(map[int64]*store.Session),
		openByUser: make(map[int64]int64),
	}
}

func (f *fakeSessions) CreateSession(_ context.Context, userID int64) (*store.Session, error) {
	if _, open := f.openByUser[userID]; open {
		return nil, store.ErrConflict
	}
	s := &store.Session{ID: f.nextID, UserID: userID, Status: store.StatusWaiting}
	f.sessions[s.ID] = s
	f.openByUser[userID] = s.ID
	f.nextID++
	return s, nil
}

func (f *fakeSessions) AssignSession(_ context.Context, sessionID, agentID int64) (*store.Session, error) {
	if f.assignErr != nil {
		return nil, f.assignErr
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.Status != store.StatusWaiting {
		return nil, store.ErrInvalidState
	}
	s.Status = store.StatusActive
	s.AgentID = &agentID
	return s, nil
}

func (f *fakeSessions) GetSession(_ context.Context, sessionID int64) (*store.Session, error) {
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s, nil
}

// fakeCandidates implements CandidateSource
type fakeCandidates struct {
	candidates []store.AgentCandidate
	err        error
}

func (f *fakeCandidates) AvailableAgentCandidates(_ context.Context) ([]store.AgentCandidate, error) {
	return f.candidates, f.err
}

// fakePicker implements Picker with a fixed answer
type fakePicker struct {
	agentID int64
	ok      bool
}

func (f *fakePicker) PickAvailableAgent(_ []store.AgentCandidate) (int64, bool) {
	return f.agentID, f.ok
}

// recordingNotifier implements Notifier and records calls
type recordingNotifier struct {
	assigned []*store.Session
	waiting  []*store.Session
}

func (r *recordingNotifier) NotifyAssigned(_ context.Context, s *store.Session) {
	r.assigned = append(r.assigned, s)
}

func (r *recordingNotifier) NotifyWaiting(_ context.Context, s *store.Session) {
	r.waiting = append(r.waiting, s)
}

// allowAll implements auth.Authorizer
type allowAll struct{ err error }

func (a *allowAll) Authorize(_ context.Context, _ *auth.Identity, _ auth.Action, _ *store.Session) error {
	return a.err
}

func newTestEngine(sessions *fakeSessions, candidates *fakeCandidates, picker *fakePicker, notifier *recordingNotifier, authz auth.Authorizer) *Engine {
	if authz == nil {
		authz = &allowAll{}
	}
	return NewEngine(sessions, candidates, picker, notifier, authz, slog.Default())
}

func TestStartConversation_AssignsImmediately(t *testing.T) {
	sessions := newFakeSessions()
	notifier := &recordingNotifier{}
	e := newTestEngine(sessions, &fakeCandidates{}, &fakePicker{agentID: 7, ok: true}, notifier, nil)

	result, err := e.StartConversation(context.Background(), 10)
	require.NoError(t, err)

	assert.True(t, result.Assigned)
	assert.Equal(t, int64(7), result.AgentID)
	assert.Equal(t, store.StatusActive, result.Session.Status)
	require.NotNil(t, result.Session.AgentID)
	assert.Equal(t, int64(7), *result.Session.AgentID)

	require.Len(t, notifier.assigned, 1)
	assert.Empty(t, notifier.waiting)
}

func TestStartConversation_NoAgentAvailable(t *testing.T) {
	sessions := newFakeSessions()
	notifier := &recordingNotifier{}
	e := newTestEngine(sessions, &fakeCandidates{}, &fakePicker{ok: false}, notifier, nil)

	result, err := e.StartConversation(context.Background(), 10)
	require.NoError(t, err)

	assert.False(t, result.Assigned)
	assert.Equal(t, store.StatusWaiting, result.Session.Status)
	require.Len(t, notifier.waiting, 1)
	assert.Empty(t, notifier.assigned)
}

func TestStartConversation_DuplicateOpenSession(t *testing.T) {
	sessions := newFakeSessions()
	e := newTestEngine(sessions, &fakeCandidates{}, &fakePicker{ok: false}, &recordingNotifier{}, nil)

	_, err := e.StartConversation(context.Background(), 10)
	require.NoError(t, err)

	_, err = e.StartConversation(context.Background(), 10)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestStartConversation_AssignRaceLeavesSessionWaiting(t *testing.T) {
	sessions := newFakeSessions()
	sessions.assignErr = store.ErrInvalidState
	notifier := &recordingNotifier{}
	e := newTestEngine(sessions, &fakeCandidates{}, &fakePicker{agentID: 7, ok: true}, notifier, nil)

	result, err := e.StartConversation(context.Background(), 10)
	require.NoError(t, err)

	assert.False(t, result.Assigned)
	require.Len(t, notifier.waiting, 1)
}

func TestStartConversation_CandidateLoadFailure(t *testing.T) {
	sessions := newFakeSessions()
	notifier := &recordingNotifier{}
	e := newTestEngine(sessions, &fakeCandidates{err: assert.AnError}, &fakePicker{agentID: 7, ok: true}, notifier, nil)

	result, err := e.StartConversation(context.Background(), 10)
	require.NoError(t, err)

	// The session still exists and waits; routing can proceed
	assert.False(t, result.Assigned)
	assert.Equal(t, store.StatusWaiting, result.Session.Status)
	require.Len(t, notifier.waiting, 1)
}

func TestClaim(t *testing.T) {
	sessions := newFakeSessions()
	notifier := &recordingNotifier{}
	e := newTestEngine(sessions, &fakeCandidates{}, &fakePicker{ok: false}, notifier, nil)

	result, err := e.StartConversation(context.Background(), 10)
	require.NoError(t, err)

	claimed, err := e.Claim(context.Background(), &auth.Identity{AgentID: 3, Role: store.RoleAgent}, result.Session.ID)
	require.NoError(t, err)

	assert.Equal(t, store.StatusActive, claimed.Status)
	require.NotNil(t, claimed.AgentID)
	assert.Equal(t, int64(3), *claimed.AgentID)
	require.Len(t, notifier.assigned, 1)
}

func TestClaim_AlreadyAssigned(t *testing.T) {
	sessions := newFakeSessions()
	e := newTestEngine(sessions, &fakeCandidates{}, &fakePicker{ok: false}, &recordingNotifier{}, nil)

	result, err := e.StartConversation(context.Background(), 10)
	require.NoError(t, err)

	_, err = e.Claim(context.Background(), &auth.Identity{AgentID: 3, Role: store.RoleAgent}, result.Session.ID)
	require.NoError(t, err)

	_, err = e.Claim(context.Background(), &auth.Identity{AgentID: 4, Role: store.RoleAgent}, result.Session.ID)
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

func TestClaim_Unauthorized(t *testing.T) {
	sessions := newFakeSessions()
	notifier := &recordingNotifier{}
	e := newTestEngine(sessions, &fakeCandidates{}, &fakePicker{ok: false}, notifier, &allowAll{err: auth.ErrForbidden})

	result, err := e.StartConversation(context.Background(), 10)
	require.NoError(t, err)

	_, err = e.Claim(context.Background(), &auth.Identity{AgentID: 3, Role: store.RoleAgent}, result.Session.ID)
	assert.ErrorIs(t, err, auth.ErrForbidden)
	assert.Empty(t, notifier.assigned)
}

func TestClaim_UnknownSession(t *testing.T) {
	e := newTestEngine(newFakeSessions(), &fakeCandidates{}, &fakePicker{ok: false}, &recordingNotifier{}, nil)

	_, err := e.Claim(context.Background(), &auth.Identity{AgentID: 3, Role: store.RoleAgent}, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
