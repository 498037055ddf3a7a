// ABOUTME: Tests for the gateway HTTP API
// ABOUTME: Exercises routes end-to-end against a real store with JWT auth

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/live"
	"github.com/relaydesk/relaydesk/internal/store"
)

type apiFixture struct {
	gw     *Gateway
	server *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: ":0"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")},
		Auth:     config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour},
		Delivery: config.DeliveryConfig{SendTimeout: time.Second},
	}

	gw, err := New(cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = gw.store.Close()
	})

	server := httptest.NewServer(gw.httpServer.Handler)
	t.Cleanup(server.Close)

	return &apiFixture{gw: gw, server: server}
}

func (f *apiFixture) seedAgent(t *testing.T, chatID string, role store.AgentRole) (*store.Agent, string) {
	t.Helper()
	agent := &store.Agent{ChatID: chatID, DisplayName: "Agent " + chatID, Role: role, Available: true, Active: true}
	require.NoError(t, f.gw.store.CreateAgent(context.Background(), agent))

	token, err := f.gw.verifier.Generate(agent.ID, agent.Role, time.Hour)
	require.NoError(t, err)
	return agent, token
}

func (f *apiFixture) seedUserSession(t *testing.T, chatID string) (*store.User, *store.Session) {
	t.Helper()
	user := &store.User{ChatID: chatID, FullName: "User " + chatID, Active: true}
	require.NoError(t, f.gw.store.CreateUser(context.Background(), user))
	session, err := f.gw.store.CreateSession(context.Background(), user.ID)
	require.NoError(t, err)
	return user, session
}

func (f *apiFixture) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReady_NoAgentsConnected(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPI_RequiresAuth(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodGet, "/api/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/api/sessions", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListSessions(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedAgent(t, "a-1", store.RoleAgent)
	f.seedUserSession(t, "u-1")
	f.seedUserSession(t, "u-2")

	resp := f.request(t, http.MethodGet, "/api/sessions", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sessions := decode[[]*live.SessionView](t, resp)
	assert.Len(t, sessions, 2)

	resp = f.request(t, http.MethodGet, "/api/sessions?status=waiting", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]*live.SessionView](t, resp), 2)

	resp = f.request(t, http.MethodGet, "/api/sessions?status=closed", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]*live.SessionView](t, resp))

	resp = f.request(t, http.MethodGet, "/api/sessions?status=bogus", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClaimSession(t *testing.T) {
	f := newAPIFixture(t)
	agent, token := f.seedAgent(t, "a-1", store.RoleAgent)
	_, session := f.seedUserSession(t, "u-1")

	resp := f.request(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/claim", session.ID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	claimed := decode[*live.SessionView](t, resp)
	assert.Equal(t, string(store.StatusActive), claimed.Status)
	require.NotNil(t, claimed.AgentID)
	assert.Equal(t, agent.ID, *claimed.AgentID)

	// A second claim loses the race
	_, otherToken := f.seedAgent(t, "a-2", store.RoleAgent)
	resp = f.request(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/claim", session.ID), otherToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestClaimSession_UnavailableAgent(t *testing.T) {
	f := newAPIFixture(t)
	agent, token := f.seedAgent(t, "a-1", store.RoleAgent)
	require.NoError(t, f.gw.store.SetAgentAvailable(context.Background(), agent.ID, false))
	_, session := f.seedUserSession(t, "u-1")

	resp := f.request(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/claim", session.ID), token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSendAndListMessages(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedAgent(t, "a-1", store.RoleAgent)
	_, session := f.seedUserSession(t, "u-1")

	// Claim first, then send
	resp := f.request(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/claim", session.ID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.request(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/messages", session.ID), token,
		SendMessageRequest{Body: "how can I help?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sent := decode[SendMessageResponse](t, resp)
	// No user transport configured, so the message is stored, not delivered
	assert.Equal(t, "stored", sent.Outcome)
	require.NotNil(t, sent.Message)
	assert.True(t, sent.Message.FromAgent)

	resp = f.request(t, http.MethodGet, fmt.Sprintf("/api/sessions/%d/messages", session.ID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	messages := decode[[]*live.MessageView](t, resp)
	require.Len(t, messages, 1)
	assert.Equal(t, "how can I help?", messages[0].Body)

	// Incremental polling with after
	after := messages[0].CreatedAt.Format(time.RFC3339Nano)
	resp = f.request(t, http.MethodGet, fmt.Sprintf("/api/sessions/%d/messages?after=%s", session.ID, after), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]*live.MessageView](t, resp))
}

func TestSendMessage_NotAssigned(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedAgent(t, "a-1", store.RoleAgent)
	_, session := f.seedUserSession(t, "u-1")

	// Waiting session, not assigned to the caller
	resp := f.request(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/messages", session.ID), token,
		SendMessageRequest{Body: "hi"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCloseSession(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedAgent(t, "a-1", store.RoleAgent)
	_, session := f.seedUserSession(t, "u-1")

	resp := f.request(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/claim", session.ID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.request(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/close", session.ID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	closed := decode[*live.SessionView](t, resp)
	assert.Equal(t, string(store.StatusClosed), closed.Status)

	// Double close conflicts
	resp = f.request(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/close", session.ID), token, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCloseSession_OtherAgentForbidden(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedAgent(t, "a-1", store.RoleAgent)
	_, otherToken := f.seedAgent(t, "a-2", store.RoleAgent)
	_, session := f.seedUserSession(t, "u-1")

	resp := f.request(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/claim", session.ID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.request(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/close", session.ID), otherToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCloseSession_SuperAdminOverride(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedAgent(t, "a-1", store.RoleAgent)
	_, adminToken := f.seedAgent(t, "a-admin", store.RoleSuperAdmin)
	_, session := f.seedUserSession(t, "u-1")

	resp := f.request(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/claim", session.ID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.request(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/close", session.ID), adminToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListAgents_SuperAdminOnly(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedAgent(t, "a-1", store.RoleAgent)
	_, adminToken := f.seedAgent(t, "a-admin", store.RoleSuperAdmin)

	resp := f.request(t, http.MethodGet, "/api/agents", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/api/agents", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	agents := decode[[]*AgentView](t, resp)
	assert.Len(t, agents, 2)
	for _, a := range agents {
		assert.NotEmpty(t, a.DisplayName)
	}
}

func TestListMessages_UnknownSession(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.seedAgent(t, "a-1", store.RoleAgent)

	resp := f.request(t, http.MethodGet, "/api/sessions/999/messages", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
