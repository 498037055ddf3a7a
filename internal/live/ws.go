// ABOUTME: WebSocket endpoint for agent portal connections
// ABOUTME: Authenticates, registers presence, pumps lobby events, and dispatches commands

package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/relaydesk/relaydesk/internal/auth"
	"github.com/relaydesk/relaydesk/internal/presence"
	"github.com/relaydesk/relaydesk/internal/router"
	"github.com/relaydesk/relaydesk/internal/store"
)

// Command types accepted from portal connections
const (
	CommandSend  = "send"
	CommandClose = "close"
)

// Command is an inbound frame from an agent connection
type Command struct {
	Type      string `json:"type"`
	SessionID int64  `json:"session_id"`
	Body      string `json:"body,omitempty"`
}

// Ack is the reply to a processed command
type Ack struct {
	Type      string `json:"type"`
	SessionID int64  `json:"session_id,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Handler upgrades portal requests to websocket connections
type Handler struct {
	verifier    auth.TokenVerifier
	directory   auth.DirectoryChecker
	registry    *presence.Registry
	broadcaster *Broadcaster
	router      *router.Router
	logger      *slog.Logger
}

// NewHandler creates the portal websocket handler
func NewHandler(verifier auth.TokenVerifier, directory auth.DirectoryChecker, registry *presence.Registry, broadcaster *Broadcaster, rt *router.Router, logger *slog.Logger) *Handler {
	return &Handler{
		verifier:    verifier,
		directory:   directory,
		registry:    registry,
		broadcaster: broadcaster,
		router:      rt,
		logger:      logger.With("component", "portal_ws"),
	}
}

// wsHandle wraps a websocket connection as a presence.Handle.
// Writes are serialized; the read loop owns the other direction.
type wsHandle struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (h *wsHandle) Send(ctx context.Context, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn.Write(ctx, websocket.MessageText, payload)
}

func (h *wsHandle) Close() error {
	return h.conn.Close(websocket.StatusNormalClosure, "replaced or unregistered")
}

// ServeHTTP authenticates the agent and runs the connection until it drops
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		http.Error(w, `{"error":"missing token"}`, http.StatusUnauthorized)
		return
	}

	agentID, role, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}

	agent, err := h.directory.GetAgent(r.Context(), agentID)
	if err != nil || !agent.Active {
		http.Error(w, `{"error":"agent not active"}`, http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", "agent_id", agentID, "error", err)
		return
	}

	identity := &auth.Identity{AgentID: agentID, Role: role}
	h.run(r.Context(), conn, identity)
}

// run owns the connection lifecycle: presence registration, the lobby pump,
// and the command read loop.
func (h *Handler) run(parent context.Context, conn *websocket.Conn, identity *auth.Identity) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	handle := &wsHandle{conn: conn}
	connID := h.registry.Register(identity.AgentID, handle)
	defer h.registry.UnregisterConn(identity.AgentID, connID)

	// Lobby pump: broadcast events flow to this connection until it drops
	events, subID := h.broadcaster.Subscribe(ctx, LobbyTopic)
	defer h.broadcaster.Unsubscribe(LobbyTopic, subID)

	go func() {
		for event := range events {
			payload, err := event.Encode()
			if err != nil {
				h.logger.Error("encoding lobby event", "error", err)
				continue
			}
			if err := handle.Send(ctx, payload); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				h.logger.Debug("portal connection closed", "agent_id", identity.AgentID)
			} else {
				h.logger.Info("portal connection dropped", "agent_id", identity.AgentID, "error", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.reply(ctx, handle, &Ack{Type: "error", Error: "malformed command"})
			continue
		}

		h.dispatch(ctx, handle, identity, &cmd)
	}
}

// dispatch executes a single command and replies with an ack or error frame
func (h *Handler) dispatch(ctx context.Context, handle *wsHandle, identity *auth.Identity, cmd *Command) {
	switch cmd.Type {
	case CommandSend:
		result, err := h.router.RouteFromAgent(ctx, identity, cmd.SessionID, cmd.Body)
		if err != nil {
			h.reply(ctx, handle, &Ack{Type: "error", SessionID: cmd.SessionID, Error: commandError(err)})
			return
		}
		h.reply(ctx, handle, &Ack{Type: "ack", SessionID: cmd.SessionID, Outcome: string(result.Outcome)})

	case CommandClose:
		if _, err := h.router.CloseSession(ctx, identity, cmd.SessionID); err != nil {
			h.reply(ctx, handle, &Ack{Type: "error", SessionID: cmd.SessionID, Error: commandError(err)})
			return
		}
		h.reply(ctx, handle, &Ack{Type: "ack", SessionID: cmd.SessionID, Outcome: string(store.StatusClosed)})

	default:
		h.reply(ctx, handle, &Ack{Type: "error", Error: "unknown command type"})
	}
}

func (h *Handler) reply(ctx context.Context, handle *wsHandle, ack *Ack) {
	payload, err := json.Marshal(ack)
	if err != nil {
		return
	}
	if err := handle.Send(ctx, payload); err != nil {
		h.logger.Debug("ack delivery failed", "error", err)
	}
}

// commandError maps internal errors to wire-safe strings
func commandError(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "session not found"
	case errors.Is(err, store.ErrInvalidState):
		return "session not in a valid state"
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	default:
		return "internal error"
	}
}
