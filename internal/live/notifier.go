// ABOUTME: Portal-side notifier bridging routing outcomes to live connections
// ABOUTME: Direct pushes go through presence; lobby events go through the broadcaster

package live

import (
	"context"
	"log/slog"

	"github.com/relaydesk/relaydesk/internal/presence"
	"github.com/relaydesk/relaydesk/internal/store"
)

// PortalNotifier delivers events to agent portal connections. It implements
// the agent-side notifier interfaces of the router and the assignment engine.
type PortalNotifier struct {
	registry    *presence.Registry
	broadcaster *Broadcaster
	logger      *slog.Logger
}

// NewPortalNotifier creates a notifier over the given registry and broadcaster
func NewPortalNotifier(registry *presence.Registry, broadcaster *Broadcaster, logger *slog.Logger) *PortalNotifier {
	return &PortalNotifier{
		registry:    registry,
		broadcaster: broadcaster,
		logger:      logger.With("component", "portal_notifier"),
	}
}

// NotifyAgent pushes a message frame to the agent's live connection
func (n *PortalNotifier) NotifyAgent(ctx context.Context, agentID int64, session *store.Session, msg *store.Message) bool {
	payload, err := (&Event{
		Type:    EventMessage,
		Session: NewSessionView(session),
		Message: NewMessageView(msg),
	}).Encode()
	if err != nil {
		n.logger.Error("encoding message event", "error", err)
		return false
	}
	return n.registry.SendTo(ctx, agentID, payload)
}

// NotifyLobby broadcasts a message on a waiting session to every connected agent
func (n *PortalNotifier) NotifyLobby(_ context.Context, session *store.Session, msg *store.Message) {
	n.broadcaster.Publish(LobbyTopic, &Event{
		Type:    EventMessage,
		Session: NewSessionView(session),
		Message: NewMessageView(msg),
	})
}

// NotifyClosed tells the assigned agent and the lobby that the session ended
func (n *PortalNotifier) NotifyClosed(ctx context.Context, session *store.Session) {
	event := &Event{Type: EventSessionClosed, Session: NewSessionView(session)}

	if session.AgentID != nil {
		if payload, err := event.Encode(); err == nil {
			n.registry.SendTo(ctx, *session.AgentID, payload)
		}
	}
	n.broadcaster.Publish(LobbyTopic, event)
}

// NotifyAssigned tells the chosen agent and the lobby about the assignment
func (n *PortalNotifier) NotifyAssigned(ctx context.Context, session *store.Session) {
	event := &Event{Type: EventSessionAssigned, Session: NewSessionView(session)}

	if session.AgentID != nil {
		if payload, err := event.Encode(); err == nil {
			n.registry.SendTo(ctx, *session.AgentID, payload)
		}
	}
	n.broadcaster.Publish(LobbyTopic, event)
}

// NotifyWaiting announces a new unassigned session to the lobby
func (n *PortalNotifier) NotifyWaiting(_ context.Context, session *store.Session) {
	n.broadcaster.Publish(LobbyTopic, &Event{
		Type:    EventSessionWaiting,
		Session: NewSessionView(session),
	})
}
