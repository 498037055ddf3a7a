// ABOUTME: Wire-level event frames pushed over portal connections
// ABOUTME: JSON views of sessions and messages, decoupled from store rows

package live

import (
	"encoding/json"
	"time"

	"github.com/relaydesk/relaydesk/internal/store"
)

// Event types pushed to portal connections
const (
	EventMessage         = "message"
	EventSessionWaiting  = "session_waiting"
	EventSessionAssigned = "session_assigned"
	EventSessionClosed   = "session_closed"
)

// LobbyTopic is the broadcast topic every connected agent subscribes to
const LobbyTopic = "lobby"

// SessionView is the JSON shape of a session in event frames
type SessionView struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	AgentID   *int64     `json:"agent_id,omitempty"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// MessageView is the JSON shape of a message in event frames
type MessageView struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	Body      string    `json:"body"`
	FromAgent bool      `json:"from_agent"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is a single frame pushed to a portal connection
type Event struct {
	Type    string       `json:"type"`
	Session *SessionView `json:"session,omitempty"`
	Message *MessageView `json:"message,omitempty"`
}

// NewSessionView converts a store session into its wire shape
func NewSessionView(s *store.Session) *SessionView {
	if s == nil {
		return nil
	}
	return &SessionView{
		ID:        s.ID,
		UserID:    s.UserID,
		AgentID:   s.AgentID,
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt,
		ClosedAt:  s.ClosedAt,
	}
}

// NewMessageView converts a store message into its wire shape
func NewMessageView(m *store.Message) *MessageView {
	if m == nil {
		return nil
	}
	return &MessageView{
		ID:        m.ID,
		SessionID: m.SessionID,
		Body:      m.Body,
		FromAgent: m.FromAgent,
		CreatedAt: m.CreatedAt,
	}
}

// Encode marshals the event for the wire
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
