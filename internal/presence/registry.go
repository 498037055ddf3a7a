// ABOUTME: Tracks which agents currently hold a live portal connection.
// ABOUTME: Central coordinator for connection registration and direct delivery.

package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/store"
)

// DefaultSendTimeout bounds a single delivery attempt to a connection
const DefaultSendTimeout = 3 * time.Second

// Handle is the delivery side of a live connection. Implementations must be
// safe for concurrent Send calls.
type Handle interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

type conn struct {
	id     string
	handle Handle
}

// Registry coordinates all connected agents and delivers payloads to them.
// Registration is last-writer-wins: a new connection for an agent replaces
// and closes the previous one.
type Registry struct {
	conns       map[int64]*conn
	mu          sync.RWMutex
	sendTimeout time.Duration
	logger      *slog.Logger
}

// NewRegistry creates a new Registry instance
func NewRegistry(logger *slog.Logger, sendTimeout time.Duration) *Registry {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Registry{
		conns:       make(map[int64]*conn),
		sendTimeout: sendTimeout,
		logger:      logger.With("component", "presence"),
	}
}

// Register adds a live connection for an agent and returns its connection id.
// Any previous connection for the same agent is closed and replaced.
func (r *Registry) Register(agentID int64, handle Handle) string {
	r.mu.Lock()
	prev := r.conns[agentID]
	c := &conn{id: uuid.New().String(), handle: handle}
	r.conns[agentID] = c
	total := len(r.conns)
	r.mu.Unlock()

	if prev != nil {
		_ = prev.handle.Close()
		r.logger.Info("agent connection replaced", "agent_id", agentID, "conn_id", c.id)
	} else {
		r.logger.Info("agent connected", "agent_id", agentID, "conn_id", c.id, "total_connected", total)
	}
	return c.id
}

// Unregister removes the agent's connection regardless of which connection
// it is. The handle is closed.
func (r *Registry) Unregister(agentID int64) {
	r.mu.Lock()
	c, ok := r.conns[agentID]
	if ok {
		delete(r.conns, agentID)
	}
	total := len(r.conns)
	r.mu.Unlock()

	if ok {
		_ = c.handle.Close()
		r.logger.Info("agent disconnected", "agent_id", agentID, "total_connected", total)
	}
}

// UnregisterConn removes the agent's connection only if it is still the one
// identified by connID. A connection that was already replaced stays put.
func (r *Registry) UnregisterConn(agentID int64, connID string) {
	r.mu.Lock()
	c, ok := r.conns[agentID]
	if !ok || c.id != connID {
		r.mu.Unlock()
		return
	}
	delete(r.conns, agentID)
	total := len(r.conns)
	r.mu.Unlock()

	_ = c.handle.Close()
	r.logger.Info("agent disconnected", "agent_id", agentID, "conn_id", connID, "total_connected", total)
}

// IsConnected checks whether the agent currently holds a live connection
func (r *Registry) IsConnected(agentID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[agentID]
	return ok
}

// ConnectedAgents returns the ids of all currently connected agents
func (r *Registry) ConnectedAgents() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// SendTo delivers a payload to the agent's live connection. Returns false if
// the agent is not connected or the delivery fails; a failed connection is
// unregistered so the agent stops appearing present.
func (r *Registry) SendTo(ctx context.Context, agentID int64, payload []byte) bool {
	r.mu.RLock()
	c, ok := r.conns[agentID]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()

	if err := c.handle.Send(sendCtx, payload); err != nil {
		r.logger.Warn("delivery failed, dropping connection",
			"agent_id", agentID, "conn_id", c.id, "error", err)
		r.UnregisterConn(agentID, c.id)
		return false
	}
	return true
}

// PickAvailableAgent chooses the assignment target from the candidate pool:
// the connected candidate with the fewest active sessions, ties broken by
// earliest registration. Returns false when no candidate is connected.
func (r *Registry) PickAvailableAgent(candidates []store.AgentCandidate) (int64, bool) {
	r.mu.RLock()
	connected := make([]store.AgentCandidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := r.conns[c.AgentID]; ok {
			connected = append(connected, c)
		}
	}
	r.mu.RUnlock()

	if len(connected) == 0 {
		return 0, false
	}

	sort.Slice(connected, func(i, j int) bool {
		if connected[i].ActiveSessions != connected[j].ActiveSessions {
			return connected[i].ActiveSessions < connected[j].ActiveSessions
		}
		if !connected[i].CreatedAt.Equal(connected[j].CreatedAt) {
			return connected[i].CreatedAt.Before(connected[j].CreatedAt)
		}
		return connected[i].AgentID < connected[j].AgentID
	})
	return connected[0].AgentID, true
}
