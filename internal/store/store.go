// ABOUTME: Store interface and data types for relaydesk persistence
// ABOUTME: Defines Session, Message, User, Agent structs and the Store interfaces

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced session, user, or agent does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidState is returned when an operation violates the session state machine,
// e.g. assigning a session that is not waiting or appending to a closed session
var ErrInvalidState = errors.New("invalid session state")

// ErrConflict is returned when a user already has an open (waiting or active) session
var ErrConflict = errors.New("user already has an open session")

// SessionStatus is the lifecycle state of a chat session.
// Transitions are monotonic: waiting -> active -> closed.
type SessionStatus string

const (
	StatusWaiting SessionStatus = "waiting"
	StatusActive  SessionStatus = "active"
	StatusClosed  SessionStatus = "closed"
)

// Session represents one conversation between a user and at most one agent at a time
type Session struct {
	ID        int64
	UserID    int64
	AgentID   *int64 // nil until the session is assigned
	Status    SessionStatus
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// Message is one chat turn, always bound to exactly one session.
// Messages are immutable once created.
type Message struct {
	ID        int64
	SessionID int64
	UserID    int64
	AgentID   *int64 // set when sent by an agent
	Body      string
	FromAgent bool
	CreatedAt time.Time
}

// AgentRole distinguishes regular agents from supervisors
type AgentRole string

const (
	RoleAgent      AgentRole = "agent"
	RoleSuperAdmin AgentRole = "super_admin"
)

// User is an end-user reachable through the messaging-bot transport
type User struct {
	ID        int64
	ChatID    string // transport chat identifier, unique across users AND agents
	FullName  string
	Username  string
	Active    bool
	CreatedAt time.Time
}

// Agent is a human support agent reachable through the portal
type Agent struct {
	ID             int64
	ChatID         string // transport chat identifier, unique across users AND agents
	DisplayName    string
	Role           AgentRole
	Available      bool // durable "available for new assignments" flag
	Active         bool
	CredentialHash string
	CreatedAt      time.Time
	LastLogin      *time.Time
}

// AgentCandidate is one entry in the assignment candidate pool: an available,
// active agent together with its current active-session load.
type AgentCandidate struct {
	AgentID        int64
	ActiveSessions int
	CreatedAt      time.Time
}

// SessionFilter narrows ListSessions results
type SessionFilter struct {
	Status  SessionStatus // empty for all
	AgentID int64         // 0 for all
	Limit   int           // <=0 for default
}

// Store defines session and message persistence.
// Implementations enforce the state-machine invariants at this boundary;
// callers are not trusted to sequence transitions correctly.
type Store interface {
	// CreateSession opens a new waiting session for the user.
	// Returns ErrConflict if the user already has a waiting or active session,
	// ErrNotFound if the user does not exist.
	CreateSession(ctx context.Context, userID int64) (*Session, error)

	// AssignSession transitions waiting -> active and binds the agent.
	// Returns ErrNotFound if session or agent is absent, ErrInvalidState if
	// the session is not currently waiting.
	AssignSession(ctx context.Context, sessionID, agentID int64) (*Session, error)

	// CloseSession transitions active -> closed and stamps the close time.
	// Closing an already-closed session is an error, not a no-op, so callers
	// can detect double-close bugs.
	CloseSession(ctx context.Context, sessionID int64) (*Session, error)

	// AppendMessage persists one chat turn. Returns ErrNotFound if the session
	// is absent and ErrInvalidState if it is closed. Concurrent appends to the
	// same session are serialized so ordering and the closed check cannot race.
	AppendMessage(ctx context.Context, sessionID int64, fromAgent bool, body string) (*Message, error)

	// ListMessages returns the session's messages ordered by timestamp
	// ascending (insertion id as tie-break). A non-zero after restricts the
	// result to messages created strictly after that instant, supporting
	// incremental polling.
	ListMessages(ctx context.Context, sessionID int64, after time.Time) ([]*Message, error)

	// FindActiveSessionForUser returns the user's open (waiting or active)
	// session, or ErrNotFound if there is none.
	FindActiveSessionForUser(ctx context.Context, userID int64) (*Session, error)

	GetSession(ctx context.Context, sessionID int64) (*Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error)

	// Close releases any resources held by the store
	Close() error
}

// Directory defines the identity collaborator surface: durable user and agent
// records plus the assignment candidate pool. User and agent chat identifiers
// share one id space and must not overlap.
type Directory interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByChatID(ctx context.Context, chatID string) (*User, error)

	// EnsureUser finds the user for a transport chat id, creating the record
	// on first contact. Returns ErrConflict if the chat id belongs to an agent.
	EnsureUser(ctx context.Context, chatID, fullName, username string) (*User, error)

	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id int64) (*Agent, error)
	GetAgentByChatID(ctx context.Context, chatID string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	SetAgentAvailable(ctx context.Context, agentID int64, available bool) error

	// AvailableAgentCandidates returns the available & active agents together
	// with their current active-session counts.
	AvailableAgentCandidates(ctx context.Context) ([]AgentCandidate, error)
}
