// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Enforces session state transitions with conditional updates and per-session append locks

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat keeps sub-second precision so near-simultaneous messages within a
// session still sort correctly; insertion id is the final tie-break. The
// fractional second is fixed width: layouts that strip trailing zeros (like
// RFC3339Nano) break lexicographic ordering of the TEXT column.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store and Directory interfaces using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// sessionLocks serializes AppendMessage and CloseSession per session id
	// so the closed-session check and the insert cannot race with a close or
	// a concurrent append. Different sessions proceed independently.
	lockMu       sync.Mutex
	sessionLocks map[int64]*sync.Mutex
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// foreign_keys and busy_timeout are per-connection, so they go in the DSN
	// where every pooled connection picks them up. The busy timeout makes
	// concurrent writers queue instead of failing with SQLITE_BUSY.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance (persists in the file)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:           db,
		logger:       logger,
		sessionLocks: make(map[int64]*sync.Mutex),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id    TEXT NOT NULL UNIQUE,
			full_name  TEXT NOT NULL DEFAULT '',
			username   TEXT NOT NULL DEFAULT '',
			is_active  INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_chat_id ON users(chat_id);

		CREATE TABLE IF NOT EXISTS agents (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id         TEXT NOT NULL UNIQUE,
			display_name    TEXT NOT NULL,
			role            TEXT NOT NULL DEFAULT 'agent',
			is_available    INTEGER NOT NULL DEFAULT 1,
			is_active       INTEGER NOT NULL DEFAULT 1,
			credential_hash TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL,
			last_login      TEXT,

			CHECK (role IN ('agent', 'super_admin'))
		);

		CREATE INDEX IF NOT EXISTS idx_agents_chat_id ON agents(chat_id);
		CREATE INDEX IF NOT EXISTS idx_agents_available ON agents(is_available, is_active);

		CREATE TABLE IF NOT EXISTS sessions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    INTEGER NOT NULL REFERENCES users(id),
			agent_id   INTEGER REFERENCES agents(id),
			status     TEXT NOT NULL DEFAULT 'waiting',
			created_at TEXT NOT NULL,
			closed_at  TEXT,

			CHECK (status IN ('waiting', 'active', 'closed'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_agent_status ON sessions(agent_id, status);
		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

		-- One open session per user, enforced by the database so a race between
		-- two CreateSession calls cannot slip a duplicate through.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_user_open
			ON sessions(user_id) WHERE status IN ('waiting', 'active');

		CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL REFERENCES sessions(id),
			user_id    INTEGER NOT NULL REFERENCES users(id),
			agent_id   INTEGER REFERENCES agents(id),
			body       TEXT NOT NULL,
			from_agent INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session_created
			ON messages(session_id, created_at, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// sessionLock returns the mutex guarding appends for one session
func (s *SQLiteStore) sessionLock(sessionID int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	mu, ok := s.sessionLocks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.sessionLocks[sessionID] = mu
	}
	return mu
}

// CreateSession opens a new waiting session for the user.
// Returns ErrConflict if the user already has an open session.
func (s *SQLiteStore) CreateSession(ctx context.Context, userID int64) (*Session, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checking user: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, status, created_at)
		VALUES (?, ?, ?)
	`, userID, StatusWaiting, now.Format(timeFormat))
	if err != nil {
		if isConstraintViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("inserting session: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting session id: %w", err)
	}

	s.logger.Debug("created session", "session_id", id, "user_id", userID)
	return &Session{
		ID:        id,
		UserID:    userID,
		Status:    StatusWaiting,
		CreatedAt: now,
	}, nil
}

// AssignSession transitions waiting -> active with a conditional update so a
// concurrent assign or close cannot produce a lost update.
func (s *SQLiteStore) AssignSession(ctx context.Context, sessionID, agentID int64) (*Session, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM agents WHERE id = ? AND is_active = 1`, agentID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checking agent: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET agent_id = ?, status = ?
		WHERE id = ? AND status = ?
	`, agentID, StatusActive, sessionID, StatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("assigning session: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing session from a wrong-state one
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrInvalidState
	}

	s.logger.Info("session assigned", "session_id", sessionID, "agent_id", agentID)
	return s.GetSession(ctx, sessionID)
}

// CloseSession transitions active -> closed and stamps the close time.
// It holds the session's append lock so an AppendMessage that already passed
// its closed-session check cannot commit a message into the closed session.
func (s *SQLiteStore) CloseSession(ctx context.Context, sessionID int64) (*Session, error) {
	mu := s.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, closed_at = ?
		WHERE id = ? AND status = ?
	`, StatusClosed, now.Format(timeFormat), sessionID, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("closing session: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrInvalidState
	}

	s.logger.Info("session closed", "session_id", sessionID)
	return s.GetSession(ctx, sessionID)
}

// AppendMessage persists one chat turn under the session's append lock
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID int64, fromAgent bool, body string) (*Message, error) {
	mu := s.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == StatusClosed {
		return nil, ErrInvalidState
	}

	var agentID *int64
	if fromAgent {
		// Closed is excluded above, and a waiting session has no agent to
		// speak through, so an agent message requires an assigned session.
		if session.AgentID == nil {
			return nil, ErrInvalidState
		}
		agentID = session.AgentID
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, user_id, agent_id, body, from_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sessionID, session.UserID, nullInt64(agentID), body, boolToInt(fromAgent), now.Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting message id: %w", err)
	}

	s.logger.Debug("message appended",
		"message_id", id,
		"session_id", sessionID,
		"from_agent", fromAgent,
	)

	return &Message{
		ID:        id,
		SessionID: sessionID,
		UserID:    session.UserID,
		AgentID:   agentID,
		Body:      body,
		FromAgent: fromAgent,
		CreatedAt: now,
	}, nil
}

// ListMessages returns the session's messages in timestamp order, insertion id
// as tie-break. A non-zero after restricts to strictly newer messages.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID int64, after time.Time) ([]*Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, session_id, user_id, agent_id, body, from_agent, created_at
		FROM messages
		WHERE session_id = ?
	`
	args := []any{sessionID}

	if !after.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, after.UTC().Format(timeFormat))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var agentID sql.NullInt64
		var fromAgent int
		var createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.UserID, &agentID, &msg.Body, &fromAgent, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		if agentID.Valid {
			msg.AgentID = &agentID.Int64
		}
		msg.FromAgent = fromAgent != 0

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// FindActiveSessionForUser returns the user's open (waiting or active) session
func (s *SQLiteStore) FindActiveSessionForUser(ctx context.Context, userID int64) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, agent_id, status, created_at, closed_at
		FROM sessions
		WHERE user_id = ? AND status IN (?, ?)
		LIMIT 1
	`, userID, StatusWaiting, StatusActive)
	return scanSession(row)
}

// GetSession retrieves a session by id.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID int64) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, agent_id, status, created_at, closed_at
		FROM sessions
		WHERE id = ?
	`, sessionID)
	return scanSession(row)
}

// ListSessions returns sessions matching the filter, newest first.
// If the filter limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, user_id, agent_id, status, created_at, closed_at
		FROM sessions
	`
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.AgentID != 0 {
		conds = append(conds, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// scanSession scans a single-row query into a Session
func scanSession(row *sql.Row) (*Session, error) {
	var session Session
	var agentID sql.NullInt64
	var createdAtStr string
	var closedAtStr sql.NullString

	err := row.Scan(&session.ID, &session.UserID, &agentID, &session.Status, &createdAtStr, &closedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	return fillSessionTimes(&session, agentID, createdAtStr, closedAtStr)
}

// scanSessionRows scans the current row of a multi-row query into a Session
func scanSessionRows(rows *sql.Rows) (*Session, error) {
	var session Session
	var agentID sql.NullInt64
	var createdAtStr string
	var closedAtStr sql.NullString

	if err := rows.Scan(&session.ID, &session.UserID, &agentID, &session.Status, &createdAtStr, &closedAtStr); err != nil {
		return nil, fmt.Errorf("scanning session row: %w", err)
	}

	return fillSessionTimes(&session, agentID, createdAtStr, closedAtStr)
}

func fillSessionTimes(session *Session, agentID sql.NullInt64, createdAtStr string, closedAtStr sql.NullString) (*Session, error) {
	var err error
	session.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if agentID.Valid {
		session.AgentID = &agentID.Int64
	}
	if closedAtStr.Valid {
		t, err := time.Parse(timeFormat, closedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing closed_at: %w", err)
		}
		session.ClosedAt = &t
	}
	return session, nil
}

// nullInt64 returns nil for a nil pointer, otherwise the value
func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements the Store interface
var _ Store = (*SQLiteStore)(nil)

// Ensure SQLiteStore implements the Directory interface
var _ Directory = (*SQLiteStore)(nil)
