// ABOUTME: Directory implementation for durable user and agent identity records
// ABOUTME: Users and agents share one chat-id space; overlap is rejected at insert time

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CreateUser inserts a new user record.
// Returns ErrConflict if the chat id is already taken by a user or an agent.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	taken, err := s.chatIDTaken(ctx, user.ChatID)
	if err != nil {
		return err
	}
	if taken {
		return ErrConflict
	}

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (chat_id, full_name, username, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ChatID, user.FullName, user.Username, boolToInt(user.Active), user.CreatedAt.Format(timeFormat))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	user.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting user id: %w", err)
	}

	s.logger.Debug("created user", "user_id", user.ID, "chat_id", user.ChatID)
	return nil
}

// GetUser retrieves a user by id
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, full_name, username, is_active, created_at
		FROM users WHERE id = ?
	`, id)
	return scanUser(row)
}

// GetUserByChatID retrieves a user by transport chat id
func (s *SQLiteStore) GetUserByChatID(ctx context.Context, chatID string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, full_name, username, is_active, created_at
		FROM users WHERE chat_id = ?
	`, chatID)
	return scanUser(row)
}

// EnsureUser finds or auto-registers the user for a transport chat id.
// Returns ErrConflict if the chat id belongs to an agent: agents cannot open
// user conversations through the bot.
func (s *SQLiteStore) EnsureUser(ctx context.Context, chatID, fullName, username string) (*User, error) {
	if _, err := s.GetAgentByChatID(ctx, chatID); err == nil {
		return nil, ErrConflict
	} else if err != ErrNotFound {
		return nil, err
	}

	user, err := s.GetUserByChatID(ctx, chatID)
	if err == nil {
		return user, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	user = &User{
		ChatID:   chatID,
		FullName: fullName,
		Username: username,
		Active:   true,
	}
	if err := s.CreateUser(ctx, user); err != nil {
		if err == ErrConflict {
			// Lost a registration race; the row exists now
			return s.GetUserByChatID(ctx, chatID)
		}
		return nil, err
	}
	return user, nil
}

// CreateAgent inserts a new agent record.
// Returns ErrConflict if the chat id is already taken by a user or an agent.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	taken, err := s.chatIDTaken(ctx, agent.ChatID)
	if err != nil {
		return err
	}
	if taken {
		return ErrConflict
	}

	if agent.Role == "" {
		agent.Role = RoleAgent
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (chat_id, display_name, role, is_available, is_active, credential_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, agent.ChatID, agent.DisplayName, agent.Role, boolToInt(agent.Available), boolToInt(agent.Active),
		agent.CredentialHash, agent.CreatedAt.Format(timeFormat))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	agent.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting agent id: %w", err)
	}

	s.logger.Info("created agent", "agent_id", agent.ID, "display_name", agent.DisplayName, "role", agent.Role)
	return nil
}

// GetAgent retrieves an agent by id
func (s *SQLiteStore) GetAgent(ctx context.Context, id int64) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, display_name, role, is_available, is_active, credential_hash, created_at, last_login
		FROM agents WHERE id = ?
	`, id)
	return scanAgent(row)
}

// GetAgentByChatID retrieves an agent by transport chat id
func (s *SQLiteStore) GetAgentByChatID(ctx context.Context, chatID string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, display_name, role, is_available, is_active, credential_hash, created_at, last_login
		FROM agents WHERE chat_id = ?
	`, chatID)
	return scanAgent(row)
}

// ListAgents returns all agents ordered by creation time
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, display_name, role, is_available, is_active, credential_hash, created_at, last_login
		FROM agents
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgentRows(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return agents, nil
}

// SetAgentAvailable flips the durable "available for new assignments" flag
func (s *SQLiteStore) SetAgentAvailable(ctx context.Context, agentID int64, available bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET is_available = ? WHERE id = ?
	`, boolToInt(available), agentID)
	if err != nil {
		return fmt.Errorf("updating agent availability: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Debug("agent availability updated", "agent_id", agentID, "available", available)
	return nil
}

// AvailableAgentCandidates returns available & active agents with their current
// active-session loads, ordered by creation time for a stable candidate pool.
func (s *SQLiteStore) AvailableAgentCandidates(ctx context.Context) ([]AgentCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.created_at, COUNT(s.id)
		FROM agents a
		LEFT JOIN sessions s ON s.agent_id = a.id AND s.status = 'active'
		WHERE a.is_available = 1 AND a.is_active = 1
		GROUP BY a.id
		ORDER BY a.created_at ASC, a.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying agent candidates: %w", err)
	}
	defer rows.Close()

	var candidates []AgentCandidate
	for rows.Next() {
		var c AgentCandidate
		var createdAtStr string
		if err := rows.Scan(&c.AgentID, &createdAtStr, &c.ActiveSessions); err != nil {
			return nil, fmt.Errorf("scanning candidate row: %w", err)
		}
		c.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing candidate created_at: %w", err)
		}
		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candidate rows: %w", err)
	}
	return candidates, nil
}

// TouchAgentLogin stamps the agent's last portal login time
func (s *SQLiteStore) TouchAgentLogin(ctx context.Context, agentID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agents SET last_login = ? WHERE id = ?
	`, time.Now().UTC().Format(timeFormat), agentID)
	if err != nil {
		return fmt.Errorf("updating agent last_login: %w", err)
	}
	return nil
}

// chatIDTaken reports whether a chat id exists in either identity table
func (s *SQLiteStore) chatIDTaken(ctx context.Context, chatID string) (bool, error) {
	if strings.TrimSpace(chatID) == "" {
		return false, fmt.Errorf("chat id is required")
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM users WHERE chat_id = ?
		UNION
		SELECT 1 FROM agents WHERE chat_id = ?
		LIMIT 1
	`, chatID, chatID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking chat id: %w", err)
	}
	return true, nil
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	var active int
	var createdAtStr string

	err := row.Scan(&user.ID, &user.ChatID, &user.FullName, &user.Username, &active, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	user.Active = active != 0
	user.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing user created_at: %w", err)
	}
	return &user, nil
}

func scanAgent(row *sql.Row) (*Agent, error) {
	var agent Agent
	var available, active int
	var createdAtStr string
	var lastLoginStr sql.NullString

	err := row.Scan(&agent.ID, &agent.ChatID, &agent.DisplayName, &agent.Role,
		&available, &active, &agent.CredentialHash, &createdAtStr, &lastLoginStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}

	return fillAgent(&agent, available, active, createdAtStr, lastLoginStr)
}

func scanAgentRows(rows *sql.Rows) (*Agent, error) {
	var agent Agent
	var available, active int
	var createdAtStr string
	var lastLoginStr sql.NullString

	if err := rows.Scan(&agent.ID, &agent.ChatID, &agent.DisplayName, &agent.Role,
		&available, &active, &agent.CredentialHash, &createdAtStr, &lastLoginStr); err != nil {
		return nil, fmt.Errorf("scanning agent row: %w", err)
	}

	return fillAgent(&agent, available, active, createdAtStr, lastLoginStr)
}

func fillAgent(agent *Agent, available, active int, createdAtStr string, lastLoginStr sql.NullString) (*Agent, error) {
	agent.Available = available != 0
	agent.Active = active != 0

	var err error
	agent.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing agent created_at: %w", err)
	}
	if lastLoginStr.Valid {
		t, err := time.Parse(timeFormat, lastLoginStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing agent last_login: %w", err)
		}
		agent.LastLogin = &t
	}
	return agent, nil
}
