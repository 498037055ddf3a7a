// ABOUTME: Agent portal credential hashing and verification
// ABOUTME: Uses bcrypt; hashes live in the agents table, never plaintext

package store

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredential is returned when a supplied credential does not match
var ErrBadCredential = errors.New("credential mismatch")

// SetAgentCredential hashes and stores a portal credential for the agent
func (s *SQLiteStore) SetAgentCredential(ctx context.Context, agentID int64, credential string) error {
	if credential == "" {
		return fmt.Errorf("credential is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing credential: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET credential_hash = ? WHERE id = ?
	`, string(hash), agentID)
	if err != nil {
		return fmt.Errorf("storing credential hash: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Info("agent credential updated", "agent_id", agentID)
	return nil
}

// VerifyAgentCredential checks a supplied credential against the stored hash.
// Returns ErrBadCredential on mismatch or when no credential is set.
func (s *SQLiteStore) VerifyAgentCredential(ctx context.Context, agentID int64, credential string) error {
	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.CredentialHash == "" {
		return ErrBadCredential
	}

	if err := bcrypt.CompareHashAndPassword([]byte(agent.CredentialHash), []byte(credential)); err != nil {
		return ErrBadCredential
	}
	return nil
}
