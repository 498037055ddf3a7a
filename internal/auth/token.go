// ABOUTME: JWT token verification for authenticating portal requests
// ABOUTME: Uses HS256 signing with configurable secret

package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaydesk/relaydesk/internal/store"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (agentID int64, role store.AgentRole, err error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the agent id from the "sub" claim
// and the role from the "role" claim.
func (v *JWTVerifier) Verify(tokenString string) (int64, store.AgentRole, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		// Check if it's specifically an expiration error
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, "", ErrExpiredToken
		}
		return 0, "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return 0, "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return 0, "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	agentID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: sub is not an agent id", ErrInvalidToken)
	}

	roleStr, ok := claims["role"].(string)
	if !ok || roleStr == "" {
		return 0, "", fmt.Errorf("%w: role", ErrMissingClaim)
	}
	role := store.AgentRole(roleStr)
	if role != store.RoleAgent && role != store.RoleSuperAdmin {
		return 0, "", fmt.Errorf("%w: unknown role %q", ErrInvalidToken, roleStr)
	}

	return agentID, role, nil
}

// Generate creates a new JWT token for the given agent with expiration
func (v *JWTVerifier) Generate(agentID int64, role store.AgentRole, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  strconv.FormatInt(agentID, 10),
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
