// ABOUTME: Tests for configuration loading
// ABOUTME: Covers env expansion, duration parsing, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
server:
  http_addr: ":8080"
database:
  path: "/tmp/relaydesk.db"
auth:
  jwt_secret: "test-secret"
`

func TestLoad_Minimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/relaydesk.db", cfg.Database.Path)
	assert.Equal(t, "test-secret", cfg.Auth.JWTSecret)

	// Defaults
	assert.Equal(t, DefaultAPIBase, cfg.Bot.APIBase)
	assert.Equal(t, DefaultPollTimeout, cfg.Bot.PollTimeout)
	assert.Equal(t, DefaultSendTimeout, cfg.Delivery.SendTimeout)
	assert.Equal(t, DefaultTokenTTL, cfg.Auth.TokenTTL)
	assert.False(t, cfg.Bot.Enabled)
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  http_addr: ":9090"
database:
  path: "/data/relaydesk.db"
auth:
  jwt_secret: "secret"
  token_ttl: "24h"
bot:
  enabled: true
  token: "bot-token"
  api_base: "https://bot.example.com"
  poll_timeout: "45s"
delivery:
  send_timeout: "5s"
logging:
  level: "debug"
  format: "json"
`))
	require.NoError(t, err)

	assert.True(t, cfg.Bot.Enabled)
	assert.Equal(t, "bot-token", cfg.Bot.Token)
	assert.Equal(t, "https://bot.example.com", cfg.Bot.APIBase)
	assert.Equal(t, 45*time.Second, cfg.Bot.PollTimeout)
	assert.Equal(t, 5*time.Second, cfg.Delivery.SendTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("RELAYDESK_TEST_SECRET", "from-env")
	t.Setenv("RELAYDESK_TEST_BOT_TOKEN", "bot-from-env")

	cfg, err := Load(writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/relaydesk.db"
auth:
  jwt_secret: "${RELAYDESK_TEST_SECRET}"
bot:
  enabled: true
  token: "${RELAYDESK_TEST_BOT_TOKEN}"
`))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "bot-from-env", cfg.Bot.Token)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http addr",
			content: `
database:
  path: "/tmp/db"
auth:
  jwt_secret: "s"
`,
			wantErr: "server.http_addr",
		},
		{
			name: "missing database path",
			content: `
server:
  http_addr: ":8080"
auth:
  jwt_secret: "s"
`,
			wantErr: "database.path",
		},
		{
			name: "missing jwt secret",
			content: `
server:
  http_addr: ":8080"
database:
  path: "/tmp/db"
`,
			wantErr: "auth.jwt_secret",
		},
		{
			name: "bot enabled without token",
			content: `
server:
  http_addr: ":8080"
database:
  path: "/tmp/db"
auth:
  jwt_secret: "s"
bot:
  enabled: true
`,
			wantErr: "bot.token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_BadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/db"
auth:
  jwt_secret: "s"
bot:
  poll_timeout: "not-a-duration"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_timeout")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
