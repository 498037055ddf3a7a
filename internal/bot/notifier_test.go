// ABOUTME: Tests for the bot-backed user notifier
// ABOUTME: Covers chat id resolution and delivery failure reporting

package bot

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/store"
)

// fakeUserLookup implements UserLookup
type fakeUserLookup struct {
	users map[int64]*store.User
}

func (f *fakeUserLookup) GetUser(_ context.Context, id int64) (*store.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return user, nil
}

func TestNotifyUser(t *testing.T) {
	client := &fakeClient{}
	lookup := &fakeUserLookup{users: map[int64]*store.User{
		10: {ID: 10, ChatID: "100"},
	}}
	n := NewUserNotifier(client, lookup, slog.Default())

	session := &store.Session{ID: 1, UserID: 10, Status: store.StatusActive}
	msg := &store.Message{ID: 1, SessionID: 1, Body: "how can I help?", FromAgent: true}

	ok := n.NotifyUser(context.Background(), session, msg)
	assert.True(t, ok)
	require.Len(t, client.sent, 1)
	assert.Equal(t, "how can I help?", client.sent[0])
}

func TestNotifyUser_UnknownUser(t *testing.T) {
	client := &fakeClient{}
	n := NewUserNotifier(client, &fakeUserLookup{users: map[int64]*store.User{}}, slog.Default())

	session := &store.Session{ID: 1, UserID: 10}
	ok := n.NotifyUser(context.Background(), session, &store.Message{Body: "hi"})
	assert.False(t, ok)
	assert.Empty(t, client.sent)
}

func TestNotifyUser_NonNumericChatID(t *testing.T) {
	client := &fakeClient{}
	lookup := &fakeUserLookup{users: map[int64]*store.User{
		10: {ID: 10, ChatID: "portal-only"},
	}}
	n := NewUserNotifier(client, lookup, slog.Default())

	ok := n.NotifyUser(context.Background(), &store.Session{ID: 1, UserID: 10}, &store.Message{Body: "hi"})
	assert.False(t, ok)
}

func TestNotifyUserClosed(t *testing.T) {
	client := &fakeClient{}
	lookup := &fakeUserLookup{users: map[int64]*store.User{
		10: {ID: 10, ChatID: "100"},
	}}
	n := NewUserNotifier(client, lookup, slog.Default())

	n.NotifyUserClosed(context.Background(), &store.Session{ID: 1, UserID: 10, Status: store.StatusClosed})
	require.Len(t, client.sent, 1)
	assert.Equal(t, replyClosed, client.sent[0])
}
