// ABOUTME: User-side notifier delivering agent replies back through the bot
// ABOUTME: Resolves the user's chat id from the directory for each push

package bot

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/relaydesk/relaydesk/internal/store"
)

// UserLookup resolves user ids to directory records
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
}

// UserNotifier pushes session events to users over the bot transport.
// It implements the router's user-side notifier interface.
type UserNotifier struct {
	client    PlatformClient
	directory UserLookup
	logger    *slog.Logger
}

// NewUserNotifier creates a bot-backed user notifier
func NewUserNotifier(client PlatformClient, directory UserLookup, logger *slog.Logger) *UserNotifier {
	return &UserNotifier{
		client:    client,
		directory: directory,
		logger:    logger.With("component", "bot_notifier"),
	}
}

// NotifyUser delivers an agent message to the user's chat
func (n *UserNotifier) NotifyUser(ctx context.Context, session *store.Session, msg *store.Message) bool {
	chatID, ok := n.chatID(ctx, session.UserID)
	if !ok {
		return false
	}

	if err := n.client.SendMessage(ctx, chatID, msg.Body); err != nil {
		n.logger.Warn("delivering agent message failed",
			"session_id", session.ID, "user_id", session.UserID, "error", err)
		return false
	}
	return true
}

// NotifyUserClosed tells the user their conversation has ended
func (n *UserNotifier) NotifyUserClosed(ctx context.Context, session *store.Session) {
	chatID, ok := n.chatID(ctx, session.UserID)
	if !ok {
		return
	}

	if err := n.client.SendMessage(ctx, chatID, replyClosed); err != nil {
		n.logger.Warn("delivering close notice failed",
			"session_id", session.ID, "user_id", session.UserID, "error", err)
	}
}

func (n *UserNotifier) chatID(ctx context.Context, userID int64) (int64, bool) {
	user, err := n.directory.GetUser(ctx, userID)
	if err != nil {
		n.logger.Error("looking up user failed", "user_id", userID, "error", err)
		return 0, false
	}

	chatID, err := strconv.ParseInt(user.ChatID, 10, 64)
	if err != nil {
		n.logger.Error("user chat id is not numeric", "user_id", userID, "chat_id", user.ChatID)
		return 0, false
	}
	return chatID, true
}
