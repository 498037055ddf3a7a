// ABOUTME: Bot transport adapter: long-polls for user messages and feeds the router
// ABOUTME: Auto-registers users and opens conversations on their first message

package bot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/relaydesk/relaydesk/internal/assign"
	"github.com/relaydesk/relaydesk/internal/dedupe"
	"github.com/relaydesk/relaydesk/internal/router"
	"github.com/relaydesk/relaydesk/internal/store"
)

// Dedupe window for update IDs. Polling restarts can redeliver updates the
// server already confirmed, so recently handled IDs are skipped.
const (
	dedupeTTL     = 10 * time.Minute
	dedupeMaxSize = 4096
)

// Reply texts sent back through the bot
const (
	replyGreeting   = "Hi! Send a message and we'll connect you with a support agent."
	replyConnected  = "You're connected with a support agent."
	replyWaiting    = "All our agents are currently busy. Your message has been received and an agent will reply as soon as possible."
	replyClosed     = "This conversation has been closed. Send a new message to start another one."
	replyAgentBlock = "This account is registered as a support agent. Please use the agent portal instead."
)

// PlatformClient is the slice of the bot API the adapter needs
type PlatformClient interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// UserDirectory resolves transport peers to user records
type UserDirectory interface {
	EnsureUser(ctx context.Context, chatID, fullName, username string) (*store.User, error)
}

// MessageRouter routes inbound user messages
type MessageRouter interface {
	RouteFromUser(ctx context.Context, userID int64, body string) (*router.RouteResult, error)
}

// ConversationStarter opens sessions for users without one
type ConversationStarter interface {
	StartConversation(ctx context.Context, userID int64) (*assign.StartResult, error)
}

// Adapter runs the bot side of the platform: it long-polls for updates,
// registers users, and routes their messages into sessions.
type Adapter struct {
	client      PlatformClient
	directory   UserDirectory
	router      MessageRouter
	starter     ConversationStarter
	seen        *dedupe.Cache
	pollTimeout time.Duration
	logger      *slog.Logger
}

// NewAdapter creates a bot adapter
func NewAdapter(client PlatformClient, directory UserDirectory, rt MessageRouter, starter ConversationStarter, pollTimeout time.Duration, logger *slog.Logger) *Adapter {
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	return &Adapter{
		client:      client,
		directory:   directory,
		router:      rt,
		starter:     starter,
		seen:        dedupe.New(dedupeTTL, dedupeMaxSize),
		pollTimeout: pollTimeout,
		logger:      logger.With("component", "bot"),
	}
}

// Run long-polls for updates until the context is cancelled
func (a *Adapter) Run(ctx context.Context) error {
	a.logger.Info("bot adapter started", "poll_timeout", a.pollTimeout)
	defer a.seen.Close()

	var offset int64
	for {
		updates, err := a.client.GetUpdates(ctx, offset, a.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				a.logger.Info("bot adapter stopped")
				return ctx.Err()
			}
			a.logger.Warn("polling failed, backing off", "error", err)
			select {
			case <-time.After(3 * time.Second):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			a.handleUpdate(ctx, &update)
		}
	}
}

// handleUpdate processes a single inbound update. Errors are logged, never
// fatal: one bad update must not stop the poll loop. The update key is
// recorded only after successful handling, so a transient failure leaves
// the update retryable on redelivery.
func (a *Adapter) handleUpdate(ctx context.Context, update *Update) {
	msg := update.Message
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}

	key := "update:" + strconv.FormatInt(update.UpdateID, 10)
	if a.seen.Check(key) {
		a.logger.Debug("skipping duplicate update", "update_id", update.UpdateID)
		return
	}

	if err := a.process(ctx, msg); err != nil {
		return
	}
	a.seen.Mark(key)
}

// process resolves the sender and routes the message text
func (a *Adapter) process(ctx context.Context, msg *IncomingMessage) error {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	user, err := a.directory.EnsureUser(ctx, chatID, peerName(msg.From), peerUsername(msg.From))
	if errors.Is(err, store.ErrConflict) {
		// Agents do not chat through the bot
		a.reply(ctx, msg.Chat.ID, replyAgentBlock)
		return nil
	}
	if err != nil {
		a.logger.Error("resolving user failed", "chat_id", chatID, "error", err)
		return err
	}

	if strings.HasPrefix(msg.Text, "/start") {
		a.reply(ctx, msg.Chat.ID, replyGreeting)
		return nil
	}

	return a.routeMessage(ctx, msg.Chat.ID, user, msg.Text)
}

// routeMessage routes text into the user's session, opening one when needed
func (a *Adapter) routeMessage(ctx context.Context, chatID int64, user *store.User, text string) error {
	result, err := a.router.RouteFromUser(ctx, user.ID, text)
	if err != nil {
		a.logger.Error("routing user message failed", "user_id", user.ID, "error", err)
		return err
	}

	switch result.Outcome {
	case router.OutcomeNoSession:
		start, err := a.starter.StartConversation(ctx, user.ID)
		if errors.Is(err, store.ErrConflict) {
			// Someone opened a session in the meantime; route into it
			if _, err := a.router.RouteFromUser(ctx, user.ID, text); err != nil {
				a.logger.Error("routing after conflict failed", "user_id", user.ID, "error", err)
				return err
			}
			return nil
		}
		if err != nil {
			a.logger.Error("starting conversation failed", "user_id", user.ID, "error", err)
			return err
		}

		if start.Assigned {
			a.reply(ctx, chatID, replyConnected)
		} else {
			a.reply(ctx, chatID, replyWaiting)
		}

		// The message that opened the conversation still has to land in it
		if _, err := a.router.RouteFromUser(ctx, user.ID, text); err != nil {
			a.logger.Error("routing first message failed", "user_id", user.ID, "error", err)
			return err
		}

	case router.OutcomeSessionClosed:
		a.reply(ctx, chatID, replyClosed)
	}
	return nil
}

func (a *Adapter) reply(ctx context.Context, chatID int64, text string) {
	if err := a.client.SendMessage(ctx, chatID, text); err != nil {
		a.logger.Warn("sending bot reply failed", "chat_id", chatID, "error", err)
	}
}

func peerName(p *Peer) string {
	if p == nil {
		return ""
	}
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		name = p.Username
	}
	return name
}

func peerUsername(p *Peer) string {
	if p == nil {
		return ""
	}
	return p.Username
}
