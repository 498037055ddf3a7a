// Package bot is the user-facing transport: a long-polling client for a
// Telegram-style Bot API and the adapter that feeds updates into the router.
//
// # Update Loop
//
// The Adapter long-polls getUpdates, advancing the offset past each batch.
// Handled update IDs are remembered in a dedupe cache so a restarted poll
// cannot process a redelivered update twice. One bad update never stops the
// loop; errors are logged and polling backs off briefly.
//
// # First Contact
//
// Users are registered on their first message. "/start" gets a greeting;
// any other text is routed. When the user has no open session the adapter
// starts one, tells the user whether an agent picked up or they are in the
// queue, and re-routes the opening message so it lands in the new session.
//
// Chat IDs registered to agents are refused with a pointer to the portal.
//
// # Outbound
//
// UserNotifier implements the router's user-side delivery: it resolves the
// session's user to a chat ID and sends agent replies and close notices
// through the same API client.
package bot
