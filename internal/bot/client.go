// ABOUTME: HTTP client for the bot platform's long-poll API
// ABOUTME: Covers getUpdates and sendMessage, the two calls the adapter needs

package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Update is one inbound event from the bot platform
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *IncomingMessage `json:"message,omitempty"`
}

// IncomingMessage is a user message carried by an update
type IncomingMessage struct {
	MessageID int64  `json:"message_id"`
	From      *Peer  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
}

// Peer identifies the sender of a message
type Peer struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Chat identifies the conversation a message belongs to
type Chat struct {
	ID int64 `json:"id"`
}

// apiResponse is the platform's envelope around every reply
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Client talks to the bot platform API
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a bot API client. baseURL is the platform root
// (e.g. https://api.telegram.org); token is the bot credential.
func NewClient(baseURL, token string, pollTimeout time.Duration) *Client {
	return &Client{
		// The HTTP timeout must outlast the long-poll hold time
		httpClient: &http.Client{Timeout: pollTimeout + 10*time.Second},
		baseURL:    baseURL,
		token:      token,
	}
}

// GetUpdates long-polls for new updates starting at offset. The call blocks
// server-side for up to timeout before returning an empty batch.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(int(timeout.Seconds())))

	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", c.baseURL, c.token, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building getUpdates request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling getUpdates: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading getUpdates response: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding getUpdates response: %w", err)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("getUpdates rejected: %s", envelope.Description)
	}

	var updates []Update
	if err := json.Unmarshal(envelope.Result, &updates); err != nil {
		return nil, fmt.Errorf("decoding updates: %w", err)
	}
	return updates, nil
}

// SendMessage sends a text message to a chat
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("encoding sendMessage payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling sendMessage: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading sendMessage response: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decoding sendMessage response: %w", err)
	}
	if !envelope.OK {
		return fmt.Errorf("sendMessage rejected: %s", envelope.Description)
	}
	return nil
}
