// Package messaging implements the §6 Telegram-like long-poll messaging
// channel: GET /getUpdates?offset=<n>&timeout=<t> inbound, POST /sendMessage
// outbound, slash-prefixed CLI-surface commands over the same channel.
// Grounded on the teacher's internal/matrix package: Poller's
// cursor-per-room polling loop (poller.go) collapsed to a single offset
// cursor (this spec has one configured chat, not many Matrix rooms), and
// HTTPSender's hand-rolled net/http POST idiom (http_sender.go) for the
// outbound half.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	maxMessageLength  = 3900 // §6 "Message text is truncated to 3900 characters"
	defaultPollTimeout = 30 * time.Second
)

// Message is one inbound update (§6 "[{update_id, message:{chat:{id}, text}}, ...]").
type Message struct {
	UpdateID int64
	ChatID   int64
	Text     string
}

// Client is the minimal long-poll + send surface §6 describes. A real
// deployment backs this with an HTTP client against the configured
// messaging base URL; tests substitute a fake.
type Client interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Message, error)
	SendMessage(ctx context.Context, chatID int64, text string, parseMode string) error
}

// HTTPClient is the default Client, a hand-rolled net/http wrapper in the
// same idiom as internal/matrix.HTTPSender and internal/llm.Client.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPClient constructs an HTTPClient with a sane default timeout.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{Timeout: defaultPollTimeout + 10*time.Second}}
}

type getUpdatesResponse struct {
	OK     bool `json:"ok"`
	Result []struct {
		UpdateID int64 `json:"update_id"`
		Message  struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
			Text string `json:"text"`
		} `json:"message"`
	} `json:"result"`
}

// GetUpdates long-polls for new inbound messages at offset, with timeout
// bounding the server-side hold.
func (c *HTTPClient) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Message, error) {
	u := fmt.Sprintf("%s/getUpdates?offset=%d&timeout=%d", c.BaseURL, offset, int(timeout.Seconds()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: build getUpdates request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("messaging: getUpdates request: %w", err)
	}
	defer resp.Body.Close()

	var parsed getUpdatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("messaging: decode getUpdates response: %w", err)
	}

	out := make([]Message, 0, len(parsed.Result))
	for _, r := range parsed.Result {
		out = append(out, Message{UpdateID: r.UpdateID, ChatID: r.Message.Chat.ID, Text: r.Message.Text})
	}
	return out, nil
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// SendMessage posts text to chatID, truncating to maxMessageLength and
// retrying once without parse_mode on any failure (§6 "on any parse-mode
// failure, retry once without parse_mode").
func (c *HTTPClient) SendMessage(ctx context.Context, chatID int64, text string, parseMode string) error {
	text = Truncate(text)
	if err := c.postSendMessage(ctx, chatID, text, parseMode); err != nil {
		if parseMode == "" {
			return err
		}
		return c.postSendMessage(ctx, chatID, text, "")
	}
	return nil
}

func (c *HTTPClient) postSendMessage(ctx context.Context, chatID int64, text, parseMode string) error {
	payload, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, ParseMode: parseMode, DisableWebPagePreview: true})
	if err != nil {
		return fmt.Errorf("messaging: marshal sendMessage: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/sendMessage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("messaging: build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("messaging: sendMessage request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("messaging: sendMessage status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Truncate applies the §6 3900-character cap.
func Truncate(text string) string {
	if len(text) <= maxMessageLength {
		return text
	}
	return text[:maxMessageLength]
}

// CommandHandler processes one slash-prefixed command with free-text
// arguments (§6 CLI surface: /status, /evolve, /sync, /roadmap, /bridge,
// /burst, /audit, /debug) and returns a human-readable response.
type CommandHandler func(ctx context.Context, args string) (string, error)

// Router dispatches inbound messages to registered slash commands, or, for
// plain text, to a fallback introspection handler (§4.7 step 1: "each
// received message preempts the periodic cadence and invokes the
// introspect pipeline with the message as user-query").
type Router struct {
	Commands map[string]CommandHandler
	Fallback CommandHandler
	Logger   *slog.Logger
}

// NewRouter constructs an empty Router.
func NewRouter() *Router {
	return &Router{Commands: make(map[string]CommandHandler)}
}

// Register binds a slash command name (without the leading slash) to a handler.
func (r *Router) Register(name string, handler CommandHandler) {
	r.Commands[strings.ToLower(name)] = handler
}

// Dispatch routes text to a registered command, or the fallback handler if
// text doesn't start with "/".
func (r *Router) Dispatch(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		if r.Fallback == nil {
			return "", nil
		}
		return r.Fallback(ctx, text)
	}

	parts := strings.SplitN(text[1:], " ", 2)
	name := strings.ToLower(parts[0])
	args := ""
	if len(parts) == 2 {
		args = parts[1]
	}

	handler, ok := r.Commands[name]
	if !ok {
		return fmt.Sprintf("unknown command: /%s", name), nil
	}
	return handler(ctx, args)
}

// Inbox tracks the polling offset and filters updates to the configured
// chat id, bumping the offset per item to prevent replay (§4.7 step 1).
type Inbox struct {
	Client Client
	ChatID int64
	offset int64
}

// NewInbox constructs an Inbox against client, scoped to chatID.
func NewInbox(client Client, chatID int64) *Inbox {
	return &Inbox{Client: client, ChatID: chatID}
}

// Poll fetches and returns new messages addressed to the configured chat,
// advancing the offset past every update seen (matched or not) so a
// not-for-us update is never re-delivered either.
func (in *Inbox) Poll(ctx context.Context, timeout time.Duration) ([]Message, error) {
	msgs, err := in.Client.GetUpdates(ctx, in.offset, timeout)
	if err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.UpdateID >= in.offset {
			in.offset = m.UpdateID + 1
		}
		if in.ChatID != 0 && m.ChatID != in.ChatID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Offset returns the current poll offset, for status reporting.
func (in *Inbox) Offset() int64 { return in.offset }
