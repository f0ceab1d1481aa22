// Package telegram is a minimal Telegram Bot API transport: outbound
// sendMessage plus a long-polling update listener feeding the command
// dispatcher.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const apiBase = "https://api.telegram.org"

// Client sends messages and polls updates for one bot.
type Client struct {
	token  string
	chatID string
	http   *http.Client
	log    *zap.SugaredLogger
	base   string // overridable for tests
}

// NewClient builds a Telegram client bound to one chat.
func NewClient(token, chatID string, log *zap.SugaredLogger) *Client {
	return &Client{
		token:  token,
		chatID: chatID,
		http:   &http.Client{Timeout: 35 * time.Second},
		log:    log,
		base:   apiBase,
	}
}

// Message is one incoming chat message.
type Message struct {
	ChatID int64
	UserID int64
	Text   string
}

type apiResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
	} `json:"message"`
}

// Send posts text to the configured chat.
func (c *Client) Send(ctx context.Context, text string) error {
	payload := map[string]string{
		"chat_id": c.chatID,
		"text":    text,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: encoding message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.base, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("telegram: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: sendMessage: %w", err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("telegram: decoding sendMessage response: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("telegram: sendMessage returned not-ok (status %d)", resp.StatusCode)
	}
	return nil
}

// Poll long-polls getUpdates and delivers each text message to handle.
// It blocks until ctx is cancelled. Transient errors are logged and
// polling continues after a short pause.
func (c *Client) Poll(ctx context.Context, timeout time.Duration, handle func(Message)) error {
	offset := int64(0)
	timeoutSec := int(timeout / time.Second)
	if timeoutSec <= 0 {
		timeoutSec = 30
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := c.getUpdates(ctx, offset, timeoutSec)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warnw("getUpdates failed, retrying", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			handle(Message{
				ChatID: u.Message.Chat.ID,
				UserID: u.Message.From.ID,
				Text:   u.Message.Text,
			})
		}
	}
}

func (c *Client) getUpdates(ctx context.Context, offset int64, timeoutSec int) ([]update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("timeout", strconv.Itoa(timeoutSec))

	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", c.base, c.token, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: getUpdates: %w", err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("telegram: decoding getUpdates response: %w", err)
	}
	if !out.OK {
		return nil, fmt.Errorf("telegram: getUpdates returned not-ok (status %d)", resp.StatusCode)
	}

	var updates []update
	if err := json.Unmarshal(out.Result, &updates); err != nil {
		return nil, fmt.Errorf("telegram: decoding updates: %w", err)
	}
	return updates, nil
}
