// Package telegram is the operator channel: outbound notifications and an
// inbound command listener, both over the Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.telegram.org"

// Client sends messages to one authorized chat.
type Client struct {
	http   *resty.Client
	token  string
	chatID string
	logger *zap.Logger
}

// NewClient creates a client. Missing credentials yield a disabled client
// whose sends are no-ops.
func NewClient(token, chatID string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if token == "" || chatID == "" {
		logger.Warn("Telegram credentials missing, notifications disabled")
	}
	return &Client{
		http: resty.New().
			SetBaseURL(defaultBaseURL).
			SetTimeout(70 * time.Second).
			SetHeader("Content-Type", "application/json"),
		token:  token,
		chatID: chatID,
		logger: logger,
	}
}

// SetBaseURL points the client at another endpoint.
func (c *Client) SetBaseURL(url string) *Client {
	c.http.SetBaseURL(url)
	return c
}

// Enabled reports whether credentials are configured.
func (c *Client) Enabled() bool {
	return c.token != "" && c.chatID != ""
}

// ChatID is the authorized chat as a number, zero when unparsable.
func (c *Client) ChatID() int64 {
	id, _ := strconv.ParseInt(c.chatID, 10, 64)
	return id
}

type apiResponse struct {
	Ok          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

// Send posts text to the configured chat.
func (c *Client) Send(ctx context.Context, text string) error {
	if !c.Enabled() {
		return nil
	}
	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("token", c.token).
		SetBody(map[string]string{
			"chat_id": c.chatID,
			"text":    text,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/bot{token}/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.IsError() || !out.Ok {
		return fmt.Errorf("telegram API error: %s (code %d)", out.Description, out.ErrorCode)
	}
	return nil
}

// Notify sends text in the background; failures are logged.
func (c *Client) Notify(text string) {
	if !c.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := c.Send(ctx, text); err != nil {
			c.logger.Warn("Telegram alert failed", zap.Error(err))
		}
	}()
}
