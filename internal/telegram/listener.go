package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Update represents a Telegram Update object (partial schema)
type Update struct {
	UpdateID int `json:"update_id"`
	Message  struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			Username string `json:"username"`
		} `json:"from"`
	} `json:"message"`
}

type UpdateResponse struct {
	Ok          bool     `json:"ok"`
	Result      []Update `json:"result"`
	Description string   `json:"description"`
	ErrorCode   int      `json:"error_code"`
}

// CommandHandler processes one command and returns the reply.
type CommandHandler func(ctx context.Context, command string) string

// Listener long-polls for commands from the authorized chat.
type Listener struct {
	client      *Client
	handler     CommandHandler
	offset      int
	pollTimeout int
	retryDelay  time.Duration
}

// NewListener creates a listener replying through client.
func NewListener(client *Client, handler CommandHandler) *Listener {
	return &Listener{client: client, handler: handler, pollTimeout: 60, retryDelay: 5 * time.Second}
}

// Run blocks until ctx is done.
func (l *Listener) Run(ctx context.Context) {
	if !l.client.Enabled() {
		l.client.logger.Info("Telegram listener: credentials missing, disabled")
		return
	}
	l.client.logger.Info("Telegram listener started")

	for ctx.Err() == nil {
		if err := l.poll(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			l.client.logger.Warn("Telegram listener error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(l.retryDelay):
			}
		}
	}
	l.client.logger.Info("Telegram listener stopped")
}

// poll fetches one batch of updates and dispatches the commands in it.
func (l *Listener) poll(ctx context.Context) error {
	var result UpdateResponse
	resp, err := l.client.http.R().
		SetContext(ctx).
		SetPathParam("token", l.client.token).
		SetQueryParam("offset", fmt.Sprint(l.offset)).
		SetQueryParam("timeout", fmt.Sprint(l.pollTimeout)).
		SetResult(&result).
		SetError(&result).
		Get("/bot{token}/getUpdates")
	if err != nil {
		return err
	}
	if resp.IsError() || !result.Ok {
		return fmt.Errorf("telegram API error: %s (code %d)", result.Description, result.ErrorCode)
	}

	authChatID := l.client.ChatID()
	for _, update := range result.Result {
		l.offset = update.UpdateID + 1

		// Access Control
		if update.Message.Chat.ID != authChatID {
			l.client.logger.Warn("unauthorized command attempt",
				zap.String("user", update.Message.From.Username),
				zap.Int64("chat_id", update.Message.Chat.ID),
				zap.String("text", update.Message.Text))
			// No reply, so the bot does not reveal itself.
			continue
		}

		text := strings.TrimSpace(update.Message.Text)
		if !strings.HasPrefix(text, "/") {
			continue
		}
		l.client.logger.Info("command received", zap.String("command", text))
		reply := l.handler(ctx, text)
		if reply == "" {
			continue
		}
		if err := l.client.Send(ctx, reply); err != nil {
			l.client.logger.Warn("Telegram reply failed", zap.Error(err))
		}
	}
	return nil
}
