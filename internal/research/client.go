// Package research queries an online research model (chat-completions API)
// used to independently validate screening signals.
package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrUnavailable is set when the service cannot answer: not configured,
// breaker open, transport failure or timeout.
var ErrUnavailable = errors.New("research service unavailable")

// Response is the collaborator result. Success=false never aborts a cycle.
type Response struct {
	Answer  string
	Success bool
	Error   string
}

// Client talks to a chat-completions endpoint behind a circuit breaker.
type Client struct {
	http    *resty.Client
	apiKey  string
	model   string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient creates a research client. An empty apiKey yields a client
// that always reports unavailable.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	st := gobreaker.Settings{
		Name:     "research",
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		apiKey:  apiKey,
		model:   model,
		breaker: gobreaker.NewCircuitBreaker(st),
		logger:  logger,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

const researchSystemPrompt = "You are an equity research assistant. Be concise and factual. " +
	"Start with one line 'Sentiment: bullish', 'Sentiment: bearish' or 'Sentiment: neutral', " +
	"then a confidence line and up to five bullet points."

// Research answers a free-text query. It never returns an error; failures
// are reported through Response.Success and Response.Error.
func (c *Client) Research(ctx context.Context, query string) Response {
	if c.apiKey == "" {
		return Response{Error: ErrUnavailable.Error() + ": not configured"}
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.call(ctx, query)
	})
	if err != nil {
		c.logger.Warn("research call failed", zap.Error(err))
		return Response{Error: fmt.Sprintf("%v: %v", ErrUnavailable, err)}
	}
	return Response{Answer: out.(string), Success: true}
}

func (c *Client) call(ctx context.Context, query string) (string, error) {
	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetBody(chatRequest{
			Model: c.model,
			Messages: []message{
				{Role: "system", Content: researchSystemPrompt},
				{Role: "user", Content: query},
			},
		}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("status %d", resp.StatusCode())
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty research answer")
	}
	return out.Choices[0].Message.Content, nil
}
