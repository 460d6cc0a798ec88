// Package ai is the decision-inference client backed by the Gemini REST API.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"alpha_autotrader/internal/ratelimit"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("AI client not configured")

// Client calls Gemini generateContent and returns the candidate text.
type Client struct {
	http   *resty.Client
	apiKey string
	model  string
	logger *zap.Logger
}

// NewClient builds a client. An empty model defaults to gemini-2.5-flash.
func NewClient(apiKey, model string, timeout time.Duration, logger *zap.Logger) *Client {
	if model == "" {
		model = "gemini-2.5-flash" // Sensible default
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if apiKey == "" {
		logger.Warn("GEMINI_API_KEY not found, decision inference disabled; every ticker will hold")
	}

	c := resty.New().
		SetBaseURL(defaultBaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{http: c, apiKey: apiKey, model: model, logger: logger}
}

// SetBaseURL points the client at another endpoint.
func (c *Client) SetBaseURL(url string) *Client {
	c.http.SetBaseURL(url)
	return c
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	SystemInstruction *content         `json:"system_instruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"response_mime_type"`
	Temperature      float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Generate sends one prompt and returns the raw model text, expected to be
// JSON but not trusted to be. Throttling status codes wrap
// ratelimit.ErrThrottled so the controller can back off.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}

	body := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			Temperature:      0.2,
		},
	}
	if system != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}

	var out generateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("key", c.apiKey).
		SetBody(body).
		SetResult(&out).
		Post(fmt.Sprintf("/models/%s:generateContent", c.model))
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return "", fmt.Errorf("gemini status %d: %w", resp.StatusCode(), ratelimit.ErrThrottled)
	default:
		return "", fmt.Errorf("gemini status %d: %s", resp.StatusCode(), truncate(resp.String(), 300))
	}

	if len(out.Candidates) == 0 {
		if out.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("gemini blocked prompt: %s", out.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("no candidates in AI response")
	}

	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty AI response (finish reason %q)", out.Candidates[0].FinishReason)
	}
	c.logger.Debug("gemini response", zap.Int("chars", len(text)))
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
