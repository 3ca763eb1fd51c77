package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ClareAI/astra-callbot-service/internal/domain"
	"github.com/ClareAI/astra-callbot-service/internal/observability"
	"github.com/ClareAI/astra-callbot-service/pkg/logger"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	// MaxReplyLength bounds spoken replies, in characters
	MaxReplyLength = 500
	ellipsis       = "..."

	// FallbackErrorReply is spoken when the model cannot be reached
	FallbackErrorReply = "Something went wrong, could you repeat that?"
	// FallbackEmptyReply is spoken when the model answers with no text
	FallbackEmptyReply = "I'm having trouble understanding. Could you repeat that?"

	defaultAPIVersion = "v1beta"
)

var errEmptyText = fmt.Errorf("%w: empty reply", domain.ErrCompletion)

// Config holds the Gemini connection settings
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client turns a prompt into a short spoken reply. Failures never reach the
// caller: they are logged and replaced with a fixed fallback line.
type Client struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	metrics *observability.Metrics
}

// NewClient creates a Gemini-backed completion client. Without an API key the
// client runs disabled and answers every prompt with FallbackErrorReply.
func NewClient(ctx context.Context, cfg Config, metrics *observability.Metrics) *Client {
	c := &Client{
		model:   cfg.Model,
		timeout: cfg.Timeout,
		metrics: metrics,
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}

	if cfg.APIKey == "" {
		logger.Base().Warn("Gemini API key not provided, completion client disabled")
		return c
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{
			BaseURL:    cfg.BaseURL,
			APIVersion: defaultAPIVersion,
		}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		logger.Base().Error("Failed to create Gemini client, completion client disabled", zap.Error(err))
		return c
	}
	c.client = client

	logger.Base().Info("Gemini completion client initialized",
		zap.String("model", cfg.Model),
		zap.Duration("timeout", c.timeout))
	return c
}

// Complete sends prompt to the model and returns a reply of at most
// MaxReplyLength characters plus an ellipsis.
func (c *Client) Complete(ctx context.Context, prompt string) string {
	if c.client == nil {
		c.count("disabled")
		return FallbackErrorReply
	}

	start := time.Now()
	text, err := c.generate(ctx, prompt)
	if c.metrics != nil {
		c.metrics.CompletionDuration.Observe(time.Since(start).Seconds())
	}

	switch {
	case errors.Is(err, errEmptyText):
		logger.Base().Warn("Gemini returned an empty reply", zap.String("model", c.model))
		c.count("empty")
		return FallbackEmptyReply
	case err != nil:
		logger.Base().Error("Gemini completion failed",
			zap.String("model", c.model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		c.count("error")
		return FallbackErrorReply
	}

	c.count("success")
	return Truncate(text, MaxReplyLength)
}

// generate performs one bounded generateContent call and extracts the first
// candidate's first text part
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCompletion, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", fmt.Errorf("%w: no candidates in response", domain.ErrCompletion)
	}

	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 || content.Parts[0] == nil {
		return "", fmt.Errorf("%w: candidate has no content parts", domain.ErrCompletion)
	}

	text := strings.TrimSpace(content.Parts[0].Text)
	if text == "" {
		return "", errEmptyText
	}
	return text, nil
}

func (c *Client) count(status string) {
	if c.metrics != nil {
		c.metrics.CompletionCounter.WithLabelValues(status).Inc()
	}
}

// Truncate cuts text to max characters, appending an ellipsis when it had to cut
func Truncate(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max]) + ellipsis
}
