// Package completion wraps the text-completion model used for intent
// classification and conversational replies.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/teemow/inboxagent/internal/instrumentation"
	"github.com/teemow/inboxagent/internal/logging"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout bounds a single completion call.
	DefaultTimeout = 10 * time.Second

	defaultMaxTokens = 512
)

// ErrEmptyCompletion is returned when the model answers with no content.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// Completer turns a prompt into text. Output is untrusted.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to Completer.
type Func func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Config configures the OpenAI backed Client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// SystemPrompt is sent ahead of every prompt when set.
	SystemPrompt string
	Timeout      time.Duration
	MaxTokens    int64
}

// Client is a Completer backed by the OpenAI chat completions API or any
// compatible endpoint.
type Client struct {
	api       openai.Client
	model     string
	system    string
	timeout   time.Duration
	maxTokens int64
	metrics   *instrumentation.Metrics
	logger    *slog.Logger
}

// NewClient creates a Client. An API key is required.
func NewClient(cfg Config, metrics *instrumentation.Metrics, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("completion API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	c := &Client{
		api:       openai.NewClient(opts...),
		model:     cfg.Model,
		system:    cfg.SystemPrompt,
		timeout:   cfg.Timeout,
		maxTokens: cfg.MaxTokens,
		metrics:   metrics,
		logger:    logging.WithService(logger, "completion"),
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	return c, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Complete sends one user prompt and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if c.system != "" {
		messages = append(messages, openai.SystemMessage(c.system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            messages,
		Temperature:         openai.Float(0),
		MaxCompletionTokens: openai.Int(c.maxTokens),
	})
	duration := time.Since(start)

	if err != nil {
		status := instrumentation.StatusError
		if errors.Is(err, context.DeadlineExceeded) {
			status = instrumentation.StatusTimeout
		}
		c.metrics.RecordModelCompletion(ctx, status, duration)
		c.logger.Warn("Completion request failed",
			slog.String("model", c.model),
			slog.Duration(logging.KeyDuration, duration),
			logging.Err(err))
		return "", fmt.Errorf("completion request failed: %w", err)
	}

	c.metrics.RecordModelCompletion(ctx, instrumentation.StatusSuccess, duration)

	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}

	c.logger.Debug("Completion received",
		slog.String("model", c.model),
		slog.Duration(logging.KeyDuration, duration),
		slog.Int("chars", len(content)))

	return content, nil
}

// WithSystemPrompt returns a copy of the client that sends a different system prompt.
func (c *Client) WithSystemPrompt(system string) *Client {
	clone := *c
	clone.system = system
	return &clone
}
