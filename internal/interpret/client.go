package interpret

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Completer sends free-form text to the hosted model and returns its
// free-form reply. A single request/response, no streaming.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ClientConfig holds completion client configuration.
type ClientConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	// Timeout bounds the remote call; expiry surfaces as an error and the
	// job transitions to its error state.
	Timeout time.Duration
}

// Client implements Completer against the OpenAI chat completion API.
type Client struct {
	client  *openai.Client
	config  ClientConfig
	prompts *PromptConfig
	logger  *zap.Logger
}

// NewClient creates a completion client.
func NewClient(cfg ClientConfig, prompts *PromptConfig, logger *zap.Logger) *Client {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &Client{
		client:  openai.NewClient(cfg.APIKey),
		config:  cfg,
		prompts: prompts,
		logger:  logger,
	}
}

// Complete submits the prompt and returns the raw reply text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	c.logger.Debug("Requesting interpretation",
		zap.String("model", c.config.Model),
		zap.Int("prompt_len", len(prompt)))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: c.prompts.Interpretation.System,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	})
	if err != nil {
		c.logger.Error("Completion API call failed", zap.Error(err))
		return "", fmt.Errorf("completion API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from completion API")
	}

	content := resp.Choices[0].Message.Content
	c.logger.Info("Interpretation received",
		zap.String("model", c.config.Model),
		zap.Int("reply_len", len(content)))

	return content, nil
}
