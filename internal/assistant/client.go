package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/mschirtzinger/studysync/internal/logging"
)

// ErrNoAPIKey is returned by NewClient without an API key.
var ErrNoAPIKey = errors.New("assistant api key is not configured")

// Config configures a Client.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64

	// BaseURL overrides the API endpoint.
	BaseURL string

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 2048,
	}
}

// Request describes what the user asked for.
type Request struct {
	Prompt   string
	Today    string
	Subjects []string
}

// Client asks the Messages API for task suggestions.
type Client struct {
	api       anthropic.Client
	model     string
	maxTokens int64
	logger    *zap.Logger
}

// NewClient creates a client.
func NewClient(config *Config) (*Client, error) {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	if config.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	model := config.Model
	if model == "" {
		model = def.Model
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = def.MaxTokens
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &Client{
		api:       anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		logger:    logging.OrNop(config.Logger).Named("assistant"),
	}, nil
}

const systemPrompt = `You plan study sessions. Reply with one JSON object and nothing else.
Either {"type":"preview_tasks","tasks":[{"subject":"...","topic":"...","date":"YYYY-MM-DD","details":"...","studyType":"study|review|exam|analysis|test_educational|test_speed"}]}
or {"type":"autopilot_series","series":{"subject":"...","topics":["..."],"startDate":"YYYY-MM-DD","intervalDays":1,"studyType":"study"}}.`

// Suggest sends req and parses the reply into a payload.
func (c *Client) Suggest(ctx context.Context, req Request) (Payload, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s.\n", req.Today)
	if len(req.Subjects) > 0 {
		fmt.Fprintf(&b, "My subjects: %s.\n", strings.Join(req.Subjects, ", "))
	}
	b.WriteString(req.Prompt)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(b.String())),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query assistant: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	c.logger.Debug("assistant replied",
		zap.String("model", c.model),
		zap.Int64("outputTokens", msg.Usage.OutputTokens))

	raw, ok := ExtractJSON(text.String())
	if !ok {
		return nil, fmt.Errorf("%w: reply contains no JSON object", ErrUnknownPayload)
	}
	return Parse(raw)
}
