// Package insight produces short coaching texts through an OpenAI-compatible chat completion API.
//
// Every call is best-effort. Callers classify failures with [KindOf] and carry on without the text.
package insight

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/myrjola/struggle/internal/errors"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Request asks for an insight about a completed workout.
type Request struct {
	// Context is free text describing the workout.
	Context string
	// Metrics are structured values such as actual and target seconds.
	Metrics map[string]float64
}

type ChatRequest struct {
	Message string
	// Context describes the user's progression so replies can refer to it.
	Context string
}

// Client is the text generation collaborator.
type Client interface {
	Insight(ctx context.Context, req Request) (string, error)
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// ErrDisabled is returned by [Disabled].
var ErrDisabled = errors.NewSentinel("text generation disabled")

// Disabled is used when no API key is configured.
type Disabled struct{}

func (Disabled) Insight(context.Context, Request) (string, error) {
	return "", ErrDisabled
}

func (Disabled) Chat(context.Context, ChatRequest) (string, error) {
	return "", ErrDisabled
}

const (
	insightPrompt = "You are a blunt but encouraging fitness coach. Reply with two or three sentences of markdown " +
		"commenting on the workout result. Mention one concrete number."
	chatPrompt = "You are a fitness coach inside a workout generator app. Answer briefly in markdown. " +
		"Do not give medical advice."
)

type Config struct {
	APIKey string
	// BaseURL overrides the API endpoint. Empty means the OpenAI default.
	BaseURL string
	Model   string
}

// OpenAIClient implements Client with github.com/openai/openai-go.
type OpenAIClient struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

func NewOpenAIClient(cfg Config, logger *slog.Logger) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Insight is best-effort, a failed call is not retried.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	return &OpenAIClient{client: openai.NewClient(opts...), model: model, logger: logger}
}

func (c *OpenAIClient) Insight(ctx context.Context, req Request) (string, error) {
	var b strings.Builder
	b.WriteString(req.Context)
	for _, k := range slices.Sorted(maps.Keys(req.Metrics)) {
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(strconv.FormatFloat(req.Metrics[k], 'f', -1, 64))
	}
	return c.complete(ctx, "insight", insightPrompt, b.String())
}

func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	system := chatPrompt
	if req.Context != "" {
		system += "\nUser progress: " + req.Context
	}
	return c.complete(ctx, "chat", system, req.Message)
}

func (c *OpenAIClient) complete(ctx context.Context, operation, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		MaxCompletionTokens: openai.Int(400), //nolint:mnd // short replies only.
	})
	if err != nil {
		classified := classify(err)
		c.logger.LogAttrs(ctx, slog.LevelDebug, "chat completion failed",
			slog.String("operation", operation), slog.String("kind", string(classified.Kind)))
		return "", classified
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &Error{Kind: KindEmpty, StatusCode: 0, Err: fmt.Errorf("%s: empty completion", operation)}
	}
	return resp.Choices[0].Message.Content, nil
}
