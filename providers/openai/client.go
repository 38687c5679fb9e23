package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openaiapi "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/oakpass/deskhand/llm"
)

type Options struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

// Client adapts the OpenAI chat-completions API to llm.Client. Any
// OpenAI-compatible endpoint works via Options.Endpoint.
type Client struct {
	api openaiapi.Client
}

func New(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if endpoint := strings.TrimSpace(opts.Endpoint); endpoint != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(endpoint))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	return &Client{api: openaiapi.NewClient(reqOpts...)}, nil
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Response, error) {
	if c == nil {
		return llm.Response{}, fmt.Errorf("openai client is not initialized")
	}
	if ctx == nil {
		return llm.Response{}, fmt.Errorf("context is required")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return llm.Response{}, fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return llm.Response{}, fmt.Errorf("messages are required")
	}

	params := openaiapi.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: buildMessages(req.Messages),
	}
	if req.ForceJSON {
		params.ResponseFormat = openaiapi.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	started := time.Now()
	completion, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("openai chat completion returned no choices")
	}
	return llm.Response{
		Text:     strings.TrimSpace(completion.Choices[0].Message.Content),
		Duration: time.Since(started),
	}, nil
}

func buildMessages(messages []llm.Message) []openaiapi.ChatCompletionMessageParamUnion {
	out := make([]openaiapi.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case "system":
			out = append(out, openaiapi.SystemMessage(msg.Content))
		case "assistant":
			out = append(out, openaiapi.AssistantMessage(msg.Content))
		default:
			out = append(out, openaiapi.UserMessage(msg.Content))
		}
	}
	return out
}
