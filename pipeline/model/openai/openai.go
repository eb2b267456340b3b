// Package openai provides a ChatModel adapter for OpenAI's chat completions.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/tripflow-go/pipeline/model"
)

// defaultModel is used when the caller does not name one.
const defaultModel = "gpt-4o-mini"

// ChatModel implements model.ChatModel for the OpenAI API.
//
// Example:
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o")
//	out, err := m.Chat(ctx, messages)
type ChatModel struct {
	modelName string
	client    openaiClient
}

// openaiClient is the single operation the adapter needs from the SDK,
// kept narrow so tests can substitute a fake.
type openaiClient interface {
	createCompletion(ctx context.Context, messages []model.Message) (model.ChatOut, error)
}

// NewChatModel creates an OpenAI-backed ChatModel. An empty modelName
// selects defaultModel.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = defaultModel
	}
	return &ChatModel{
		modelName: modelName,
		client:    &sdkClient{apiKey: apiKey, modelName: modelName},
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}
	return m.client.createCompletion(ctx, messages)
}

// sdkClient wraps the official openai-go client.
type sdkClient struct {
	apiKey    string
	modelName string
	client    *openai.Client
}

func (c *sdkClient) createCompletion(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("openai: API key is required")
	}
	if c.client == nil {
		client := openai.NewClient(option.WithAPIKey(c.apiKey))
		c.client = &client
	}

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.modelName),
		Messages: convertMessages(messages),
	})
	if err != nil {
		return model.ChatOut{}, err
	}
	if len(completion.Choices) == 0 {
		return model.ChatOut{}, errors.New("openai: empty completion")
	}

	return model.ChatOut{
		Text:  completion.Choices[0].Message.Content,
		Model: c.modelName,
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
