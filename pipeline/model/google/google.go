// Package google provides a ChatModel adapter for Google's Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/tripflow-go/pipeline/model"
)

// defaultModel is used when the caller does not name one.
const defaultModel = "gemini-1.5-flash"

// ChatModel implements model.ChatModel for the Gemini API.
//
// Gemini's safety filters can block prompts or replies; blocked content
// surfaces as a SafetyFilterError so callers can detect it with errors.As.
//
// Example:
//
//	m := google.NewChatModel(os.Getenv("GOOGLE_API_KEY"), "")
//	out, err := m.Chat(ctx, messages)
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("blocked: %s", safetyErr.Reason)
//	}
type ChatModel struct {
	modelName string
	client    googleClient
}

// googleClient is the single operation the adapter needs from the SDK,
// kept narrow so tests can substitute a fake.
type googleClient interface {
	generateContent(ctx context.Context, systemPrompt, prompt string) (model.ChatOut, error)
}

// SafetyFilterError reports content blocked by Gemini's safety filters.
type SafetyFilterError struct {
	Reason string
}

func (e *SafetyFilterError) Error() string {
	return "google: content blocked by safety filter: " + e.Reason
}

// NewChatModel creates a Gemini-backed ChatModel. An empty modelName selects
// defaultModel.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = defaultModel
	}
	return &ChatModel{
		modelName: modelName,
		client:    &sdkClient{apiKey: apiKey, modelName: modelName},
	}
}

// Chat implements model.ChatModel. The conversation is flattened into a
// single prompt; Gemini receives the system prompt through its dedicated
// system-instruction parameter.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}
	systemPrompt, prompt := flatten(messages)
	return m.client.generateContent(ctx, systemPrompt, prompt)
}

// flatten folds the conversation into one prompt string, separating the
// system instruction.
func flatten(messages []model.Message) (systemPrompt, prompt string) {
	var sb strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
		case model.RoleAssistant:
			sb.WriteString("Assistant: ")
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		default:
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
	}
	return systemPrompt, sb.String()
}

// sdkClient wraps the official generative-ai-go client. The client is
// created lazily on first use so construction never needs a context.
type sdkClient struct {
	apiKey    string
	modelName string
	client    *genai.Client
}

func (c *sdkClient) generateContent(ctx context.Context, systemPrompt, prompt string) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("google: API key is required")
	}
	if c.client == nil {
		client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
		if err != nil {
			return model.ChatOut{}, fmt.Errorf("google: creating client: %w", err)
		}
		c.client = client
	}

	gm := c.client.GenerativeModel(c.modelName)
	if systemPrompt != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}

	resp, err := gm.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return model.ChatOut{}, err
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return model.ChatOut{}, &SafetyFilterError{Reason: resp.PromptFeedback.BlockReason.String()}
		}
		return model.ChatOut{}, errors.New("google: empty response")
	}

	var text string
	if content := resp.Candidates[0].Content; content != nil {
		for _, part := range content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
	}

	out := model.ChatOut{Text: text, Model: c.modelName}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}
