// Package model provides chat-completion adapters for the LLM-backed
// pipeline stages (enhancement, fact-checking, narrative aggregation).
package model

import "context"

// ChatModel is the narrow chat-completion interface the pipeline consumes.
// No provider SDK types cross this boundary.
//
// Implementations should:
//   - Handle provider-specific authentication.
//   - Convert the Message slice to the provider's request format.
//   - Report token usage in ChatOut.Usage so the cost tracker stays accurate.
//   - Respect context cancellation and timeouts.
//
// Example:
//
//	m := openai.NewChatModel(apiKey, "gpt-4o-mini")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleUser, Content: "Summarize these travel picks."},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(out.Text)
type ChatModel interface {
	// Chat sends the conversation to the provider and returns its reply.
	//
	// Parameters:
	//   - ctx: cancellation and timeout control; the 20s stage budget is
	//     enforced by the caller.
	//   - messages: conversation history (system, user, assistant).
	//
	// Returns:
	//   - ChatOut with the generated text, model name and token usage.
	//   - error for auth failures, rate limits, network errors or
	//     context cancellation.
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message is a single turn in an LLM conversation.
type Message struct {
	// Role identifies the sender; use the Role* constants.
	Role string

	// Content is the message text.
	Content string
}

// Standard role constants, aligned with the conventions shared by the major
// providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChatOut is the provider-neutral completion result.
type ChatOut struct {
	// Text is the generated reply.
	Text string

	// Model is the concrete model that served the request, used for cost
	// attribution.
	Model string

	// Usage holds token counts when the provider reports them.
	Usage Usage
}
