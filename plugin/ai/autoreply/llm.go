package autoreply

import (
	"context"
	"fmt"

	"github.com/hrygo/concierge/plugin/ai"
)

const defaultSystemPrompt = "You are the concierge assistant of a travel company. " +
	"Answer briefly and politely in the customer's language. " +
	"If you cannot help, say that a team member will follow up."

// Chatter is the chat completion surface of ai.Provider.
type Chatter interface {
	Chat(ctx context.Context, messages []ai.Message) (string, error)
}

// LLMProvider generates replies with a chat completion model.
type LLMProvider struct {
	chat Chatter
}

func NewLLMProvider(chat Chatter) *LLMProvider {
	return &LLMProvider{chat: chat}
}

// NewProviderFromConfig returns the model-backed provider for cfg, or nil
// when no model is configured and every reply is the stub.
func NewProviderFromConfig(cfg *ai.Config) (ReplyProvider, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	chatProvider, err := ai.NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	return NewLLMProvider(chatProvider), nil
}

func (p *LLMProvider) GenerateReply(ctx context.Context, req ReplyRequest) (string, error) {
	prompt := req.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	messages := []ai.Message{
		{Role: "system", Content: fmt.Sprintf("%s\nConversation: %s. Language: %s.", prompt, req.ConversationType, req.Language)},
		{Role: "user", Content: req.UserMessage},
	}
	return p.chat.Chat(ctx, messages)
}
