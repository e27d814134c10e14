package store

import "time"

// AIMode controls what the auto-reply pipeline does with a user message.
type AIMode string

const (
	AIModeOff          AIMode = "off"
	AIModeAutoReply    AIMode = "auto_reply"
	AIModeHumanHandoff AIMode = "human_handoff"
)

func (m AIMode) Valid() bool {
	return m == AIModeOff || m == AIModeAutoReply || m == AIModeHumanHandoff
}

// DefaultAISettingsKey is the logical key of the settings row.
const DefaultAISettingsKey = "default"

type AISettings struct {
	ID  string
	Key *string

	IsEnabled          bool
	Mode               AIMode
	PublicChatEnabled  bool
	PrivateChatEnabled bool
	// RealtimeEnabled is the administrative switch for the change feed.
	// When false, subscribers poll instead.
	RealtimeEnabled bool

	SystemPrompt string
	// Prompts holds per-language overrides of SystemPrompt.
	Prompts map[string]string

	UpdatedAt time.Time
}

// PromptFor returns the prompt for lang, falling back to SystemPrompt.
func (s *AISettings) PromptFor(lang string) string {
	if s == nil {
		return ""
	}
	if p, ok := s.Prompts[lang]; ok && p != "" {
		return p
	}
	return s.SystemPrompt
}

// AllowsConversation reports whether the per-surface flag matching t is on.
func (s *AISettings) AllowsConversation(t ConversationType) bool {
	if s == nil {
		return false
	}
	switch t {
	case ConversationTypePublic:
		return s.PublicChatEnabled
	case ConversationTypePrivate:
		return s.PrivateChatEnabled
	}
	return false
}

// Active reports whether the settings row enables any automated behavior.
func (s *AISettings) Active() bool {
	return s != nil && s.IsEnabled && s.Mode != AIModeOff && s.Mode != ""
}
