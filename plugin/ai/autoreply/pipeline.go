// Package autoreply appends an ai or system message after a customer writes,
// gated by the AI settings.
package autoreply

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/concierge/store"
)

// ReplyRequest is what a provider gets to generate reply text from.
type ReplyRequest struct {
	ConversationID   string
	ConversationType store.ConversationType
	UserMessage      string
	SystemPrompt     string
	Language         string
}

// ReplyProvider generates reply text. Any error is treated as no text.
type ReplyProvider interface {
	GenerateReply(ctx context.Context, req ReplyRequest) (string, error)
}

// Store is the persistence the pipeline writes through.
type Store interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error)
	TouchConversation(ctx context.Context, m *store.Message) (*store.Conversation, error)
	CreateAILog(ctx context.Context, create *store.AILog) (*store.AILog, error)
}

// SettingsSource returns the current settings, nil when there are none.
type SettingsSource interface {
	Get(ctx context.Context) *store.AISettings
}

// Trigger is a freshly inserted message. ConversationType may be left empty
// when the caller does not know it; it is then looked up.
type Trigger struct {
	Message          *store.Message
	ConversationType store.ConversationType
	Language         string
}

// Outcome names the branch a run ended in.
type Outcome string

const (
	OutcomeSkipped Outcome = "skipped"
	OutcomeHandoff Outcome = "handoff"
	OutcomeAI      Outcome = "ai"
	OutcomeStub    Outcome = "stub"
	OutcomeFailed  Outcome = "failed"
)

const (
	reasonProviderText = "provider returned text"
	reasonStub         = "stub"
	reasonHandoff      = "human_handoff"
)

type Pipeline struct {
	store    Store
	settings SettingsSource
	provider ReplyProvider
	logger   *slog.Logger

	// OnOutcome observes every run. It may be nil.
	OnOutcome func(Outcome)
}

// NewPipeline creates a pipeline. provider may be nil, in which case every
// auto reply is the localized stub.
func NewPipeline(s Store, settings SettingsSource, provider ReplyProvider) *Pipeline {
	return &Pipeline{
		store:    s,
		settings: settings,
		provider: provider,
		logger:   slog.Default().With("component", "autoreply"),
	}
}

// Run executes the pipeline for one trigger. Guards that stop the run return
// (nil, nil); the returned message is the inserted reply.
func (p *Pipeline) Run(ctx context.Context, trigger Trigger) (*store.Message, error) {
	m := trigger.Message
	if m == nil || m.SenderType != store.SenderTypeUser {
		return nil, nil
	}
	logger := p.logger.With("conversation_id", m.ConversationID, "message_id", m.ID)

	convType := trigger.ConversationType
	if !convType.Valid() {
		conv, err := p.store.GetConversation(ctx, m.ConversationID)
		if err != nil {
			logger.Warn("auto reply skipped, conversation not resolvable", "error", err)
			p.observe(OutcomeSkipped)
			return nil, nil
		}
		convType = conv.Type
	}

	settings := p.settings.Get(ctx)
	if !settings.Active() || !settings.AllowsConversation(convType) {
		p.observe(OutcomeSkipped)
		return nil, nil
	}

	lang := normalizeLanguage(trigger.Language)
	req := ReplyRequest{
		ConversationID:   m.ConversationID,
		ConversationType: convType,
		UserMessage:      m.Body,
		SystemPrompt:     settings.PromptFor(lang),
		Language:         lang,
	}
	entry := auditEntry{
		ConversationID:   m.ConversationID,
		ConversationType: string(convType),
		MessageID:        m.ID,
		Mode:             string(settings.Mode),
		Language:         lang,
	}

	if settings.Mode == store.AIModeHumanHandoff {
		entry.Reason = reasonHandoff
		p.audit(ctx, store.AILogStatusQueued, entry)
		p.observe(OutcomeHandoff)
		return nil, nil
	}

	senderType := store.SenderTypeAI
	outcome := OutcomeAI
	entry.Reason = reasonProviderText
	body := p.generate(ctx, req, logger)
	if body == "" {
		senderType = store.SenderTypeSystem
		outcome = OutcomeStub
		entry.Reason = reasonStub
		body = StubFor(lang)
	}

	reply, err := p.store.CreateMessage(ctx, &store.Message{
		ConversationID: m.ConversationID,
		SenderType:     senderType,
		Body:           body,
	})
	if err != nil {
		p.observe(OutcomeFailed)
		return nil, errors.Wrapf(err, "failed to insert %s reply", senderType)
	}
	entry.ReplyID = reply.ID
	p.audit(ctx, store.AILogStatusSkipped, entry)
	if _, err := p.store.TouchConversation(ctx, reply); err != nil {
		logger.Warn("failed to update conversation preview", "error", err)
	}
	p.observe(outcome)
	return reply, nil
}

func (p *Pipeline) generate(ctx context.Context, req ReplyRequest, logger *slog.Logger) string {
	if p.provider == nil {
		return ""
	}
	text, err := p.provider.GenerateReply(ctx, req)
	if err != nil {
		logger.Warn("reply provider failed", "error", err)
		return ""
	}
	return truncate(strings.TrimSpace(text), store.MaxMessageLength)
}

type auditEntry struct {
	ConversationID   string `json:"conversation_id"`
	ConversationType string `json:"conversation_type"`
	MessageID        string `json:"message_id"`
	ReplyID          string `json:"reply_id,omitempty"`
	Mode             string `json:"mode"`
	Language         string `json:"language"`
	Reason           string `json:"reason"`
}

func (p *Pipeline) audit(ctx context.Context, status store.AILogStatus, entry auditEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		p.logger.Warn("failed to encode ai log", "error", err)
		return
	}
	if _, err := p.store.CreateAILog(ctx, &store.AILog{Status: status, RequestJSON: string(raw)}); err != nil {
		p.logger.Warn("failed to write ai log",
			"status", status,
			"conversation_id", entry.ConversationID,
			"error", err)
	}
}

func (p *Pipeline) observe(o Outcome) {
	if p.OnOutcome != nil {
		p.OnOutcome(o)
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
