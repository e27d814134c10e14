package v1

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/concierge/server/auth"
	apierrors "github.com/hrygo/concierge/server/internal/errors"
	"github.com/hrygo/concierge/store"
)

// aiSettingsPayload is the wire shape of the settings row.
type aiSettingsPayload struct {
	IsEnabled          bool              `json:"is_enabled"`
	Mode               store.AIMode      `json:"mode"`
	PublicChatEnabled  bool              `json:"public_chat_enabled"`
	PrivateChatEnabled bool              `json:"private_chat_enabled"`
	RealtimeEnabled    bool              `json:"realtime_enabled"`
	SystemPrompt       string            `json:"system_prompt"`
	Prompts            map[string]string `json:"prompts,omitempty"`
	UpdatedAt          string            `json:"updated_at,omitempty"`
}

func newAISettingsPayload(s *store.AISettings) *aiSettingsPayload {
	if s == nil {
		return nil
	}
	return &aiSettingsPayload{
		IsEnabled:          s.IsEnabled,
		Mode:               s.Mode,
		PublicChatEnabled:  s.PublicChatEnabled,
		PrivateChatEnabled: s.PrivateChatEnabled,
		RealtimeEnabled:    s.RealtimeEnabled,
		SystemPrompt:       s.SystemPrompt,
		Prompts:            s.Prompts,
		UpdatedAt:          s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (s *APIV1Service) AdminListConversations(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		var err error
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxPageSize {
			return writeError(c, apierrors.InvalidArgument("limit must be between 1 and 200").WithDetail("field", "limit"))
		}
	}
	ctx := c.Request().Context()
	list, err := s.clientFor(auth.IdentityFrom(ctx)).AdminFetchConversations(ctx, limit)
	if err != nil {
		return writeError(c, toAPIError(err))
	}
	rows := make([]*store.ConversationRow, 0, len(list))
	for _, conversation := range list {
		rows = append(rows, store.NewConversationRow(conversation))
	}
	return ok(c, rows)
}

func (s *APIV1Service) AdminGetConversation(c echo.Context) error {
	ctx := c.Request().Context()
	conversation, err := s.clientFor(auth.IdentityFrom(ctx)).AdminGetConversationByID(ctx, c.Param("id"))
	if err != nil {
		return writeError(c, toAPIError(err))
	}
	return ok(c, store.NewConversationRow(conversation))
}

func (s *APIV1Service) AdminCreatePublicConversation(c echo.Context) error {
	ctx := c.Request().Context()
	conversation, err := s.clientFor(auth.IdentityFrom(ctx)).AdminCreatePublicConversationIfMissing(ctx)
	if err != nil {
		return writeError(c, toAPIError(err))
	}
	return ok(c, store.NewConversationRow(conversation))
}

// AdminGetAISettings answers null data when no settings row exists.
func (s *APIV1Service) AdminGetAISettings(c echo.Context) error {
	settings, err := s.Store.GetAISettings(c.Request().Context())
	if err != nil {
		return writeError(c, apierrors.Internal("failed to load ai settings", err))
	}
	return ok(c, newAISettingsPayload(settings))
}

// AdminUpdateAISettings replaces the settings row and drops the cached copy
// so the pipeline and the realtime gate see the change on their next read.
func (s *APIV1Service) AdminUpdateAISettings(c echo.Context) error {
	var payload aiSettingsPayload
	if err := json.NewDecoder(c.Request().Body).Decode(&payload); err != nil {
		return writeError(c, apierrors.InvalidArgument("request body must be a JSON object"))
	}
	if payload.Mode == "" {
		payload.Mode = store.AIModeOff
	}
	if !payload.Mode.Valid() {
		return writeError(c, apierrors.InvalidArgument("mode is invalid").WithDetail("field", "mode"))
	}

	settings, err := s.Store.UpsertAISettings(c.Request().Context(), &store.AISettings{
		IsEnabled:          payload.IsEnabled,
		Mode:               payload.Mode,
		PublicChatEnabled:  payload.PublicChatEnabled,
		PrivateChatEnabled: payload.PrivateChatEnabled,
		RealtimeEnabled:    payload.RealtimeEnabled,
		SystemPrompt:       payload.SystemPrompt,
		Prompts:            payload.Prompts,
	})
	if err != nil {
		return writeError(c, apierrors.Internal("failed to save ai settings", err))
	}
	if s.Settings != nil {
		s.Settings.Invalidate()
	}
	return ok(c, newAISettingsPayload(settings))
}
