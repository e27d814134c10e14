package v1

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/concierge/plugin/ai/autoreply"
	"github.com/hrygo/concierge/plugin/chat"
	"github.com/hrygo/concierge/server/auth"
	apierrors "github.com/hrygo/concierge/server/internal/errors"
	"github.com/hrygo/concierge/server/internal/observability"
	"github.com/hrygo/concierge/server/middleware"
	"github.com/hrygo/concierge/store"
)

var guestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,64}$`)

// SendMessage is the trusted write path for chat messages. It resolves the
// sender from the caller's credentials rather than the request body, applies
// the per-caller cooldown and checks that the mode fits the conversation.
func (s *APIV1Service) SendMessage(c echo.Context) error {
	message, err := s.sendMessage(c)
	if err != nil {
		s.Metrics.SendRejections.WithLabelValues(string(apierrors.GetCodeFromError(err, apierrors.ErrCodeInternal))).Inc()
		return writeError(c, err)
	}
	return ok(c, store.NewMessageRow(message))
}

func (s *APIV1Service) sendMessage(c echo.Context) (*store.Message, error) {
	req := c.Request()
	if req.Method != http.MethodPost {
		c.Response().Header().Set(echo.HeaderAllow, http.MethodPost)
		return nil, apierrors.MethodNotAllowed(req.Method)
	}

	var body chat.SendMessageRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return nil, apierrors.InvalidArgument("request body must be a JSON object")
	}
	conversationID := strings.TrimSpace(body.ConversationID)
	text := strings.TrimSpace(body.Body)
	switch {
	case conversationID == "":
		return nil, apierrors.InvalidArgument("conversationId is required").WithDetail("field", "conversationId")
	case text == "":
		return nil, apierrors.InvalidArgument("body is required").WithDetail("field", "body")
	case utf8.RuneCountInString(text) > store.MaxMessageLength:
		return nil, apierrors.InvalidArgument("body is too long").
			WithDetail("field", "body").
			WithDetail("max_length", store.MaxMessageLength)
	case !body.Mode.Valid():
		return nil, apierrors.InvalidArgument("mode is invalid").WithDetail("field", "mode")
	}
	if body.ID != "" {
		if _, err := uuid.Parse(body.ID); err != nil {
			return nil, apierrors.InvalidArgument("id must be a UUID").WithDetail("field", "id")
		}
	}

	ctx := req.Context()
	reqCtx := observability.LoggerFrom(ctx)

	var identity *chat.Identity
	var cooldownKey, kind string
	if body.Mode == chat.ModePublicGuest {
		guestID := req.Header.Get(chat.GuestIDHeader)
		if !guestIDPattern.MatchString(guestID) {
			return nil, apierrors.InvalidArgument("x-guest-id header is missing or malformed")
		}
		cooldownKey, kind = middleware.GuestKey(guestID, c.RealIP()), "guest"
	} else {
		identity = auth.IdentityFrom(ctx)
		if identity == nil {
			return nil, unauthenticated(ctx)
		}
		if body.Mode == chat.ModeAdmin && !identity.IsAdmin() {
			return nil, apierrors.Forbidden("admin role required")
		}
		cooldownKey, kind = middleware.UserKey(identity.UserID), "user"
	}

	allowed, err := s.Cooldown.Allow(ctx, cooldownKey)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeServiceUnavailable, "cooldown is unavailable")
	}
	if !allowed {
		s.Metrics.SendsRateLimited.WithLabelValues(kind).Inc()
		return nil, apierrors.RateLimitExceeded(chat.ErrRateLimited.Error())
	}

	conversation, err := s.Store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierrors.NotFound("conversation not found")
		}
		return nil, apierrors.Internal("failed to load conversation", err)
	}
	if expected, ok := body.Mode.ConversationType(); ok && conversation.Type != expected {
		return nil, apierrors.InvalidArgument("mode does not match the conversation type").
			WithDetail("conversation_type", string(conversation.Type))
	}
	if body.Mode == chat.ModePrivateUser && (conversation.CustomerID == nil || *conversation.CustomerID != identity.UserID) {
		return nil, apierrors.Forbidden("not the owner of this conversation")
	}

	senderType, senderID, err := chat.ResolveSender(body.Mode, identity)
	if err != nil {
		return nil, apierrors.Forbidden(err.Error())
	}
	result, err := chat.NewDirectSender(s.Store, s.Effects).Send(ctx, &chat.SendRequest{
		ID:             body.ID,
		ConversationID: conversation.ID,
		Body:           text,
		Mode:           body.Mode,
		SenderType:     senderType,
		SenderID:       senderID,
	})
	if err != nil {
		if errors.Is(err, chat.ErrMessageIDTaken) {
			return nil, apierrors.InvalidArgument(err.Error()).WithDetail("field", "id")
		}
		return nil, apierrors.Internal("failed to store message", err)
	}
	message := result.Message
	if result.Replayed {
		reqCtx.Info("message already stored", slog.String(observability.LogFieldConversationID, conversation.ID))
		return message, nil
	}

	s.Metrics.MessagesSent.WithLabelValues("endpoint", string(message.SenderType)).Inc()
	if message.SenderType == store.SenderTypeUser && s.AutoReply != nil {
		trigger := autoreply.Trigger{
			Message:          message,
			ConversationType: conversation.Type,
			Language:         requestLanguage(req),
		}
		s.Effects.Go("auto_reply", func(ctx context.Context) error {
			_, err := s.AutoReply.Run(ctx, trigger)
			return err
		})
	}
	reqCtx.Info("message sent",
		slog.String(observability.LogFieldConversationID, conversation.ID),
		slog.String(observability.LogFieldMode, string(body.Mode)),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
	return message, nil
}

// requestLanguage is the first tag of Accept-Language, empty when absent.
func requestLanguage(r *http.Request) string {
	lang := r.Header.Get("Accept-Language")
	if i := strings.IndexAny(lang, ",;"); i >= 0 {
		lang = lang[:i]
	}
	return strings.TrimSpace(lang)
}
