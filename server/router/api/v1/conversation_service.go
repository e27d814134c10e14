package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/concierge/plugin/chat"
	"github.com/hrygo/concierge/server/auth"
	apierrors "github.com/hrygo/concierge/server/internal/errors"
	"github.com/hrygo/concierge/store"
)

const maxPageSize = 200

type messagePage struct {
	Messages []*store.MessageRow `json:"messages"`
	HasMore  bool                `json:"hasMore"`
}

func (s *APIV1Service) GetPublicConversation(c echo.Context) error {
	conversation, err := s.clientFor(nil).GetPublicConversation(c.Request().Context())
	if err != nil {
		return writeError(c, toAPIError(err))
	}
	return ok(c, store.NewConversationRow(conversation))
}

func (s *APIV1Service) GetOrCreatePrivateConversation(c echo.Context) error {
	identity := auth.IdentityFrom(c.Request().Context())
	conversation, err := s.clientFor(identity).GetOrCreatePrivateConversation(c.Request().Context())
	if err != nil {
		return writeError(c, toAPIError(err))
	}
	return ok(c, store.NewConversationRow(conversation))
}

// ListMessages returns one page of a conversation in display order. The
// before query parameter is an RFC 3339 timestamp; messages strictly older
// are returned.
func (s *APIV1Service) ListMessages(c echo.Context) error {
	ctx := c.Request().Context()
	conversation, err := s.readableConversation(c)
	if err != nil {
		return writeError(c, err)
	}

	limit := chat.DefaultPageSize
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxPageSize {
			return writeError(c, apierrors.InvalidArgument("limit must be between 1 and 200").WithDetail("field", "limit"))
		}
	}
	var before *time.Time
	if raw := c.QueryParam("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return writeError(c, apierrors.InvalidArgument("before must be an RFC 3339 timestamp").WithDetail("field", "before"))
		}
		before = &t
	}

	client := s.clientFor(auth.IdentityFrom(ctx))
	hasMore, err := client.FetchMessages(ctx, conversation.ID, limit, before)
	if err != nil {
		return writeError(c, toAPIError(err))
	}
	messages := client.Messages(conversation.ID)
	page := messagePage{Messages: make([]*store.MessageRow, 0, len(messages)), HasMore: hasMore}
	for _, m := range messages {
		page.Messages = append(page.Messages, store.NewMessageRow(m))
	}
	return ok(c, page)
}

// MarkConversationRead zeroes the unread counter of the caller's side.
func (s *APIV1Service) MarkConversationRead(c echo.Context) error {
	ctx := c.Request().Context()
	conversation, err := s.readableConversation(c)
	if err != nil {
		return writeError(c, err)
	}
	identity := auth.IdentityFrom(ctx)
	client := s.clientFor(identity)
	if identity.IsAdmin() {
		client.MarkConversationReadForAdmin(ctx, conversation.ID)
	} else {
		client.MarkConversationReadForUser(ctx, conversation.ID)
	}
	return c.NoContent(http.StatusNoContent)
}

// readableConversation loads the :id conversation and checks that the caller
// may read it. Public conversations are readable by anyone; private ones by
// their customer and by admins.
func (s *APIV1Service) readableConversation(c echo.Context) (*store.Conversation, error) {
	ctx := c.Request().Context()
	conversation, err := s.Store.GetConversation(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierrors.NotFound("conversation not found")
		}
		return nil, apierrors.Internal("failed to load conversation", err)
	}
	if conversation.Type == store.ConversationTypePublic {
		return conversation, nil
	}
	identity := auth.IdentityFrom(ctx)
	if identity == nil {
		return nil, unauthenticated(ctx)
	}
	if !identity.IsAdmin() && (conversation.CustomerID == nil || *conversation.CustomerID != identity.UserID) {
		return nil, apierrors.Forbidden("not the owner of this conversation")
	}
	return conversation, nil
}

// toAPIError maps chat client errors onto the HTTP taxonomy.
func toAPIError(err error) *apierrors.APIError {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound):
		return apierrors.NotFound(chat.ErrConversationNotFound.Error())
	case errors.Is(err, chat.ErrUnauthenticated):
		return apierrors.Unauthorized("authentication required")
	case errors.Is(err, chat.ErrForbidden):
		return apierrors.Forbidden("admin role required")
	case errors.Is(err, chat.ErrRateLimited):
		return apierrors.RateLimitExceeded(chat.ErrRateLimited.Error())
	}
	return apierrors.Internal("internal error", err)
}
