package chat

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hrygo/concierge/store"
)

// SendMessagePath is the route of the server-side send endpoint.
const SendMessagePath = "/functions/chat-send-message"

// GuestIDHeader carries the opaque guest identifier.
const GuestIDHeader = "x-guest-id"

// SendMessageRequest is the body of the send endpoint.
type SendMessageRequest struct {
	// ID is optional; the server mints one when it is empty.
	ID             string `json:"id,omitempty"`
	ConversationID string `json:"conversationId"`
	Body           string `json:"body"`
	Mode           Mode   `json:"mode"`
}

// ErrorBody is the error object of the send endpoint.
type ErrorBody struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
	Details any    `json:"details,omitempty"`
}

type sendMessageResponse struct {
	Data  *store.MessageRow `json:"data"`
	Error *ErrorBody        `json:"error"`
}

// EndpointSender calls the send endpoint, which resolves the sender,
// enforces cooldown and authorization, and dispatches the auto reply on its
// own.
type EndpointSender struct {
	httpClient *resty.Client
	now        func() time.Time
}

func NewEndpointSender(baseURL string) *EndpointSender {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("User-Agent", "concierge-chat/1.0").
		SetTimeout(10 * time.Second)
	return &EndpointSender{httpClient: httpClient, now: time.Now}
}

func (s *EndpointSender) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	var envelope sendMessageResponse
	r := s.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(SendMessageRequest{
			ID:             req.ID,
			ConversationID: req.ConversationID,
			Body:           req.Body,
			Mode:           req.Mode,
		}).
		SetResult(&envelope).
		SetError(&envelope)
	if req.Token != "" {
		r.SetAuthToken(req.Token)
	}
	if req.GuestID != "" {
		r.SetHeader(GuestIDHeader, req.GuestID)
	}
	if req.Language != "" {
		r.SetHeader("Accept-Language", req.Language)
	}

	resp, err := r.Post(SendMessagePath)
	if err != nil {
		return nil, fmt.Errorf("send endpoint request failed: %w", err)
	}
	if resp.IsError() {
		message := strings.TrimSpace(resp.String())
		if envelope.Error != nil && envelope.Error.Message != "" {
			message = envelope.Error.Message
		}
		return nil, &EndpointError{Status: resp.StatusCode(), Message: message}
	}

	message, err := envelope.Data.Decode(s.now())
	if err != nil {
		return nil, &EndpointError{Status: http.StatusBadGateway, Message: err.Error()}
	}
	return &SendResult{Message: message, AutoReplyHandled: true}, nil
}
