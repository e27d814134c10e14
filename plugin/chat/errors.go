package chat

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	// ErrRateLimited is returned when a send arrives within the cooldown.
	ErrRateLimited = errors.New("rate_limited")
	// ErrUnauthenticated is returned when an operation needs an identity.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrConversationNotFound is returned when the target conversation is missing.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrForbidden is returned when the identity may not write as the mode asks.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidMode is returned for a mode outside the four known ones.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrMessageIDTaken is returned when a caller-minted message id already
	// names a different message.
	ErrMessageIDTaken = errors.New("message id is already taken")
)

// EndpointError is a rejection answered by the send endpoint.
type EndpointError struct {
	Status  int
	Message string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("send endpoint returned %d: %s", e.Status, e.Message)
}

// Unwrap maps the status onto the matching sentinel so callers can use
// errors.Is regardless of the send path.
func (e *EndpointError) Unwrap() error {
	switch e.Status {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrConversationNotFound
	}
	return nil
}
