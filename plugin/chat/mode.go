package chat

import "github.com/hrygo/concierge/store"

// Mode says on whose behalf a message is sent and into which kind of
// conversation.
type Mode string

const (
	ModePublicGuest Mode = "public_guest"
	ModePublicAuth  Mode = "public_auth"
	ModePrivateUser Mode = "private_user"
	ModeAdmin       Mode = "admin"
)

// RoleAdmin is the role claim that allows ModeAdmin.
const RoleAdmin = "admin"

func (m Mode) Valid() bool {
	switch m {
	case ModePublicGuest, ModePublicAuth, ModePrivateUser, ModeAdmin:
		return true
	}
	return false
}

// SenderType is the sender type stored for messages sent in this mode.
func (m Mode) SenderType() store.SenderType {
	if m == ModeAdmin {
		return store.SenderTypeAdmin
	}
	return store.SenderTypeUser
}

// ConversationType is the conversation type the mode writes into. Admins may
// answer in either, so ok is false for ModeAdmin.
func (m Mode) ConversationType() (t store.ConversationType, ok bool) {
	switch m {
	case ModePublicGuest, ModePublicAuth:
		return store.ConversationTypePublic, true
	case ModePrivateUser:
		return store.ConversationTypePrivate, true
	}
	return "", false
}

// Identity is an authenticated caller.
type Identity struct {
	UserID string
	Role   string
	// Token is the bearer token presented to the send endpoint.
	Token string
}

func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// ResolveSender returns the sender type and id for a message sent in mode.
// Guests write with a nil id; every other mode needs an identity, and admin
// mode an admin one.
func ResolveSender(mode Mode, identity *Identity) (store.SenderType, *string, error) {
	switch mode {
	case ModePublicGuest:
		return store.SenderTypeUser, nil, nil
	case ModePublicAuth, ModePrivateUser, ModeAdmin:
		if identity == nil || identity.UserID == "" {
			return "", nil, ErrUnauthenticated
		}
		if mode == ModeAdmin && !identity.IsAdmin() {
			return "", nil, ErrForbidden
		}
		id := identity.UserID
		return mode.SenderType(), &id, nil
	}
	return "", nil, ErrInvalidMode
}
