// Package auth issues and verifies the bearer tokens of the chat API.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/hrygo/concierge/plugin/chat"
)

const (
	// Issuer is the iss claim of every token.
	Issuer = "concierge"
	// DefaultTokenTTL is the lifetime of minted tokens.
	DefaultTokenTTL = 24 * time.Hour

	bearerPrefix = "Bearer "
)

var (
	// ErrMissingToken is returned when no bearer token is presented.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned when the token does not verify.
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Claims identifies the caller. The subject is the user id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator signs and parses HS256 tokens.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Sign mints a token for userID with role, valid for ttl.
func (a *Authenticator) Sign(userID, role string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := a.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse verifies token and returns the identity it carries.
func (a *Authenticator) Parse(token string) (*chat.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &chat.Identity{UserID: claims.Subject, Role: claims.Role, Token: token}, nil
}

// Authenticate resolves the identity of an Authorization header value.
func (a *Authenticator) Authenticate(header string) (*chat.Identity, error) {
	token, ok := ExtractBearerToken(header)
	if !ok {
		return nil, ErrMissingToken
	}
	return a.Parse(token)
}

// ExtractBearerToken returns the token of a "Bearer <token>" header value.
func ExtractBearerToken(header string) (string, bool) {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

type identityKey struct{}

// WithIdentity stores identity in ctx.
func WithIdentity(ctx context.Context, identity *chat.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the identity stored in ctx, nil for anonymous callers.
func IdentityFrom(ctx context.Context) *chat.Identity {
	identity, _ := ctx.Value(identityKey{}).(*chat.Identity)
	return identity
}

type tokenErrorKey struct{}

// WithTokenError records why a presented token was rejected. The caller
// stays anonymous; routes that need an identity report the error.
func WithTokenError(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, tokenErrorKey{}, err)
}

// TokenErrorFrom returns the error recorded by WithTokenError, if any.
func TokenErrorFrom(ctx context.Context) error {
	err, _ := ctx.Value(tokenErrorKey{}).(error)
	return err
}
