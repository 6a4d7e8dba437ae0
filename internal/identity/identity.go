package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims is the subset of the identity provider's token claims the
// subsystem reads.
type Claims struct {
	UserID   string `json:"sub"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Identity is the authenticated viewer. The identity provider is the source
// of truth; this adapter only holds the token it issued and the claims
// parsed out of it.
type Identity struct {
	Token    string
	UserID   string
	Username string
	expires  time.Time
}

// FromToken builds an Identity from a bearer token issued by the identity
// provider. The signature is not verified here (the provider and the server
// do that); only shape and expiry are checked, since the subsystem needs
// the viewer id to attribute unread counts.
func FromToken(token string) (*Identity, error) {
	parser := jwt.NewParser()
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	id := &Identity{Token: token, UserID: claims.UserID, Username: claims.Username}
	if claims.ExpiresAt != nil {
		id.expires = claims.ExpiresAt.Time
		if time.Now().After(id.expires) {
			return nil, ErrExpiredToken
		}
	}
	return id, nil
}

// Expired reports whether the token has an expiry in the past.
func (i *Identity) Expired() bool {
	return !i.expires.IsZero() && time.Now().After(i.expires)
}
