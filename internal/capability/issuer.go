// Package capability mints the short-lived media-access tokens handed to
// clients. The external media server is reached only through these tokens;
// this process never touches audio itself.
package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/soapboxhq/soapbox/internal/domain"
)

// Grants are the media rights encoded in one capability.
type Grants struct {
	CanPublish   bool `json:"can_publish"`
	CanSubscribe bool `json:"can_subscribe"`
}

// GrantsForRole is the single place the role→rights mapping lives. Every
// site that issues or re-issues a capability goes through it.
func GrantsForRole(role domain.Role) Grants {
	return Grants{
		CanPublish:   role.CanPublish(),
		CanSubscribe: true,
	}
}

// Issuer mints capability tokens scoped to one user in one room.
type Issuer interface {
	Issue(ctx context.Context, userID domain.UserID, roomID domain.RoomID, grants Grants) (string, error)
}

// Claims is the capability token payload.
type Claims struct {
	RoomID       string `json:"room_id"`
	CanPublish   bool   `json:"can_publish"`
	CanSubscribe bool   `json:"can_subscribe"`
	jwt.RegisteredClaims
}

// JWTIssuer signs capabilities with an HMAC shared with the media server.
type JWTIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTIssuer builds an issuer. ttl is the fixed expiry horizon for every
// minted token.
func NewJWTIssuer(secret string, ttl time.Duration) *JWTIssuer {
	return &JWTIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue mints one signed capability token.
func (i *JWTIssuer) Issue(ctx context.Context, userID domain.UserID, roomID domain.RoomID, grants Grants) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := time.Now()
	claims := &Claims{
		RoomID:       string(roomID),
		CanPublish:   grants.CanPublish,
		CanSubscribe: grants.CanSubscribe,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			Issuer:    "soapbox",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign capability token: %w", err)
	}
	return signed, nil
}

// Parse validates a capability token and returns its claims. The media
// server side of the contract; kept here so tests can close the loop.
func (i *JWTIssuer) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}
