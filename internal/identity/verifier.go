// Package identity resolves bearer credentials to stable user ids. The
// identity provider itself is external; this is the verification edge.
package identity

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/soapboxhq/soapbox/internal/domain"
)

var ErrUnauthenticated = errors.New("missing or invalid credential")

// Verifier turns a bearer credential into a stable user identity.
type Verifier interface {
	Verify(token string) (domain.UserID, error)
}

// JWTVerifier validates HS256 tokens signed by the identity provider.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify checks the signature and expiry and returns the subject claim.
func (v *JWTVerifier) Verify(tokenString string) (domain.UserID, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return "", ErrUnauthenticated
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return "", ErrUnauthenticated
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrUnauthenticated
	}
	return domain.UserID(claims.Subject), nil
}
