// Package auth implements the two authentication primitives of the service:
// self-issued access tokens (jwt.go) and verification of VK launch
// parameters (vksign.go). Both are pure: no I/O, no shared mutable state.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/vkminiauth/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// TokenKind discriminates access tokens from refresh tokens. The kind is
// checked explicitly after signature and expiry checks; a token of the wrong
// kind is never accepted regardless of where it arrived.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// RefreshTokenBytes is the entropy of an opaque refresh secret (256 bits).
const RefreshTokenBytes = 32

// Claims — структура утверждений: стандартные утверждения плюс
// идентификаторы пользователя и вид токена.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64     `json:"uid"`
	VKID   string    `json:"vk_id"`
	Kind   TokenKind `json:"kind"`
}

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID int64
	VKID   string
}

// GenerateAccessToken mints an HS256-signed access token for the given user.
func GenerateAccessToken(userID int64, vkID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	return newToken(userID, vkID, KindAccess, secretKey, validityDuration)
}

func newToken(userID int64, vkID string, kind TokenKind, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		UserID: userID,
		VKID:   vkID,
		Kind:   kind,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// NewRefreshToken produces an opaque, unguessable refresh secret. It is not
// a structured token: the only way to act on it is to look it up in the
// refresh-token store.
func NewRefreshToken() (string, error) {
	return common.MakeRandHexString(RefreshTokenBytes)
}

// ParseAccessToken verifies signature, expiry, and kind, in that order.
// It never panics on malformed input; failures map to sentinel errors:
// common.ErrTokenExpired, common.ErrWrongTokenKind, common.ErrInvalidToken.
func ParseAccessToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, common.ErrInvalidToken
		}
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	if claims.Kind != KindAccess {
		return nil, common.ErrWrongTokenKind
	}

	return claims, nil
}
