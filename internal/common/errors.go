// Package common defines shared constants and sentinel errors used across
// the layers of vkminiauth. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken   = errors.New("invalid token")
	ErrWrongTokenKind = errors.New("wrong token kind")

	// Token lifecycle errors. Callers see a generic invalid-token
	// rejection; the distinction exists for logging.
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenRevoked        = errors.New("token revoked")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// ErrorValidation = errors.New("validation error")
)
