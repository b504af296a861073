// Package refreshtokens declares the server-side repository contract for
// managing refresh tokens in persistent storage.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/vkminiauth/internal/server/models"
)

// Repository defines operations for issuing, retrieving, and revoking refresh tokens.
type Repository interface {
	// Create stores a new refresh token for userID with an expiry of now+validity.
	Create(ctx context.Context, userID int64, token string, validity time.Duration) error

	// FindActive looks up a refresh token that exists, is not revoked, and has
	// not expired. Any of those conditions failing yields the same not-found
	// error: callers must not be able to tell which check failed.
	FindActive(ctx context.Context, token string) (*models.RefreshToken, error)

	// Revoke marks a token revoked. Revoking an already-revoked or unknown
	// token is a no-op, not an error.
	Revoke(ctx context.Context, token string) error
}
