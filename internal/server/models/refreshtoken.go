package models

import "time"

// RefreshToken is a persisted opaque refresh secret. A row is created at
// login/registration, flipped to revoked at logout, and otherwise never
// updated. Expiry is checked at read time.
type RefreshToken struct {
	ID        int64
	UserID    int64
	Token     string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}
