// Package users provides persistence for mini-app user accounts.
package users

import (
	"context"

	"github.com/dmitrijs2005/vkminiauth/internal/server/models"
)

// Repository defines operations on user records.
type Repository interface {
	// Create inserts a new user and returns it with the assigned ID.
	// A vk_id or email collision yields common.ErrorAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetByVKID returns the user with the given VK id, or common.ErrorNotFound.
	GetByVKID(ctx context.Context, vkID string) (*models.User, error)

	// GetByEmail returns the user with the given email, or common.ErrorNotFound.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetByID returns the user with the given internal id, or common.ErrorNotFound.
	GetByID(ctx context.Context, id int64) (*models.User, error)
}
