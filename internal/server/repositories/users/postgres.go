package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vkminiauth/internal/common"
	"github.com/dmitrijs2005/vkminiauth/internal/dbx"
	"github.com/dmitrijs2005/vkminiauth/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the PostgreSQL error code for unique-constraint breaks.
const uniqueViolation = "23505"

// PostgresRepository implements user persistence over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new user row. Email and password hash may be empty/nil.
func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (vk_id, name, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	var email sql.NullString
	if user.Email != "" {
		email = sql.NullString{String: user.Email, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		user.VKID, user.Name, email, user.PasswordHash).Scan(&user.ID, &user.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}

	return user, nil
}

// GetByVKID returns the user with the given VK id.
func (r *PostgresRepository) GetByVKID(ctx context.Context, vkID string) (*models.User, error) {
	return r.getOne(ctx, `WHERE vk_id = $1`, vkID)
}

// GetByEmail returns the user with the given email.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `WHERE email = $1`, email)
}

// GetByID returns the user with the given internal id.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *PostgresRepository) getOne(ctx context.Context, where string, arg any) (*models.User, error) {
	query := `
		SELECT id, vk_id, name, email, password_hash, created_at
		FROM users
	` + where

	user := &models.User{}
	var email sql.NullString
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.VKID, &user.Name, &email, &user.PasswordHash, &user.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}

	user.Email = email.String
	return user, nil
}
