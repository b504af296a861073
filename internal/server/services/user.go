// Package services contains server-side business logic. This file implements
// UserService, which handles registration, login (password and VK-verified),
// minting access/refresh token pairs, refreshing, and logout.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vkminiauth/internal/common"
	"github.com/dmitrijs2005/vkminiauth/internal/dbx"
	"github.com/dmitrijs2005/vkminiauth/internal/server/auth"
	"github.com/dmitrijs2005/vkminiauth/internal/server/config"
	"github.com/dmitrijs2005/vkminiauth/internal/server/models"
	"github.com/dmitrijs2005/vkminiauth/internal/server/repositories/repomanager"
	"golang.org/x/crypto/bcrypt"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// UserService provides authentication-related operations:
// - Register: create a user and its first session
// - Login: verify credentials and mint tokens
// - UserByVKID / IssueTokens: the VK-signature login path
// - Refresh: mint a new access token from a stored refresh token
// - Logout: revoke a refresh token
type UserService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *UserService {
	return &UserService{
		db:                           db,
		repomanager:                  m,
		jwtSecret:                    []byte(cfg.JWTSecret),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
	}
}

// Register creates a new user and its first token pair in one transaction.
// A vk_id or email collision yields common.ErrorAlreadyExists.
func (s *UserService) Register(ctx context.Context, vkID, name, email, password string) (*models.User, *TokenPair, error) {
	var hash []byte
	if password != "" {
		pwd := []byte(password)
		var err error
		hash, err = bcrypt.GenerateFromPassword(pwd, bcrypt.DefaultCost)
		common.WipeByteArray(pwd)
		if err != nil {
			return nil, nil, common.ErrorInternal
		}
	}

	var user *models.User
	var pair *TokenPair
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		created, err := repo.Create(ctx, &models.User{
			VKID:         vkID,
			Name:         name,
			Email:        email,
			PasswordHash: hash,
		})
		if err != nil {
			if errors.Is(err, common.ErrorAlreadyExists) {
				return err
			}
			return fmt.Errorf("error creating user: %w", err)
		}
		user = created
		pair, err = s.generateTokenPair(ctx, user, tx)
		return err
	}); err != nil {
		return nil, nil, err
	}

	return user, pair, nil
}

// Login verifies a password credential against the account found by VK id or
// email and, on success, returns the user and a new TokenPair. Unknown user
// and wrong password are indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, vkID, email, password string) (*models.User, *TokenPair, error) {
	repo := s.repomanager.Users(s.db)

	var user *models.User
	var err error
	switch {
	case vkID != "":
		user, err = repo.GetByVKID(ctx, vkID)
	case email != "":
		user, err = repo.GetByEmail(ctx, email)
	default:
		return nil, nil, common.ErrorUnauthorized
	}
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, common.ErrorUnauthorized
		}
		return nil, nil, common.ErrorInternal
	}

	// accounts created through the VK flow have no password and cannot be
	// logged into with one
	if len(user.PasswordHash) == 0 {
		return nil, nil, common.ErrorUnauthorized
	}
	pwd := []byte(password)
	compareErr := bcrypt.CompareHashAndPassword(user.PasswordHash, pwd)
	common.WipeByteArray(pwd)
	if compareErr != nil {
		return nil, nil, common.ErrorUnauthorized
	}

	pair, err := s.generateTokenPair(ctx, user, s.db)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// UserByVKID resolves a VK identity into the local account. The VK signature
// gate uses this: a verified platform signature proves the request came from
// VK, but does not imply a local account exists, so an unknown vk id is
// common.ErrorNotFound rather than an auth failure.
func (s *UserService) UserByVKID(ctx context.Context, vkID string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByVKID(ctx, vkID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, common.ErrorInternal
	}
	return user, nil
}

// IssueTokens mints a token pair for an already-authenticated user
// (the VK-signature login path, where the gate resolved the account).
func (s *UserService) IssueTokens(ctx context.Context, user *models.User) (*TokenPair, error) {
	return s.generateTokenPair(ctx, user, s.db)
}

// Refresh validates a stored refresh token and mints a new access token.
// The refresh record itself stays valid until logout or expiry. Unknown,
// revoked, and expired tokens all yield common.ErrorUnauthorized.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	repo := s.repomanager.RefreshTokens(s.db)

	record, err := repo.FindActive(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", common.ErrorUnauthorized
		}
		return "", fmt.Errorf("error searching refresh token: %w", err)
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, record.UserID)
	if err != nil {
		return "", common.ErrorInternal
	}

	access, err := auth.GenerateAccessToken(user.ID, user.VKID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return "", common.ErrorInternal
	}
	return access, nil
}

// Logout revokes the refresh token. Revoking an already-revoked or unknown
// token succeeds: logout is idempotent by contract.
func (s *UserService) Logout(ctx context.Context, refreshToken string) error {
	repo := s.repomanager.RefreshTokens(s.db)
	if err := repo.Revoke(ctx, refreshToken); err != nil {
		return fmt.Errorf("error revoking refresh token: %w", err)
	}
	return nil
}

// Profile returns the profile projection for an authenticated user.
func (s *UserService) Profile(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, common.ErrorInternal
	}
	return user, nil
}

// --- helpers below ---

func (s *UserService) generateTokenPair(ctx context.Context, user *models.User, tx dbx.DBTX) (*TokenPair, error) {
	access, err := auth.GenerateAccessToken(user.ID, user.VKID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}
	refresh, err := auth.NewRefreshToken()
	if err != nil {
		return nil, common.ErrorInternal
	}
	refreshRepo := s.repomanager.RefreshTokens(tx)
	if err := refreshRepo.Create(ctx, user.ID, refresh, s.refreshTokenValidityDuration); err != nil {
		return nil, common.ErrorInternal
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
