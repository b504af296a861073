package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/vkminiauth/internal/common"
	"github.com/dmitrijs2005/vkminiauth/internal/logging"
	"github.com/dmitrijs2005/vkminiauth/internal/server/models"
	"github.com/dmitrijs2005/vkminiauth/internal/server/services"
)

// AuthService is the slice of the user service the HTTP layer needs.
type AuthService interface {
	Register(ctx context.Context, vkID, name, email, password string) (*models.User, *services.TokenPair, error)
	Login(ctx context.Context, vkID, email, password string) (*models.User, *services.TokenPair, error)
	UserByVKID(ctx context.Context, vkID string) (*models.User, error)
	IssueTokens(ctx context.Context, user *models.User) (*services.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	Logout(ctx context.Context, refreshToken string) error
	Profile(ctx context.Context, userID int64) (*models.User, error)
}

// Handlers implements the HTTP endpoints of the auth API.
type Handlers struct {
	logger logging.Logger
	svc    AuthService
}

func NewHandlers(l logging.Logger, svc AuthService) *Handlers {
	return &Handlers{logger: l.With("module", "httpapi"), svc: svc}
}

// userDTO is the public projection of an account. The password hash never
// leaves the service layer.
type userDTO struct {
	ID    int64  `json:"id"`
	VKID  string `json:"vkId"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func toUserDTO(u *models.User) userDTO {
	return userDTO{ID: u.ID, VKID: u.VKID, Name: u.Name, Email: u.Email}
}

type tokensDTO struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// tokenPairResponse is the envelope returned by every endpoint that mints a
// session: the account plus its fresh token pair.
type tokenPairResponse struct {
	User   userDTO   `json:"user"`
	Tokens tokensDTO `json:"tokens"`
}

func toTokenPairResponse(u *models.User, p *services.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		User:   toUserDTO(u),
		Tokens: tokensDTO{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken},
	}
}

// Ping replies with a liveness probe.
func (h *Handlers) Ping(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	VKID     string `json:"vkId"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a password-credential account.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "Request body must be valid JSON")
		return
	}
	if req.VKID == "" || req.Name == "" {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "vkId and name are required")
		return
	}

	user, pair, err := h.svc.Register(r.Context(), req.VKID, req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			respondError(w, http.StatusConflict, codeUserExists, "User with this VK ID or email already exists")
			return
		}
		h.logger.Error(r.Context(), "register failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		respondError(w, http.StatusInternalServerError, codeInternalError, "Internal server error")
		return
	}

	respondJSON(w, http.StatusCreated, toTokenPairResponse(user, pair))
}

type loginRequest struct {
	VKID     string `json:"vkId"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies a password credential and mints a token pair.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "Request body must be valid JSON")
		return
	}
	if req.VKID == "" && req.Email == "" {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "vkId or email is required")
		return
	}

	user, pair, err := h.svc.Login(r.Context(), req.VKID, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			respondError(w, http.StatusUnauthorized, codeInvalidCredentials, "Invalid credentials")
			return
		}
		h.logger.Error(r.Context(), "login failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		respondError(w, http.StatusInternalServerError, codeInternalError, "Internal server error")
		return
	}

	respondJSON(w, http.StatusOK, toTokenPairResponse(user, pair))
}

// VKLogin runs behind the RequireVKUser gate: by the time it executes, the
// signature is verified and the account is resolved. It only mints tokens.
func (h *Handlers) VKLogin(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusInternalServerError, codeInternalError, "Internal server error")
		return
	}

	pair, err := h.svc.IssueTokens(r.Context(), user)
	if err != nil {
		h.logger.Error(r.Context(), "vk login failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		respondError(w, http.StatusInternalServerError, codeInternalError, "Internal server error")
		return
	}

	respondJSON(w, http.StatusOK, toTokenPairResponse(user, pair))
}

type vkRegisterRequest struct {
	Name string `json:"name"`
}

// VKRegister runs behind the VerifyVKParams gate: the signature is verified
// but no local account is required yet. The VK user id comes from the signed
// parameters, never from the body.
func (h *Handlers) VKRegister(w http.ResponseWriter, r *http.Request) {
	params, ok := LaunchParamsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusInternalServerError, codeInternalError, "Internal server error")
		return
	}

	var req vkRegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "Request body must be valid JSON")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "name is required")
		return
	}

	user, pair, err := h.svc.Register(r.Context(), params.VKUserID(), req.Name, "", "")
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			respondError(w, http.StatusConflict, codeUserExists, "User with this VK ID already exists")
			return
		}
		h.logger.Error(r.Context(), "vk register failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		respondError(w, http.StatusInternalServerError, codeInternalError, "Internal server error")
		return
	}

	respondJSON(w, http.StatusCreated, toTokenPairResponse(user, pair))
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// Refresh exchanges a stored refresh token for a fresh access token. Unknown,
// revoked, and expired tokens are indistinguishable to the caller.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "refreshToken is required")
		return
	}

	access, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			respondError(w, http.StatusUnauthorized, codeInvalidToken, "Refresh token is invalid or expired")
			return
		}
		h.logger.Error(r.Context(), "refresh failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		respondError(w, http.StatusInternalServerError, codeInternalError, "Internal server error")
		return
	}

	respondJSON(w, http.StatusOK, refreshResponse{AccessToken: access})
}

// Logout revokes the refresh token. Succeeds even when the token is unknown
// or already revoked.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "refreshToken is required")
		return
	}

	if err := h.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		h.logger.Error(r.Context(), "logout failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		respondError(w, http.StatusInternalServerError, codeInternalError, "Internal server error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type profileResponse struct {
	User userDTO `json:"user"`
}

// Me returns the authenticated user's profile. Runs behind RequireAuth.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeTokenRequired, "Authorization header with Bearer token is required")
		return
	}

	user, err := h.svc.Profile(r.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			respondError(w, http.StatusNotFound, codeUserNotFound, "User does not exist")
			return
		}
		h.logger.Error(r.Context(), "profile lookup failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		respondError(w, http.StatusInternalServerError, codeInternalError, "Internal server error")
		return
	}

	respondJSON(w, http.StatusOK, profileResponse{User: toUserDTO(user)})
}

type sessionResponse struct {
	Authenticated bool     `json:"authenticated"`
	User          *userDTO `json:"user,omitempty"`
}

// Session reports whether the caller presented a valid access token. Runs
// behind OptionalAuth, so a missing or bad token is not an error here.
func (h *Handlers) Session(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		respondJSON(w, http.StatusOK, sessionResponse{Authenticated: false})
		return
	}

	user, err := h.svc.Profile(r.Context(), identity.UserID)
	if err != nil {
		// the token outlived the account
		respondJSON(w, http.StatusOK, sessionResponse{Authenticated: false})
		return
	}

	dto := toUserDTO(user)
	respondJSON(w, http.StatusOK, sessionResponse{Authenticated: true, User: &dto})
}
