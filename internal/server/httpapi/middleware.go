package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/vkminiauth/internal/common"
	"github.com/dmitrijs2005/vkminiauth/internal/logging"
	"github.com/dmitrijs2005/vkminiauth/internal/server/auth"
	"github.com/dmitrijs2005/vkminiauth/internal/server/config"
	"github.com/dmitrijs2005/vkminiauth/internal/server/models"
	"github.com/google/uuid"
)

type ctxKey int

const (
	identityKey ctxKey = iota
	launchParamsKey
	vkUserKey
	requestIDKey
)

const bearerPrefix = "Bearer "

// UserResolver translates a verified VK identity into the local account.
type UserResolver interface {
	UserByVKID(ctx context.Context, vkID string) (*models.User, error)
}

// Middleware holds the request gates that run before protected handlers.
// Every gate either attaches request-scoped identity data to the context or
// short-circuits with a typed rejection; handlers behind a gate can rely on
// the attached data being present.
type Middleware struct {
	logger    logging.Logger
	jwtSecret []byte
	vkSecret  string
	users     UserResolver
}

func NewMiddleware(cfg *config.Config, l logging.Logger, users UserResolver) *Middleware {
	return &Middleware{
		logger:    l.With("module", "httpapi"),
		jwtSecret: []byte(cfg.JWTSecret),
		vkSecret:  cfg.VKAppSecret,
		users:     users,
	}
}

// IdentityFromContext returns the authenticated principal, if any.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}

// LaunchParamsFromContext returns the verified VK launch parameters, if any.
func LaunchParamsFromContext(ctx context.Context) (*auth.LaunchParams, bool) {
	p, ok := ctx.Value(launchParamsKey).(*auth.LaunchParams)
	return p, ok
}

// UserFromContext returns the account resolved by the RequireVKUser gate.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(vkUserKey).(*models.User)
	return u, ok
}

// RequestIDFromContext returns the request correlation id.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// RequestID tags every request with a correlation id, echoed in the
// X-Request-Id response header and attached to log lines.
func (m *Middleware) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	return header[len(bearerPrefix):]
}

// RequireAuth rejects requests without a valid Bearer access token.
// Expired, malformed, and wrong-kind tokens all produce the same
// invalid-token response; the actual reason only reaches the logs.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, codeTokenRequired,
				"Authorization header with Bearer token is required")
			return
		}

		claims, err := auth.ParseAccessToken(token, m.jwtSecret)
		if err != nil {
			m.logger.Debug(r.Context(), "access token rejected", "reason", err, "request_id", RequestIDFromContext(r.Context()))
			respondError(w, http.StatusUnauthorized, codeInvalidToken,
				"Access token is invalid or expired")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, auth.Identity{UserID: claims.UserID, VKID: claims.VKID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches an identity when a valid Bearer token is present and
// otherwise lets the request proceed unauthenticated. Failures never reach
// the caller; they are logged so operators can see them.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := auth.ParseAccessToken(token, m.jwtSecret)
		if err != nil {
			m.logger.Debug(r.Context(), "optional auth: token ignored", "reason", err, "request_id", RequestIDFromContext(r.Context()))
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, auth.Identity{UserID: claims.UserID, VKID: claims.VKID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verifyVKRequest runs the shared part of the VK gates: header extraction,
// decoding, and signature verification. On failure it writes the rejection
// and returns nil.
func (m *Middleware) verifyVKRequest(w http.ResponseWriter, r *http.Request) *auth.LaunchParams {
	header := r.Header.Get(auth.VKParamsHeader)
	if header == "" {
		respondError(w, http.StatusUnauthorized, codeVKParamsRequired,
			"X-VK-Params header with base64 encoded VK parameters is required")
		return nil
	}

	params, err := auth.ParseLaunchParams(header)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidVKParams,
			"Failed to decode or parse VK parameters from header")
		return nil
	}

	if !auth.VerifyLaunchParams(params, m.vkSecret) {
		m.logger.Debug(r.Context(), "vk signature rejected", "request_id", RequestIDFromContext(r.Context()))
		respondError(w, http.StatusUnauthorized, codeInvalidVKSignature,
			"VK parameters signature verification failed")
		return nil
	}

	if params.VKUserID() == "" {
		respondError(w, http.StatusBadRequest, codeInvalidVKParams,
			"vk_user_id parameter is required in VK parameters")
		return nil
	}

	return params
}

// VerifyVKParams authenticates the platform request without requiring a
// local account (the VK registration path). Verified launch parameters are
// attached to the context.
func (m *Middleware) VerifyVKParams(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params := m.verifyVKRequest(w, r)
		if params == nil {
			return
		}
		ctx := context.WithValue(r.Context(), launchParamsKey, params)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireVKUser additionally translates the verified platform identity into
// a local account. A valid signature with no matching account is a 404: the
// platform request is authentic, but there is nothing to act on.
func (m *Middleware) RequireVKUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params := m.verifyVKRequest(w, r)
		if params == nil {
			return
		}

		user, err := m.users.UserByVKID(r.Context(), params.VKUserID())
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				respondError(w, http.StatusNotFound, codeUserNotFound,
					"User with this VK ID does not exist. Please register first.")
				return
			}
			m.logger.Error(r.Context(), "vk user lookup failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
			respondError(w, http.StatusInternalServerError, codeInternalError,
				"Internal server error")
			return
		}

		ctx := context.WithValue(r.Context(), launchParamsKey, params)
		ctx = context.WithValue(ctx, vkUserKey, user)
		ctx = context.WithValue(ctx, identityKey, auth.Identity{UserID: user.ID, VKID: user.VKID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
