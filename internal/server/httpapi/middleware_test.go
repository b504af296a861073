package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/vkminiauth/internal/common"
	"github.com/dmitrijs2005/vkminiauth/internal/logging"
	"github.com/dmitrijs2005/vkminiauth/internal/server/auth"
	"github.com/dmitrijs2005/vkminiauth/internal/server/config"
	"github.com/dmitrijs2005/vkminiauth/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret = "jwt-secret"
	testVKSecret  = "vk-secret"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
}

type fakeResolver struct {
	user *models.User
	err  error
}

func (f *fakeResolver) UserByVKID(ctx context.Context, vkID string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

func newTestMiddleware(t *testing.T, users UserResolver) *Middleware {
	t.Helper()
	cfg := &config.Config{JWTSecret: testJWTSecret, VKAppSecret: testVKSecret}
	return NewMiddleware(cfg, testLogger(), users)
}

// signedVKHeader builds a base64 X-VK-Params header signed with secret.
// Values must survive encodeURIComponent unchanged (digits and letters).
func signedVKHeader(t *testing.T, secret string, fields map[string]string) string {
	t.Helper()

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+fields[k])
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	sign := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	payload := map[string]string{"sign": sign}
	for k, v := range fields {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func markerHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	m := newTestMiddleware(t, &fakeResolver{})

	var called bool
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	m.RequireAuth(markerHandler(&called)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, codeTokenRequired, decodeError(t, rec).Error)
	assert.False(t, called)
}

func TestRequireAuth_MalformedToken(t *testing.T) {
	m := newTestMiddleware(t, &fakeResolver{})

	var called bool
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	m.RequireAuth(markerHandler(&called)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, codeInvalidToken, decodeError(t, rec).Error)
	assert.False(t, called)
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	m := newTestMiddleware(t, &fakeResolver{})

	token, err := auth.GenerateAccessToken(1, "10", []byte(testJWTSecret), -time.Minute)
	require.NoError(t, err)

	var called bool
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	m.RequireAuth(markerHandler(&called)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, codeInvalidToken, decodeError(t, rec).Error)
	assert.False(t, called)
}

func TestRequireAuth_ValidToken(t *testing.T) {
	m := newTestMiddleware(t, &fakeResolver{})

	token, err := auth.GenerateAccessToken(42, "100", []byte(testJWTSecret), time.Hour)
	require.NoError(t, err)

	var got auth.Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		got = id
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	m.RequireAuth(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), got.UserID)
	assert.Equal(t, "100", got.VKID)
}

func TestOptionalAuth_NoToken(t *testing.T) {
	m := newTestMiddleware(t, &fakeResolver{})

	var called bool
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	m.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ok := IdentityFromContext(r.Context())
		assert.False(t, ok)
	})).ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOptionalAuth_BadTokenStillProceeds(t *testing.T) {
	m := newTestMiddleware(t, &fakeResolver{})

	var called bool
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	m.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ok := IdentityFromContext(r.Context())
		assert.False(t, ok)
	})).ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOptionalAuth_ValidToken(t *testing.T) {
	m := newTestMiddleware(t, &fakeResolver{})

	token, err := auth.GenerateAccessToken(7, "70", []byte(testJWTSecret), time.Hour)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	m.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, int64(7), id.UserID)
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyVKParams_MissingHeader(t *testing.T) {
	m := newTestMiddleware(t, &fakeResolver{})

	var called bool
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/vk/register", nil)
	m.VerifyVKParams(markerHandler(&called)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, codeVKParamsRequired, decodeError(t, rec).Error)
	assert.False(t, called)
}

func TestVerifyVKParams_Garbage(t *testing.T) {
	m := newTestMiddleware(t, &fakeResolver{})

	var called bool
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/vk/register", nil)
	req.Header.Set(auth.VKParamsHeader, "%%%not-base64%%%")
	m.VerifyVKParams(markerHandler(&called)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeInvalidVKParams, decodeError(t, rec).Error)
	assert.False(t, called)
}

func TestVerifyVKParams_BadSignature(t *testing.T) {
	m := newTestMiddleware(t, &fakeResolver{})

	header := signedVKHeader(t, "wrong-secret", map[string]string{"vk_user_id": "123"})

	var called bool
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/vk/register", nil)
	req.Header.Set(auth.VKParamsHeader, header)
	m.VerifyVKParams(markerHandler(&called)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, codeInvalidVKSignature, decodeError(t, rec).Error)
	assert.False(t, called)
}

func TestVerifyVKParams_MissingUserID(t *testing.T) {
	m := newTestMiddleware(t, &fakeResolver{})

	header := signedVKHeader(t, testVKSecret, map[string]string{"vk_app_id": "7"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/vk/register", nil)
	req.Header.Set(auth.VKParamsHeader, header)
	var called bool
	m.VerifyVKParams(markerHandler(&called)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeInvalidVKParams, decodeError(t, rec).Error)
	assert.False(t, called)
}

func TestVerifyVKParams_Valid(t *testing.T) {
	m := newTestMiddleware(t, &fakeResolver{})

	header := signedVKHeader(t, testVKSecret, map[string]string{"vk_user_id": "123", "vk_app_id": "7"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/vk/register", nil)
	req.Header.Set(auth.VKParamsHeader, header)
	m.VerifyVKParams(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params, ok := LaunchParamsFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "123", params.VKUserID())
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireVKUser_ResolvesAccount(t *testing.T) {
	m := newTestMiddleware(t, &fakeResolver{user: &models.User{ID: 5, VKID: "123", Name: "Dora"}})

	header := signedVKHeader(t, testVKSecret, map[string]string{"vk_user_id": "123"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/vk/login", nil)
	req.Header.Set(auth.VKParamsHeader, header)
	m.RequireVKUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, int64(5), user.ID)

		id, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "123", id.VKID)
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireVKUser_UnknownAccount(t *testing.T) {
	m := newTestMiddleware(t, &fakeResolver{err: common.ErrorNotFound})

	header := signedVKHeader(t, testVKSecret, map[string]string{"vk_user_id": "123"})

	var called bool
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/vk/login", nil)
	req.Header.Set(auth.VKParamsHeader, header)
	m.RequireVKUser(markerHandler(&called)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeUserNotFound, decodeError(t, rec).Error)
	assert.False(t, called)
}

func TestRequireVKUser_StorageError(t *testing.T) {
	m := newTestMiddleware(t, &fakeResolver{err: errors.New("connection reset")})

	header := signedVKHeader(t, testVKSecret, map[string]string{"vk_user_id": "123"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/vk/login", nil)
	req.Header.Set(auth.VKParamsHeader, header)
	var called bool
	m.RequireVKUser(markerHandler(&called)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, called)
}

func TestRequestID_SetsHeaderAndContext(t *testing.T) {
	m := newTestMiddleware(t, &fakeResolver{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	m.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, RequestIDFromContext(r.Context()))
	})).ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
