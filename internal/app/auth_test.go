package app

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/allotter/internal/apperrors"
)

func TestAuth_BearerToken(t *testing.T) {
	config := testConfig()
	config.Server.EnableAuth = true
	config.Auth.Issuer = "portal"
	auth := NewAuth(config)

	token, err := auth.IssueToken("21CS001", RoleStudent, time.Hour)
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/allotment/result", nil)
		r.Header.Set("Authorization", "Bearer "+token)

		p, err := auth.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, "21CS001", p.Subject)
		assert.Equal(t, RoleStudent, p.Role)
	})

	t.Run("wrong role", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/v1/admin/allotment/run", nil)
		r.Header.Set("Authorization", "Bearer "+token)

		_, err := auth.Require(r, RoleAdmin)
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("missing header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/allotment/result", nil)
		_, err := auth.Authenticate(r)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})

	t.Run("expired token", func(t *testing.T) {
		expired, err := auth.IssueToken("21CS001", RoleStudent, -time.Minute)
		require.NoError(t, err)
		_, err = auth.ParseToken(expired)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})

	t.Run("foreign secret", func(t *testing.T) {
		other := testConfig()
		other.Auth.JWTSecret = "someone-else"
		other.Auth.Issuer = "portal"
		forged, err := NewAuth(other).IssueToken("admin", RoleAdmin, time.Hour)
		require.NoError(t, err)

		_, err = auth.ParseToken(forged)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := testConfig()
		other.Auth.Issuer = "elsewhere"
		foreign, err := NewAuth(other).IssueToken("21CS001", RoleStudent, time.Hour)
		require.NoError(t, err)

		_, err = auth.ParseToken(foreign)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})

	t.Run("unsigned token", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
			Role:             RoleAdmin,
			RegisteredClaims: jwt.RegisteredClaims{Subject: "admin", Issuer: "portal"},
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = auth.ParseToken(unsigned)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})
}

func TestAuth_Disabled(t *testing.T) {
	auth := NewAuth(testConfig())

	r := httptest.NewRequest("GET", "/api/v1/allotment/result", nil)
	r.Header.Set("X-Roll-No", "21CS002")
	r.Header.Set("X-Role", "student")

	p, err := auth.Require(r, RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, "21CS002", p.Subject)

	r.Header.Del("X-Role")
	_, err = auth.Authenticate(r)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}
