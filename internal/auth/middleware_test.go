package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/nikhilbhutani/jawn/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims Claims, secret string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

type captured struct {
	called bool
	org    uuid.UUID
	user   string
}

func captureHandler(c *captured) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.called = true
		c.org = tenant.OrganizationID(r.Context())
		c.user = tenant.UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestJWT_ValidToken(t *testing.T) {
	user, org := uuid.New(), uuid.New()
	tok := signToken(t, Claims{
		Sub:   user.String(),
		OrgID: org.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSecret)

	var c captured
	req := httptest.NewRequest(http.MethodGet, "/v1/prompt", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	NewJWTMiddleware(testSecret, false).Authenticate(captureHandler(&c)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, org, c.org)
	assert.Equal(t, user.String(), c.user)
}

func TestJWT_OrganizationHeaderWins(t *testing.T) {
	org := uuid.New()
	tok := signToken(t, Claims{Sub: uuid.NewString(), OrgID: uuid.NewString()}, testSecret)

	var c captured
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set(OrganizationHeader, org.String())
	NewJWTMiddleware(testSecret, false).Authenticate(captureHandler(&c)).ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, org, c.org)
}

func TestJWT_Rejections(t *testing.T) {
	expired := signToken(t, Claims{
		Sub:   uuid.NewString(),
		OrgID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, testSecret)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing", "", "missing authorization token"},
		{"wrong secret", "Bearer " + signToken(t, Claims{Sub: uuid.NewString(), OrgID: uuid.NewString()}, "other"), "invalid token"},
		{"expired", "Bearer " + expired, "invalid token"},
		{"bad subject", "Bearer " + signToken(t, Claims{Sub: "nope", OrgID: uuid.NewString()}, testSecret), "invalid user ID in token"},
		{"no organization", "Bearer " + signToken(t, Claims{Sub: uuid.NewString()}, testSecret), "missing organization"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c captured
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			NewJWTMiddleware(testSecret, false).Authenticate(captureHandler(&c)).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"`+tt.want+`"}`, rec.Body.String())
			assert.False(t, c.called)
		})
	}
}

func TestJWT_Anonymous(t *testing.T) {
	var c captured
	rec := httptest.NewRecorder()
	NewJWTMiddleware("", true).Authenticate(captureHandler(&c)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uuid.Nil, c.org)
	assert.Equal(t, "anonymous", c.user)
}

func TestJWT_SkipsWhenOrganizationResolved(t *testing.T) {
	org := uuid.New()
	var c captured
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(tenant.WithOrganization(req.Context(), org))
	rec := httptest.NewRecorder()
	NewJWTMiddleware(testSecret, false).Authenticate(captureHandler(&c)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, org, c.org)
}
