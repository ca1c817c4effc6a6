package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/nikhilbhutani/jawn/internal/tenant"
)

// OrganizationHeader selects the organization for JWT users that belong to
// more than one.
const OrganizationHeader = "Helicone-Organization-Id"

const anonymousUser = "anonymous"

type Claims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	OrgID string `json:"org_id,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type JWTMiddleware struct {
	secret         []byte
	allowAnonymous bool
}

// NewJWTMiddleware validates HS256 bearer tokens. With allowAnonymous set,
// requests without credentials act for the nil organization.
func NewJWTMiddleware(secret string, allowAnonymous bool) *JWTMiddleware {
	return &JWTMiddleware{
		secret:         []byte(secret),
		allowAnonymous: allowAnonymous,
	}
}

func (m *JWTMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := tenant.Organization(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}

		tokenStr := extractBearerToken(r)
		if tokenStr == "" {
			if m.allowAnonymous {
				ctx := tenant.WithOrganization(r.Context(), uuid.Nil)
				ctx = tenant.WithUser(ctx, anonymousUser)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}
		if len(m.secret) == 0 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if _, err := uuid.Parse(claims.Sub); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid user ID in token")
			return
		}

		orgStr := r.Header.Get(OrganizationHeader)
		if orgStr == "" {
			orgStr = claims.OrgID
		}
		orgID, err := uuid.Parse(orgStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing organization")
			return
		}

		ctx := tenant.WithOrganization(r.Context(), orgID)
		ctx = tenant.WithUser(ctx, claims.Sub)
		ctx = context.WithValue(ctx, claimsKey, claims)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type ctxKey string

const claimsKey ctxKey = "claims"

func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
