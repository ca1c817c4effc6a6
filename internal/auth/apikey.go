package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nikhilbhutani/jawn/internal/database"
	"github.com/nikhilbhutani/jawn/internal/models"
	"github.com/nikhilbhutani/jawn/internal/tenant"
)

type APIKeyMiddleware struct {
	db         database.DB
	headerName string
}

func NewAPIKeyMiddleware(db database.DB, headerName string) *APIKeyMiddleware {
	return &APIKeyMiddleware{
		db:         db,
		headerName: headerName,
	}
}

// Authenticate resolves the organization from an API key header. Requests
// without the header pass through untouched.
func (m *APIKeyMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(strings.TrimPrefix(r.Header.Get(m.headerName), "Bearer "))
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		hash := HashAPIKey(key)

		var ak models.APIKey
		err := m.db.QueryRow(r.Context(),
			`SELECT id, organization, user_id, key_hash, name, expires_at, created_at
			 FROM api_keys WHERE key_hash = $1 AND soft_delete = false`, hash,
		).Scan(&ak.ID, &ak.Organization, &ak.UserID, &ak.KeyHash, &ak.Name, &ak.ExpiresAt, &ak.CreatedAt)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				slog.Error("lookup api key", "error", err)
			}
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		if ak.ExpiresAt != nil && ak.ExpiresAt.Before(time.Now()) {
			writeError(w, http.StatusUnauthorized, "API key expired")
			return
		}

		if subtle.ConstantTimeCompare([]byte(ak.KeyHash), []byte(hash)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		touchCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
		if _, err := m.db.Exec(touchCtx, "UPDATE api_keys SET last_used_at = $1 WHERE id = $2", time.Now(), ak.ID); err != nil {
			slog.Warn("update api key last_used_at", "key_id", ak.ID, "error", err)
		}
		cancel()

		ctx := tenant.WithOrganization(r.Context(), ak.Organization)
		if ak.UserID != nil {
			ctx = tenant.WithUser(ctx, ak.UserID.String())
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
