package tenant

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	orgKey  contextKey = "organization"
	userKey contextKey = "user"
)

func WithOrganization(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, orgKey, id)
}

// OrganizationID returns the organization the request acts for, or uuid.Nil.
func OrganizationID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(orgKey).(uuid.UUID)
	return id
}

func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

func UserID(ctx context.Context) string {
	u, _ := ctx.Value(userKey).(string)
	return u
}

// Organization reports whether an organization has been resolved for ctx.
func Organization(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(orgKey).(uuid.UUID)
	return id, ok
}
