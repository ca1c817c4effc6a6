package models

import (
	"time"

	"github.com/google/uuid"
)

type APIKey struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Organization uuid.UUID  `json:"organization" db:"organization"`
	UserID       *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	KeyHash      string     `json:"-" db:"key_hash"`
	Name         string     `json:"name" db:"name"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}
