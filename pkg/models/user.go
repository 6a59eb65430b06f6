package models

import (
	"time"

	"github.com/google/uuid"
)

// User mirrors the display fields of an identity-provider account. Rows are
// written from token claims the first time a user creates or edits a protocol.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
