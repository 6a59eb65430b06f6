package repositories

import (
	"context"
	"fmt"

	"github.com/trialmatch/protocol-engine/pkg/database"
	"github.com/trialmatch/protocol-engine/pkg/models"
)

// UserRepository keeps the local copy of actor display fields.
type UserRepository interface {
	// Upsert inserts the user or refreshes its display fields. Blank fields
	// never overwrite stored values.
	Upsert(ctx context.Context, user *models.User) error
}

type userRepository struct{}

// NewUserRepository creates a new UserRepository.
func NewUserRepository() UserRepository {
	return &userRepository{}
}

var _ UserRepository = (*userRepository)(nil)

func (r *userRepository) Upsert(ctx context.Context, user *models.User) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO users (id, name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
		    email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
		    updated_at = now()
		RETURNING name, email, created_at, updated_at`,
		user.ID, user.Name, user.Email,
	).Scan(&user.Name, &user.Email, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}
