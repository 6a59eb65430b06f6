package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trialmatch/protocol-engine/pkg/database"
	"github.com/trialmatch/protocol-engine/pkg/models"
)

// TeamMemberRepository answers permission questions without loading the
// protocol aggregate.
type TeamMemberRepository interface {
	// GetPermission returns the actor's permission level on a protocol.
	// found is false when the actor is not a team member.
	GetPermission(ctx context.Context, protocolID, userID uuid.UUID) (level models.PermissionLevel, found bool, err error)
}

type teamMemberRepository struct{}

// NewTeamMemberRepository creates a new TeamMemberRepository.
func NewTeamMemberRepository() TeamMemberRepository {
	return &teamMemberRepository{}
}

var _ TeamMemberRepository = (*teamMemberRepository)(nil)

func (r *teamMemberRepository) GetPermission(ctx context.Context, protocolID, userID uuid.UUID) (models.PermissionLevel, bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return "", false, fmt.Errorf("no database scope in context")
	}

	// Primary key lookup on (protocol_id, user_id).
	var level string
	err := scope.Conn.QueryRow(ctx, `
		SELECT permissions FROM protocol_team_members
		WHERE protocol_id = $1 AND user_id = $2`,
		protocolID, userID,
	).Scan(&level)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get team permission: %w", err)
	}

	return models.PermissionLevel(level), true, nil
}
