package services

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/trialmatch/protocol-engine/pkg/models"
	"github.com/trialmatch/protocol-engine/pkg/repositories"
)

// AccessPolicy decides what an actor may do to a protocol. The creator passes
// every check; anyone else needs a team member row with a sufficient level.
// Checks need only the protocol's owner, never the full aggregate.
type AccessPolicy interface {
	CanRead(ctx context.Context, actorID uuid.UUID, p *models.ProtocolAccess) (bool, error)
	CanMutate(ctx context.Context, actorID uuid.UUID, p *models.ProtocolAccess, required []models.PermissionLevel) (bool, error)
	CanDelete(ctx context.Context, actorID uuid.UUID, p *models.ProtocolAccess) (bool, error)
}

type accessPolicy struct {
	members repositories.TeamMemberRepository
}

// NewAccessPolicy creates an AccessPolicy backed by team member rows.
func NewAccessPolicy(members repositories.TeamMemberRepository) AccessPolicy {
	return &accessPolicy{members: members}
}

var _ AccessPolicy = (*accessPolicy)(nil)

// CanRead passes for the creator and for a team member at any level.
func (a *accessPolicy) CanRead(ctx context.Context, actorID uuid.UUID, p *models.ProtocolAccess) (bool, error) {
	if actorID == p.CreatedBy {
		return true, nil
	}
	_, found, err := a.members.GetPermission(ctx, p.ID, actorID)
	if err != nil {
		return false, err
	}
	return found, nil
}

// CanMutate passes for the creator and for a team member whose level is in required.
func (a *accessPolicy) CanMutate(ctx context.Context, actorID uuid.UUID, p *models.ProtocolAccess, required []models.PermissionLevel) (bool, error) {
	if actorID == p.CreatedBy {
		return true, nil
	}
	level, found, err := a.members.GetPermission(ctx, p.ID, actorID)
	if err != nil {
		return false, err
	}
	return found && slices.Contains(required, level), nil
}

func (a *accessPolicy) CanDelete(ctx context.Context, actorID uuid.UUID, p *models.ProtocolAccess) (bool, error) {
	return a.CanMutate(ctx, actorID, p, models.DeletePermissions)
}
