package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trialmatch/protocol-engine/pkg/auth"
	"github.com/trialmatch/protocol-engine/pkg/models"
	"github.com/trialmatch/protocol-engine/pkg/repositories"
)

// UserService mirrors authenticated actors into the users table so protocol
// rows can reference them.
type UserService interface {
	// SyncActor upserts the actor named by the token claims in ctx and returns
	// its ID. It fails with auth.ErrNoActor when ctx carries no usable subject.
	SyncActor(ctx context.Context) (uuid.UUID, error)
}

type userService struct {
	userRepo repositories.UserRepository
	logger   *zap.Logger
}

// NewUserService creates a new UserService.
func NewUserService(userRepo repositories.UserRepository, logger *zap.Logger) UserService {
	return &userService{
		userRepo: userRepo,
		logger:   logger.Named("users"),
	}
}

var _ UserService = (*userService)(nil)

func (s *userService) SyncActor(ctx context.Context) (uuid.UUID, error) {
	actorID, err := auth.RequireActorID(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	claims, _ := auth.GetClaims(ctx)

	user := &models.User{ID: actorID, Name: claims.Name, Email: claims.Email}
	if err := s.userRepo.Upsert(ctx, user); err != nil {
		s.logger.Error("Failed to sync actor",
			zap.String("actor_id", actorID.String()),
			zap.Error(err))
		return uuid.Nil, fmt.Errorf("sync actor: %w", err)
	}
	return actorID, nil
}
