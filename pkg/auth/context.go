package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNoActor is returned when the context carries no usable actor identity.
var ErrNoActor = errors.New("actor not found in context")

// GetActorID extracts the actor's user UUID from the JWT subject.
// Returns uuid.Nil and false if not authenticated or the subject is not a UUID.
func GetActorID(ctx context.Context) (uuid.UUID, bool) {
	claims, ok := GetClaims(ctx)
	if !ok || claims.Subject == "" {
		return uuid.Nil, false
	}

	actor, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, false
	}
	return actor, true
}

// RequireActorID is GetActorID with an error for the missing case.
func RequireActorID(ctx context.Context) (uuid.UUID, error) {
	actor, ok := GetActorID(ctx)
	if !ok {
		return uuid.Nil, ErrNoActor
	}
	return actor, nil
}
