//go:build integration

package repositories

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialmatch/protocol-engine/pkg/models"
)

func TestUserRepository_Upsert(t *testing.T) {
	tc := setupProtocolTest(t)
	repo := NewUserRepository()
	id := uuid.New()

	first := &models.User{ID: id, Name: "Nia New", Email: "nia@example.com"}
	require.NoError(t, repo.Upsert(tc.ctx, first))
	assert.False(t, first.CreatedAt.IsZero())

	// Blank claims keep the stored display fields.
	again := &models.User{ID: id}
	require.NoError(t, repo.Upsert(tc.ctx, again))
	assert.Equal(t, "Nia New", again.Name)
	assert.Equal(t, "nia@example.com", again.Email)
	assert.True(t, first.CreatedAt.Equal(again.CreatedAt))

	renamed := &models.User{ID: id, Name: "Nia Renamed"}
	require.NoError(t, repo.Upsert(tc.ctx, renamed))
	assert.Equal(t, "Nia Renamed", renamed.Name)
	assert.Equal(t, "nia@example.com", renamed.Email)

	assert.Equal(t, 1, tc.count(`SELECT COUNT(*) FROM users WHERE id = $1`, id))
}

func TestUserRepository_UpsertedActorCanCreate(t *testing.T) {
	tc := setupProtocolTest(t)
	newcomer := uuid.New()
	require.NoError(t, NewUserRepository().Upsert(tc.ctx, &models.User{ID: newcomer}))

	p := newTestProtocol("First protocol")
	p.CreatedBy = newcomer
	created, err := tc.repo.Create(tc.ctx, p, twoObjectives(), nil)

	require.NoError(t, err)
	assert.Equal(t, newcomer, created.CreatedBy)
}
