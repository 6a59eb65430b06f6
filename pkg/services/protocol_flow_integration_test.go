//go:build integration

package services

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trialmatch/protocol-engine/pkg/apperrors"
	"github.com/trialmatch/protocol-engine/pkg/auth"
	"github.com/trialmatch/protocol-engine/pkg/config"
	"github.com/trialmatch/protocol-engine/pkg/models"
	"github.com/trialmatch/protocol-engine/pkg/repositories"
	"github.com/trialmatch/protocol-engine/pkg/testhelpers"
)

func TestProtocolFlow_Postgres(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	engineDB.TruncateAll(t)

	creator := uuid.New()
	editor := uuid.New()
	engineDB.InsertUser(t, creator, "Casey Creator", "creator@example.com")
	engineDB.InsertUser(t, editor, "Eden Editor", "editor@example.com")

	ctx, cleanup := engineDB.ScopedContext(t)
	defer cleanup()

	protocolRepo := repositories.NewProtocolRepository()
	siteRepo := repositories.NewSiteRepository()
	svc := NewProtocolService(protocolRepo, siteRepo,
		NewAccessPolicy(repositories.NewTeamMemberRepository()), newTestAuditor(), nil, zap.NewNop())

	draft := validDraft()
	draft.TeamMembers = []*models.TeamMember{{UserID: editor, Permissions: models.PermissionEdit}}
	p, err := svc.Create(ctx, creator, draft)
	require.NoError(t, err)

	// An edit member moves the protocol to review; objectives are untouched.
	patch, err := DecodeProtocolPatch([]byte(`{"status": "review"}`))
	require.NoError(t, err)
	_, err = svc.Update(ctx, editor, p.ID, patch)
	require.NoError(t, err)

	got, err := svc.Get(ctx, creator, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Status)
	assert.Equal(t, models.StatusReview, *got.Status)
	assert.Len(t, got.Objectives, 2)
	require.Len(t, got.TeamMembers, 1)
	assert.Equal(t, "Eden Editor", got.TeamMembers[0].Name)

	history, err := svc.ListHistory(ctx, creator, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, editor, *history[0].ChangedBy)

	require.NoError(t, siteRepo.Seed(ctx, []*models.Site{
		{
			DoctorID: "DOC-STRONG", FirstName: "Ada", LastName: "Strong", Email: "ada@example.com", IsActive: true,
			TherapeuticExperience: []models.TherapeuticExperience{{Area: "Oncology", TrialCount: 9}},
			TrialExperience:       models.PhaseExperience{Phase2: 5},
		},
		{
			DoctorID: "DOC-NEW", FirstName: "Ned", LastName: "New", Email: "ned@example.com", IsActive: true,
		},
	}))

	matcher := NewSiteMatcher(svc, protocolRepo, siteRepo, &fixedRandom{values: []int{50}},
		config.MatchingConfig{CandidatePoolCap: 20, PhaseExperienceThreshold: 3, UpsertAttempts: 1}, nil, zap.NewNop())

	for range 2 {
		results, err := matcher.MatchSites(ctx, editor, p.ID)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "DOC-STRONG", results[0].DoctorID)
		assert.InDelta(t, 4.0, results[0].Compatibility.Score, 1e-9)
		assert.InDelta(t, 2.4, results[1].Compatibility.Score, 1e-9)
	}

	got, err = svc.Get(ctx, creator, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Sites, 2, "re-running the match updates records in place")
	assert.Equal(t, models.SiteSelected, got.Sites[0].Status)

	report, err := NewComplianceSimulator(protocolRepo, &fixedRandom{values: []int{5, 1, 0, 0, 0, 0, 0, 0}}, nil, zap.NewNop()).
		Evaluate(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 75, report.Score)
	assert.Len(t, report.Issues, 2)

	stored, err := protocolRepo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ComplianceScore)
	assert.Equal(t, 75, *stored.ComplianceScore)
	assert.Len(t, stored.ComplianceIssues, 2)

	assert.ErrorIs(t, svc.Delete(ctx, editor, p.ID), apperrors.ErrForbidden)
	require.NoError(t, svc.Delete(ctx, creator, p.ID))
	_, err = svc.Get(ctx, creator, p.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestProtocolFlow_UnseenActorIsSynced(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	engineDB.TruncateAll(t)

	scoped, cleanup := engineDB.ScopedContext(t)
	defer cleanup()

	actor := uuid.New()
	ctx := auth.WithClaims(scoped, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: actor.String()},
		Name:             "Nia Newcomer",
		Email:            "nia@example.com",
	})

	protocolRepo := repositories.NewProtocolRepository()
	svc := NewProtocolService(protocolRepo, repositories.NewSiteRepository(),
		NewAccessPolicy(repositories.NewTeamMemberRepository()), newTestAuditor(), nil, zap.NewNop())

	synced, err := NewUserService(repositories.NewUserRepository(), zap.NewNop()).SyncActor(ctx)
	require.NoError(t, err)
	require.Equal(t, actor, synced)

	p, err := svc.Create(ctx, actor, validDraft())
	require.NoError(t, err)
	assert.Equal(t, "Nia Newcomer", p.CreatorName)

	draft := validDraft()
	draft.TeamMembers = []*models.TeamMember{{UserID: uuid.New(), Permissions: models.PermissionView}}
	_, err = svc.Create(ctx, actor, draft)
	assert.Equal(t, []string{"team_members[0].user_id does not exist"}, violations(t, err))
}
