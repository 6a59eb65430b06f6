package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trialmatch/protocol-engine/pkg/apperrors"
	"github.com/trialmatch/protocol-engine/pkg/config"
	"github.com/trialmatch/protocol-engine/pkg/models"
)

func area(s string) *string { return &s }

func candidate(doctorID string, experience *string, phase2 int) *models.CandidateSite {
	return &models.CandidateSite{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		FirstName:       "Dr",
		LastName:        doctorID,
		ExperienceArea:  experience,
		TrialExperience: models.PhaseExperience{Phase2: phase2},
	}
}

func TestScoreCandidate(t *testing.T) {
	oncology := &models.ProtocolSummary{TherapeuticArea: "Oncology", Phase: models.Phase2}

	tests := []struct {
		name       string
		summary    *models.ProtocolSummary
		site       *models.CandidateSite
		score      float64
		strengths  []string
		weaknesses []string
	}{
		{
			name:       "area and phase experience",
			summary:    oncology,
			site:       candidate("A", area("Oncology"), 5),
			score:      4.0,
			strengths:  []string{"Experience in Oncology", "Strong Phase 2 experience"},
			weaknesses: []string{},
		},
		{
			name:       "no experience",
			summary:    oncology,
			site:       candidate("B", nil, 0),
			score:      2.4,
			strengths:  []string{},
			weaknesses: []string{"Limited experience in Oncology", "Limited Phase 2 experience"},
		},
		{
			name:       "phase count at threshold is not a strength",
			summary:    oncology,
			site:       candidate("C", area("Oncology"), 3),
			score:      3.2,
			strengths:  []string{"Experience in Oncology"},
			weaknesses: []string{"Limited Phase 2 experience"},
		},
		{
			name:       "combined phase has no counter",
			summary:    &models.ProtocolSummary{TherapeuticArea: "Oncology", Phase: models.Phase1_2},
			site:       &models.CandidateSite{ExperienceArea: area("Oncology"), TrialExperience: models.PhaseExperience{Phase1: 10, Phase2: 10}},
			score:      3.2,
			strengths:  []string{"Experience in Oncology"},
			weaknesses: []string{"Limited Phase 1/2 experience"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScoreCandidate(tt.summary, tt.site, 3)
			assert.InDelta(t, tt.score, got.Score, 1e-9)
			assert.Equal(t, tt.strengths, got.Strengths)
			assert.Equal(t, tt.weaknesses, got.Weaknesses)
			assert.GreaterOrEqual(t, got.Score, models.MinCompatibilityScore)
			assert.LessOrEqual(t, got.Score, models.MaxCompatibilityScore)
		})
	}
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 1.0, clampScore(-2))
	assert.Equal(t, 5.0, clampScore(7.5))
	assert.Equal(t, 3.7, clampScore(3.7))
}

type matcherFixture struct {
	repo     *mockProtocolRepo
	sites    *mockSiteRepo
	matcher  SiteMatcher
	creator  uuid.UUID
	protocol *models.Protocol
}

func newMatcherFixture(t *testing.T, cfg config.MatchingConfig, candidates ...*models.CandidateSite) *matcherFixture {
	t.Helper()
	repo := newMockProtocolRepo()
	sites := newMockSiteRepo(candidates...)
	svc := NewProtocolService(repo, sites, NewAccessPolicy(repo.teamMemberRepo()), newTestAuditor(), nil, zap.NewNop())

	creator := uuid.New()
	p, err := svc.Create(context.Background(), creator, validDraft())
	require.NoError(t, err)

	return &matcherFixture{
		repo:     repo,
		sites:    sites,
		matcher:  NewSiteMatcher(svc, repo, sites, &fixedRandom{values: []int{42}}, cfg, nil, zap.NewNop()),
		creator:  creator,
		protocol: p,
	}
}

func defaultMatchingConfig() config.MatchingConfig {
	return config.MatchingConfig{CandidatePoolCap: 20, PhaseExperienceThreshold: 3, UpsertAttempts: 1}
}

func doctorIDs(results []*models.ScoredSite) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.DoctorID
	}
	return ids
}

func TestSiteMatcher_RanksByScoreStably(t *testing.T) {
	f := newMatcherFixture(t, defaultMatchingConfig(),
		candidate("none", nil, 0),
		candidate("strong-1", area("Oncology"), 5),
		candidate("area-only", area("Oncology"), 1),
		candidate("strong-2", area("Oncology"), 9),
	)

	results, err := f.matcher.MatchSites(context.Background(), f.creator, f.protocol.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"strong-1", "strong-2", "area-only", "none"}, doctorIDs(results))
	for _, r := range results {
		assert.Equal(t, 42, r.RecruitmentPotential)
		assert.NotNil(t, r.Locations)
	}
	assert.Len(t, f.sites.records, 4)
}

func TestSiteMatcher_RerunUpdatesInPlace(t *testing.T) {
	f := newMatcherFixture(t, defaultMatchingConfig(),
		candidate("A", area("Oncology"), 5),
		candidate("B", nil, 0),
	)
	ctx := context.Background()

	_, err := f.matcher.MatchSites(ctx, f.creator, f.protocol.ID)
	require.NoError(t, err)

	key := [2]uuid.UUID{f.protocol.ID, f.sites.candidates[0].ID}
	f.sites.records[key].Status = models.SiteContacted

	_, err = f.matcher.MatchSites(ctx, f.creator, f.protocol.ID)
	require.NoError(t, err)

	assert.Len(t, f.sites.records, 2)
	assert.Equal(t, models.SiteContacted, f.sites.records[key].Status)
	assert.Equal(t, 4, f.sites.upserts)
}

func TestSiteMatcher_SkipsSiteWhenUpsertFails(t *testing.T) {
	bad := candidate("bad", area("Oncology"), 5)
	f := newMatcherFixture(t, defaultMatchingConfig(),
		candidate("good", area("Oncology"), 1),
		bad,
	)
	f.sites.upsertErr[bad.ID] = errors.New("score out of range")

	results, err := f.matcher.MatchSites(context.Background(), f.creator, f.protocol.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"good"}, doctorIDs(results))
	assert.Len(t, f.sites.records, 1)
}

func TestSiteMatcher_RetriesTransientFailures(t *testing.T) {
	flaky := candidate("flaky", area("Oncology"), 5)
	cfg := defaultMatchingConfig()
	cfg.UpsertAttempts = 2
	f := newMatcherFixture(t, cfg, flaky)
	f.sites.upsertErr[flaky.ID] = &pgconn.PgError{Code: "40001"}

	results, err := f.matcher.MatchSites(context.Background(), f.creator, f.protocol.ID)
	require.NoError(t, err)

	assert.Empty(t, results)
	assert.Equal(t, 2, f.sites.upserts)
}

func TestSiteMatcher_AbortsOnCancelledContext(t *testing.T) {
	site := candidate("A", area("Oncology"), 5)
	f := newMatcherFixture(t, defaultMatchingConfig(), site)
	f.sites.upsertErr[site.ID] = context.Canceled

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.matcher.MatchSites(ctx, f.creator, f.protocol.ID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSiteMatcher_PoolCache(t *testing.T) {
	sites := []*models.CandidateSite{candidate("A", area("Oncology"), 5)}

	cached := defaultMatchingConfig()
	cached.PoolCacheTTL = time.Minute
	f := newMatcherFixture(t, cached, sites...)
	for range 3 {
		_, err := f.matcher.MatchSites(context.Background(), f.creator, f.protocol.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.sites.listCalls)

	uncached := newMatcherFixture(t, defaultMatchingConfig(), sites...)
	for range 3 {
		_, err := uncached.matcher.MatchSites(context.Background(), uncached.creator, uncached.protocol.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, uncached.sites.listCalls)
}

func TestSiteMatcher_PoolCap(t *testing.T) {
	cfg := defaultMatchingConfig()
	cfg.CandidatePoolCap = 2
	f := newMatcherFixture(t, cfg,
		candidate("A", nil, 0), candidate("B", nil, 0), candidate("C", nil, 0))

	results, err := f.matcher.MatchSites(context.Background(), f.creator, f.protocol.ID)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSiteMatcher_RequiresReadAccess(t *testing.T) {
	f := newMatcherFixture(t, defaultMatchingConfig(), candidate("A", nil, 0))

	_, err := f.matcher.MatchSites(context.Background(), uuid.New(), f.protocol.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.matcher.MatchSites(context.Background(), f.creator, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.Equal(t, 0, f.sites.listCalls)
	assert.Empty(t, f.sites.records)
}

func TestSiteMatcher_NoCandidates(t *testing.T) {
	f := newMatcherFixture(t, defaultMatchingConfig())

	results, err := f.matcher.MatchSites(context.Background(), f.creator, f.protocol.ID)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}
