package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/trialmatch/protocol-engine/pkg/config"
	"github.com/trialmatch/protocol-engine/pkg/metrics"
	"github.com/trialmatch/protocol-engine/pkg/models"
	"github.com/trialmatch/protocol-engine/pkg/repositories"
	"github.com/trialmatch/protocol-engine/pkg/retry"
)

// SiteMatcher ranks candidate sites against a protocol and persists one
// compatibility record per (protocol, site).
type SiteMatcher interface {
	// MatchSites requires read access to the protocol. A candidate whose
	// record cannot be persisted is logged and left out of the result; it
	// never fails the run.
	MatchSites(ctx context.Context, actorID uuid.UUID, protocolID uuid.UUID) ([]*models.ScoredSite, error)
}

type siteMatcher struct {
	protocols ProtocolService
	protoRepo repositories.ProtocolRepository
	siteRepo  repositories.SiteRepository
	random    RandomSource
	pool      *cache.Cache // nil when pool caching is disabled
	cfg       config.MatchingConfig
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewSiteMatcher creates a SiteMatcher. A zero PoolCacheTTL disables the
// candidate pool cache. m may be nil.
func NewSiteMatcher(
	protocols ProtocolService,
	protoRepo repositories.ProtocolRepository,
	siteRepo repositories.SiteRepository,
	random RandomSource,
	cfg config.MatchingConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) SiteMatcher {
	var pool *cache.Cache
	if cfg.PoolCacheTTL > 0 {
		pool = cache.New(cfg.PoolCacheTTL, 2*cfg.PoolCacheTTL)
	}
	return &siteMatcher{
		protocols: protocols,
		protoRepo: protoRepo,
		siteRepo:  siteRepo,
		random:    random,
		pool:      pool,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.Named("site-matcher"),
	}
}

var _ SiteMatcher = (*siteMatcher)(nil)

func (m *siteMatcher) MatchSites(ctx context.Context, actorID uuid.UUID, protocolID uuid.UUID) ([]*models.ScoredSite, error) {
	start := time.Now()

	if err := m.protocols.AuthorizeRead(ctx, actorID, protocolID); err != nil {
		m.metrics.SiteMatchRun(outcomeFor(err), time.Since(start))
		return nil, err
	}

	summary, err := m.protoRepo.GetSummary(ctx, protocolID)
	if err != nil {
		m.metrics.SiteMatchRun(outcomeFor(err), time.Since(start))
		return nil, err
	}

	candidates, err := m.candidatePool(ctx, summary.TherapeuticArea)
	if err != nil {
		m.metrics.SiteMatchRun(metrics.OutcomeError, time.Since(start))
		return nil, fmt.Errorf("load candidate pool: %w", err)
	}

	results := make([]*models.ScoredSite, 0, len(candidates))
	skipped := 0
	for _, c := range candidates {
		compat := ScoreCandidate(summary, c, m.cfg.PhaseExperienceThreshold)
		rec := &models.CompatibilityRecord{
			ProtocolID:           protocolID,
			SiteID:               c.ID,
			Score:                compat.Score,
			Strengths:            compat.Strengths,
			Weaknesses:           compat.Weaknesses,
			RecruitmentPotential: m.random.IntN(100),
		}

		// Each record is its own statement; earlier records stay persisted
		// when a later one fails.
		err := retry.DoIfRetryable(ctx, retry.WithAttempts(m.cfg.UpsertAttempts), func() error {
			return m.siteRepo.UpsertCompatibility(ctx, rec)
		})
		if err != nil {
			if ctx.Err() != nil {
				m.metrics.SiteMatchRun(metrics.OutcomeError, time.Since(start))
				return nil, ctx.Err()
			}
			skipped++
			m.metrics.SiteSkipped()
			m.logger.Warn("Skipping site: compatibility record not persisted",
				zap.String("protocol_id", protocolID.String()),
				zap.String("site_id", c.ID.String()),
				zap.Error(err))
			continue
		}

		m.metrics.SiteScored(compat.Score)
		results = append(results, scoredSite(c, compat, rec.RecruitmentPotential))
	}

	// Stable: equal scores keep pool order.
	slices.SortStableFunc(results, func(a, b *models.ScoredSite) int {
		switch {
		case a.Compatibility.Score > b.Compatibility.Score:
			return -1
		case a.Compatibility.Score < b.Compatibility.Score:
			return 1
		}
		return 0
	})

	m.metrics.SiteMatchRun(metrics.OutcomeSuccess, time.Since(start))
	m.logger.Info("Site matching complete",
		zap.String("protocol_id", protocolID.String()),
		zap.String("therapeutic_area", summary.TherapeuticArea),
		zap.Int("candidates", len(candidates)),
		zap.Int("scored", len(results)),
		zap.Int("skipped", skipped),
		zap.Duration("elapsed", time.Since(start)))

	return results, nil
}

// candidatePool returns the active sites for area, served from the cache
// while fresh.
func (m *siteMatcher) candidatePool(ctx context.Context, area string) ([]*models.CandidateSite, error) {
	if m.pool != nil {
		if cached, ok := m.pool.Get(area); ok {
			return cached.([]*models.CandidateSite), nil
		}
	}

	candidates, err := m.siteRepo.ListCandidates(ctx, area, m.cfg.CandidatePoolCap)
	if err != nil {
		return nil, err
	}
	if m.pool != nil {
		m.pool.SetDefault(area, candidates)
	}
	return candidates, nil
}

// ScoreCandidate derives the strengths, weaknesses and clamped score of one
// candidate for a protocol. A site earns a phase strength only when its trial
// count for the protocol's phase exceeds threshold.
func ScoreCandidate(p *models.ProtocolSummary, c *models.CandidateSite, threshold int) models.Compatibility {
	strengths := []string{}
	weaknesses := []string{}

	if c.ExperienceArea != nil && *c.ExperienceArea == p.TherapeuticArea {
		strengths = append(strengths, "Experience in "+p.TherapeuticArea)
	} else {
		weaknesses = append(weaknesses, "Limited experience in "+p.TherapeuticArea)
	}

	if c.TrialExperience.CountFor(p.Phase) > threshold {
		strengths = append(strengths, fmt.Sprintf("Strong %s experience", p.Phase))
	} else {
		weaknesses = append(weaknesses, fmt.Sprintf("Limited %s experience", p.Phase))
	}

	score := models.BaselineCompatibilityScore +
		float64(len(strengths))*models.StrengthWeight -
		float64(len(weaknesses))*models.WeaknessWeight

	return models.Compatibility{
		Score:      clampScore(score),
		Strengths:  strengths,
		Weaknesses: weaknesses,
	}
}

func clampScore(score float64) float64 {
	return max(models.MinCompatibilityScore, min(models.MaxCompatibilityScore, score))
}

func scoredSite(c *models.CandidateSite, compat models.Compatibility, potential int) *models.ScoredSite {
	locations := []models.SiteLocation{}
	if c.PrimaryLocation != nil {
		locations = append(locations, *c.PrimaryLocation)
	}
	return &models.ScoredSite{
		SiteID:               c.ID,
		DoctorID:             c.DoctorID,
		FirstName:            c.FirstName,
		LastName:             c.LastName,
		Email:                c.Email,
		SpecialtyDescription: c.SpecialtyDescription,
		Locations:            locations,
		Metrics:              c.Metrics,
		Compatibility:        compat,
		RecruitmentPotential: potential,
	}
}
