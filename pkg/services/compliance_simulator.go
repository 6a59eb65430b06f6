package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trialmatch/protocol-engine/pkg/metrics"
	"github.com/trialmatch/protocol-engine/pkg/models"
	"github.com/trialmatch/protocol-engine/pkg/repositories"
)

// Compliance simulation bounds.
const (
	MinComplianceScore  = 70
	complianceScoreSpan = 30 // scores fall in [70, 100)
	// ComplianceIssueCutoff is the score below which issues are generated.
	ComplianceIssueCutoff = 95
	maxComplianceIssues   = 5
)

// ComplianceSimulator produces a placeholder compliance report for a protocol
// and stores it on the protocol row. It performs no permission checks.
type ComplianceSimulator interface {
	Evaluate(ctx context.Context, protocolID uuid.UUID) (*models.ComplianceReport, error)
}

type complianceSimulator struct {
	protoRepo repositories.ProtocolRepository
	random    RandomSource
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewComplianceSimulator creates a ComplianceSimulator. m may be nil.
func NewComplianceSimulator(protoRepo repositories.ProtocolRepository, random RandomSource, m *metrics.Metrics, logger *zap.Logger) ComplianceSimulator {
	return &complianceSimulator{
		protoRepo: protoRepo,
		random:    random,
		metrics:   m,
		logger:    logger.Named("compliance"),
	}
}

var _ ComplianceSimulator = (*complianceSimulator)(nil)

func (s *complianceSimulator) Evaluate(ctx context.Context, protocolID uuid.UUID) (*models.ComplianceReport, error) {
	report := s.simulate()

	if err := s.protoRepo.UpdateCompliance(ctx, protocolID, report); err != nil {
		return nil, err
	}

	s.metrics.ComplianceEvaluated(report.Score)
	s.logger.Info("Compliance evaluated",
		zap.String("protocol_id", protocolID.String()),
		zap.Int("score", report.Score),
		zap.Int("issues", len(report.Issues)))

	return report, nil
}

func (s *complianceSimulator) simulate() *models.ComplianceReport {
	report := &models.ComplianceReport{
		Score:  MinComplianceScore + s.random.IntN(complianceScoreSpan),
		Issues: []models.ComplianceIssue{},
	}
	if report.Score >= ComplianceIssueCutoff {
		return report
	}

	count := s.random.IntN(maxComplianceIssues) + 1
	for i := range count {
		report.Issues = append(report.Issues, models.ComplianceIssue{
			Category:    pick(s.random, models.ComplianceCategories),
			Description: fmt.Sprintf("Simulated compliance issue %d", i+1),
			Severity:    pick(s.random, models.ComplianceSeverities),
			Location:    pick(s.random, models.ComplianceLocations),
			Status:      models.IssueOpen,
		})
	}
	return report
}

func pick[T any](r RandomSource, from []T) T {
	return from[r.IntN(len(from))]
}
