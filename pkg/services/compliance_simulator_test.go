package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trialmatch/protocol-engine/pkg/apperrors"
	"github.com/trialmatch/protocol-engine/pkg/models"
)

func seedProtocol(t *testing.T, repo *mockProtocolRepo, creator uuid.UUID) *models.Protocol {
	t.Helper()
	p, err := repo.Create(context.Background(), &models.Protocol{
		Title: "Study", Molecule: models.MoleculeDescriptor{Name: "ABX"}, Phase: models.Phase3,
		TherapeuticArea: "Oncology", Condition: "NSCLC", Company: "Acme", CreatedBy: creator,
		Status: statusPtr(models.StatusDraft),
	}, nil, nil)
	require.NoError(t, err)
	return p
}

func TestComplianceSimulator_HighScoreHasNoIssues(t *testing.T) {
	repo := newMockProtocolRepo()
	p := seedProtocol(t, repo, uuid.New())
	sim := NewComplianceSimulator(repo, &fixedRandom{values: []int{27}}, nil, zap.NewNop())

	report, err := sim.Evaluate(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 97, report.Score)
	assert.NotNil(t, report.Issues)
	assert.Empty(t, report.Issues)

	stored, _ := repo.GetByID(context.Background(), p.ID)
	require.NotNil(t, stored.ComplianceScore)
	assert.Equal(t, 97, *stored.ComplianceScore)
}

func TestComplianceSimulator_LowScoreGeneratesOpenIssues(t *testing.T) {
	repo := newMockProtocolRepo()
	p := seedProtocol(t, repo, uuid.New())
	// score 70+12, then 3 issues (2+1), then category/severity/location triples.
	random := &fixedRandom{values: []int{12, 2, 0, 0, 4, 5, 2, 1, 3, 1, 2}}
	sim := NewComplianceSimulator(repo, random, nil, zap.NewNop())

	report, err := sim.Evaluate(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 82, report.Score)
	require.Len(t, report.Issues, 3)

	assert.Equal(t, "ethics", report.Issues[0].Category)
	assert.Equal(t, models.SeverityHigh, report.Issues[0].Severity)
	assert.Equal(t, "Statistical Analysis", report.Issues[0].Location)
	assert.Equal(t, "operational", report.Issues[1].Category)

	for _, issue := range report.Issues {
		assert.Equal(t, models.IssueOpen, issue.Status)
		assert.Contains(t, models.ComplianceCategories, issue.Category)
		assert.Contains(t, models.ComplianceSeverities, issue.Severity)
		assert.Contains(t, models.ComplianceLocations, issue.Location)
	}

	stored, _ := repo.GetByID(context.Background(), p.ID)
	assert.Len(t, stored.ComplianceIssues, 3)
}

func TestComplianceSimulator_ScoreBounds(t *testing.T) {
	repo := newMockProtocolRepo()
	p := seedProtocol(t, repo, uuid.New())
	sim := NewComplianceSimulator(repo, NewRandomSource(), nil, zap.NewNop())

	for range 200 {
		report, err := sim.Evaluate(context.Background(), p.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, report.Score, 70)
		assert.LessOrEqual(t, report.Score, 100)
		if report.Score >= ComplianceIssueCutoff {
			assert.Empty(t, report.Issues)
		} else {
			assert.GreaterOrEqual(t, len(report.Issues), 1)
			assert.LessOrEqual(t, len(report.Issues), 5)
		}
	}
}

func TestComplianceSimulator_MissingProtocol(t *testing.T) {
	sim := NewComplianceSimulator(newMockProtocolRepo(), NewRandomSource(), nil, zap.NewNop())

	_, err := sim.Evaluate(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
