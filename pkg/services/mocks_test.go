package services

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trialmatch/protocol-engine/pkg/apperrors"
	"github.com/trialmatch/protocol-engine/pkg/audit"
	"github.com/trialmatch/protocol-engine/pkg/models"
)

// ============================================================================
// Protocol repository
// ============================================================================

// mockProtocolRepo is an in-memory aggregate store. Patches are applied with
// ProtocolPatch.Apply so update semantics match the SQL store.
type mockProtocolRepo struct {
	mu         sync.Mutex
	protocols  map[uuid.UUID]*models.Protocol
	objectives map[uuid.UUID][]*models.Objective
	members    map[uuid.UUID][]*models.TeamMember
	history    map[uuid.UUID][]*models.HistoryEntry

	createErr     error
	updateErr     error
	listErr       error
	complianceErr error

	lastFilters  models.ProtocolFilters
	lastPage     int
	lastPageSize int
	listTotal    int
	updateCalls  int
}

func newMockProtocolRepo() *mockProtocolRepo {
	return &mockProtocolRepo{
		protocols:  make(map[uuid.UUID]*models.Protocol),
		objectives: make(map[uuid.UUID][]*models.Objective),
		members:    make(map[uuid.UUID][]*models.TeamMember),
		history:    make(map[uuid.UUID][]*models.HistoryEntry),
	}
}

func (m *mockProtocolRepo) Create(ctx context.Context, p *models.Protocol, objectives []*models.Objective, members []*models.TeamMember) (*models.Protocol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	created := *p
	created.ID = uuid.New()
	if created.Version == "" {
		created.Version = models.DefaultProtocolVersion
	}
	created.RowVersion = 1
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	m.protocols[created.ID] = &created
	m.objectives[created.ID] = objectives
	for _, tm := range members {
		tm.ProtocolID = created.ID
	}
	m.members[created.ID] = members
	return &created, nil
}

func (m *mockProtocolRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Protocol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.protocols[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockProtocolRepo) GetAccess(ctx context.Context, id uuid.UUID) (*models.ProtocolAccess, error) {
	p, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Access(), nil
}

func (m *mockProtocolRepo) GetSummary(ctx context.Context, id uuid.UUID) (*models.ProtocolSummary, error) {
	p, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.ProtocolSummary{
		ID: p.ID, CreatedBy: p.CreatedBy, TherapeuticArea: p.TherapeuticArea, Phase: p.Phase, Condition: p.Condition,
	}, nil
}

func (m *mockProtocolRepo) ListPage(ctx context.Context, filters models.ProtocolFilters, actorID uuid.UUID, page, pageSize int) ([]*models.ProtocolListItem, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilters, m.lastPage, m.lastPageSize = filters, page, pageSize
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	remaining := max(m.listTotal-(page-1)*pageSize, 0)
	items := make([]*models.ProtocolListItem, min(remaining, pageSize))
	for i := range items {
		items[i] = &models.ProtocolListItem{ID: uuid.New()}
	}
	return items, m.listTotal, nil
}

func (m *mockProtocolRepo) Update(ctx context.Context, id uuid.UUID, patch *models.ProtocolPatch, actorID uuid.UUID) (*models.Protocol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	p, ok := m.protocols[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if patch.ExpectedRowVersion != nil && *patch.ExpectedRowVersion != p.RowVersion {
		return nil, apperrors.ErrConflict
	}
	updated, err := patch.Apply(p)
	if err != nil {
		return nil, err
	}
	updated.RowVersion++
	updated.UpdatedAt = time.Now()
	m.protocols[id] = updated

	if patch.ReplaceObjectives {
		m.objectives[id] = patch.Objectives
	}
	if patch.ReplaceTeamMembers {
		m.members[id] = patch.TeamMembers
	}
	snapshot, _ := json.Marshal(updated)
	m.history[id] = append(m.history[id], &models.HistoryEntry{
		ID: uuid.New(), ProtocolID: id, Version: updated.Version, ChangedAt: updated.UpdatedAt,
		ChangedBy: &actorID, Changes: models.ProtocolUpdatedChange, Snapshot: snapshot,
	})
	cp := *updated
	return &cp, nil
}

func (m *mockProtocolRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.protocols[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.protocols, id)
	delete(m.objectives, id)
	delete(m.members, id)
	delete(m.history, id)
	return nil
}

func (m *mockProtocolRepo) ListObjectives(ctx context.Context, id uuid.UUID) ([]*models.Objective, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objectives[id], nil
}

func (m *mockProtocolRepo) ListTeamMembers(ctx context.Context, id uuid.UUID) ([]*models.TeamMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[id], nil
}

func (m *mockProtocolRepo) ListHistory(ctx context.Context, id uuid.UUID) ([]*models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history[id], nil
}

func (m *mockProtocolRepo) UpdateCompliance(ctx context.Context, id uuid.UUID, report *models.ComplianceReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.complianceErr != nil {
		return m.complianceErr
	}
	p, ok := m.protocols[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	score := report.Score
	p.ComplianceScore = &score
	p.ComplianceIssues = report.Issues
	return nil
}

// teamMemberRepo adapts the mock's member lists to TeamMemberRepository so
// the real access policy runs against the same data.
func (m *mockProtocolRepo) teamMemberRepo() *mockTeamMemberRepo {
	return &mockTeamMemberRepo{protocols: m}
}

// ============================================================================
// Team member repository
// ============================================================================

type mockTeamMemberRepo struct {
	protocols *mockProtocolRepo
	levels    map[uuid.UUID]models.PermissionLevel // used when protocols is nil
	err       error
	calls     int
}

func (m *mockTeamMemberRepo) GetPermission(ctx context.Context, protocolID, userID uuid.UUID) (models.PermissionLevel, bool, error) {
	m.calls++
	if m.err != nil {
		return "", false, m.err
	}
	if m.protocols == nil {
		level, ok := m.levels[userID]
		return level, ok, nil
	}
	members, _ := m.protocols.ListTeamMembers(ctx, protocolID)
	for _, tm := range members {
		if tm.UserID == userID {
			return tm.Permissions, true, nil
		}
	}
	return "", false, nil
}

// ============================================================================
// Site repository
// ============================================================================

type mockSiteRepo struct {
	mu         sync.Mutex
	candidates []*models.CandidateSite
	records    map[[2]uuid.UUID]*models.CompatibilityRecord
	listCalls  int
	upsertErr  map[uuid.UUID]error // per site
	upserts    int
}

func newMockSiteRepo(candidates ...*models.CandidateSite) *mockSiteRepo {
	return &mockSiteRepo{
		candidates: candidates,
		records:    make(map[[2]uuid.UUID]*models.CompatibilityRecord),
		upsertErr:  make(map[uuid.UUID]error),
	}
}

func (m *mockSiteRepo) ListCandidates(ctx context.Context, area string, limit int) ([]*models.CandidateSite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return m.candidates[:min(limit, len(m.candidates))], nil
}

func (m *mockSiteRepo) UpsertCompatibility(ctx context.Context, rec *models.CompatibilityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if err := m.upsertErr[rec.SiteID]; err != nil {
		return err
	}
	cp := *rec
	cp.Status = models.SiteSelected
	if existing, ok := m.records[[2]uuid.UUID{rec.ProtocolID, rec.SiteID}]; ok {
		cp.Status = existing.Status
	}
	m.records[[2]uuid.UUID{rec.ProtocolID, rec.SiteID}] = &cp
	rec.Status = cp.Status
	return nil
}

func (m *mockSiteRepo) ListAssociations(ctx context.Context, protocolID uuid.UUID) ([]*models.SiteAssociation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SiteAssociation
	for key, rec := range m.records {
		if key[0] == protocolID {
			out = append(out, &models.SiteAssociation{CompatibilityRecord: *rec})
		}
	}
	return out, nil
}

func (m *mockSiteRepo) Seed(ctx context.Context, sites []*models.Site) error {
	return errors.New("not implemented in mock")
}

// ============================================================================
// Helpers
// ============================================================================

// fixedRandom replays values in order, each reduced modulo n.
type fixedRandom struct {
	values []int
	next   int
}

func (r *fixedRandom) IntN(n int) int {
	if len(r.values) == 0 {
		return 0
	}
	v := r.values[r.next%len(r.values)]
	r.next++
	return v % n
}

func newTestAuditor() *audit.SecurityAuditor {
	return audit.NewSecurityAuditor(zap.NewNop())
}

func statusPtr(s models.ProtocolStatus) *models.ProtocolStatus {
	return &s
}

func containsMember(members []*models.TeamMember, userID uuid.UUID) bool {
	return slices.ContainsFunc(members, func(tm *models.TeamMember) bool { return tm.UserID == userID })
}
