package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/trialmatch/protocol-engine/pkg/auth"
	"github.com/trialmatch/protocol-engine/pkg/models"
	"github.com/trialmatch/protocol-engine/pkg/services"
)

// mockProtocolService records the last call and returns canned results.
type mockProtocolService struct {
	protocol *models.Protocol
	children *models.ProtocolWithChildren
	page     *models.ProtocolPage
	history  []*models.HistoryEntry
	err      error
	authErr  error

	lastActor    uuid.UUID
	lastID       uuid.UUID
	lastDraft    *services.ProtocolDraft
	lastPatch    *models.ProtocolPatch
	lastFilters  models.ProtocolFilters
	lastPage     int
	lastPageSize int
	deleted      bool
}

func (m *mockProtocolService) Create(ctx context.Context, actorID uuid.UUID, draft *services.ProtocolDraft) (*models.Protocol, error) {
	m.lastActor, m.lastDraft = actorID, draft
	if m.err != nil {
		return nil, m.err
	}
	return m.protocol, nil
}

func (m *mockProtocolService) Get(ctx context.Context, actorID uuid.UUID, id uuid.UUID) (*models.ProtocolWithChildren, error) {
	m.lastActor, m.lastID = actorID, id
	if m.err != nil {
		return nil, m.err
	}
	return m.children, nil
}

func (m *mockProtocolService) Update(ctx context.Context, actorID uuid.UUID, id uuid.UUID, patch *models.ProtocolPatch) (*models.Protocol, error) {
	m.lastActor, m.lastID, m.lastPatch = actorID, id, patch
	if m.err != nil {
		return nil, m.err
	}
	return m.protocol, nil
}

func (m *mockProtocolService) Delete(ctx context.Context, actorID uuid.UUID, id uuid.UUID) error {
	m.lastActor, m.lastID = actorID, id
	if m.err != nil {
		return m.err
	}
	m.deleted = true
	return nil
}

func (m *mockProtocolService) List(ctx context.Context, actorID uuid.UUID, filters models.ProtocolFilters, page, pageSize int) (*models.ProtocolPage, error) {
	m.lastActor, m.lastFilters, m.lastPage, m.lastPageSize = actorID, filters, page, pageSize
	if m.err != nil {
		return nil, m.err
	}
	return m.page, nil
}

func (m *mockProtocolService) ListHistory(ctx context.Context, actorID uuid.UUID, id uuid.UUID) ([]*models.HistoryEntry, error) {
	m.lastActor, m.lastID = actorID, id
	if m.err != nil {
		return nil, m.err
	}
	return m.history, nil
}

func (m *mockProtocolService) AuthorizeRead(ctx context.Context, actorID uuid.UUID, id uuid.UUID) error {
	m.lastActor, m.lastID = actorID, id
	return m.authErr
}

type mockUserService struct {
	synced []uuid.UUID
	err    error
}

func (m *mockUserService) SyncActor(ctx context.Context) (uuid.UUID, error) {
	if m.err != nil {
		return uuid.Nil, m.err
	}
	actorID, err := auth.RequireActorID(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	m.synced = append(m.synced, actorID)
	return actorID, nil
}

type mockSiteMatcher struct {
	sites []*models.ScoredSite
	err   error
	calls int
}

func (m *mockSiteMatcher) MatchSites(ctx context.Context, actorID uuid.UUID, protocolID uuid.UUID) ([]*models.ScoredSite, error) {
	m.calls++
	return m.sites, m.err
}

type mockComplianceSimulator struct {
	report *models.ComplianceReport
	err    error
	calls  int
}

func (m *mockComplianceSimulator) Evaluate(ctx context.Context, protocolID uuid.UUID) (*models.ComplianceReport, error) {
	m.calls++
	return m.report, m.err
}

// passthroughScope stands in for the database scope middleware.
func passthroughScope(next http.HandlerFunc) http.HandlerFunc {
	return next
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.err
}
