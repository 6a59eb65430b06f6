package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trialmatch/protocol-engine/pkg/apperrors"
	"github.com/trialmatch/protocol-engine/pkg/audit"
	"github.com/trialmatch/protocol-engine/pkg/metrics"
	"github.com/trialmatch/protocol-engine/pkg/models"
	"github.com/trialmatch/protocol-engine/pkg/repositories"
)

// Page size bounds for List.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ProtocolService implements the protocol use cases on top of the aggregate
// store and the access policy. Missing protocols are reported as NotFound
// before any permission check, so Forbidden always means "exists, not yours".
type ProtocolService interface {
	// Create validates the draft and stores it with actorID as creator.
	Create(ctx context.Context, actorID uuid.UUID, draft *ProtocolDraft) (*models.Protocol, error)

	// Get returns the protocol with objectives, team members and site associations.
	Get(ctx context.Context, actorID uuid.UUID, id uuid.UUID) (*models.ProtocolWithChildren, error)

	// Update applies a partial update. Requires creator or edit/admin membership.
	Update(ctx context.Context, actorID uuid.UUID, id uuid.UUID, patch *models.ProtocolPatch) (*models.Protocol, error)

	// Delete removes the protocol and everything hanging off it.
	// Requires creator or admin membership.
	Delete(ctx context.Context, actorID uuid.UUID, id uuid.UUID) error

	// List returns one page of protocols visible to actorID.
	List(ctx context.Context, actorID uuid.UUID, filters models.ProtocolFilters, page, pageSize int) (*models.ProtocolPage, error)

	// ListHistory returns the protocol's history, oldest first.
	ListHistory(ctx context.Context, actorID uuid.UUID, id uuid.UUID) ([]*models.HistoryEntry, error)

	// AuthorizeRead returns NotFound or Forbidden unless actorID may read the protocol.
	AuthorizeRead(ctx context.Context, actorID uuid.UUID, id uuid.UUID) error
}

type protocolService struct {
	protocolRepo repositories.ProtocolRepository
	siteRepo     repositories.SiteRepository
	policy       AccessPolicy
	auditor      *audit.SecurityAuditor
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewProtocolService creates a new ProtocolService. m may be nil.
func NewProtocolService(
	protocolRepo repositories.ProtocolRepository,
	siteRepo repositories.SiteRepository,
	policy AccessPolicy,
	auditor *audit.SecurityAuditor,
	m *metrics.Metrics,
	logger *zap.Logger,
) ProtocolService {
	return &protocolService{
		protocolRepo: protocolRepo,
		siteRepo:     siteRepo,
		policy:       policy,
		auditor:      auditor,
		metrics:      m,
		logger:       logger.Named("protocols"),
	}
}

var _ ProtocolService = (*protocolService)(nil)

func (s *protocolService) Create(ctx context.Context, actorID uuid.UUID, draft *ProtocolDraft) (*models.Protocol, error) {
	p := draft.Protocol
	if err := apperrors.NewValidationError(validateDraft(draft, actorID)); err != nil {
		s.metrics.ProtocolOperation("create", metrics.OutcomeInvalid)
		return nil, err
	}
	p.CreatedBy = actorID

	created, err := s.protocolRepo.Create(ctx, p, draft.Objectives, draft.TeamMembers)
	if err != nil {
		s.record("create", err)
		return nil, s.internal("create", uuid.Nil, err)
	}

	s.metrics.ProtocolOperation("create", metrics.OutcomeSuccess)
	s.logger.Info("Protocol created",
		zap.String("protocol_id", created.ID.String()),
		zap.String("actor_id", actorID.String()),
		zap.Int("objectives", len(draft.Objectives)),
		zap.Int("team_members", len(draft.TeamMembers)))

	return created, nil
}

// validateDraft lists every problem with a create payload.
func validateDraft(d *ProtocolDraft, creatorID uuid.UUID) []string {
	p := d.Protocol
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"title", p.Title},
		{"molecule_name", p.Molecule.Name},
		{"phase", string(p.Phase)},
		{"therapeutic_area", p.TherapeuticArea},
		{"condition", p.Condition},
		{"company", p.Company},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}

	var violations []string
	if len(missing) > 0 {
		violations = append(violations, "missing required fields: "+strings.Join(missing, ", "))
	}
	if p.Phase != "" {
		if msg := validPhase(p.Phase); msg != "" {
			violations = append(violations, "phase "+msg)
		}
	}
	if msg := validStatus(p.Status); msg != "" {
		violations = append(violations, "status "+msg)
	}
	if msg := validComplianceScore(p.ComplianceScore); msg != "" {
		violations = append(violations, "compliance_score "+msg)
	}
	violations = append(violations, validateObjectives(d.Objectives)...)
	violations = append(violations, validateTeamMembers(d.TeamMembers, creatorID)...)
	return violations
}

func (s *protocolService) Get(ctx context.Context, actorID uuid.UUID, id uuid.UUID) (*models.ProtocolWithChildren, error) {
	p, err := s.protocolRepo.GetByID(ctx, id)
	if err != nil {
		s.record("get", err)
		return nil, s.internal("get", id, err)
	}

	ok, err := s.policy.CanRead(ctx, actorID, p.Access())
	if err != nil {
		return nil, s.internal("get", id, err)
	}
	if !ok {
		return nil, s.deny(ctx, "get", id)
	}

	objectives, err := s.protocolRepo.ListObjectives(ctx, id)
	if err != nil {
		return nil, s.internal("get", id, err)
	}
	members, err := s.protocolRepo.ListTeamMembers(ctx, id)
	if err != nil {
		return nil, s.internal("get", id, err)
	}
	sites, err := s.siteRepo.ListAssociations(ctx, id)
	if err != nil {
		return nil, s.internal("get", id, err)
	}

	s.metrics.ProtocolOperation("get", metrics.OutcomeSuccess)
	return &models.ProtocolWithChildren{
		Protocol:    p,
		Objectives:  nonNil(objectives),
		TeamMembers: nonNil(members),
		Sites:       nonNil(sites),
	}, nil
}

func (s *protocolService) Update(ctx context.Context, actorID uuid.UUID, id uuid.UUID, patch *models.ProtocolPatch) (*models.Protocol, error) {
	access, err := s.protocolRepo.GetAccess(ctx, id)
	if err != nil {
		s.record("update", err)
		return nil, s.internal("update", id, err)
	}

	ok, err := s.policy.CanMutate(ctx, actorID, access, models.UpdatePermissions)
	if err != nil {
		return nil, s.internal("update", id, err)
	}
	if !ok {
		return nil, s.deny(ctx, "update", id)
	}

	var violations []string
	if patch.ReplaceObjectives {
		violations = append(violations, validateObjectives(patch.Objectives)...)
	}
	if patch.ReplaceTeamMembers {
		violations = append(violations, validateTeamMembers(patch.TeamMembers, access.CreatedBy)...)
	}
	if err := apperrors.NewValidationError(violations); err != nil {
		s.metrics.ProtocolOperation("update", metrics.OutcomeInvalid)
		return nil, err
	}

	updated, err := s.protocolRepo.Update(ctx, id, patch, actorID)
	if err != nil {
		s.record("update", err)
		return nil, s.internal("update", id, err)
	}

	s.metrics.ProtocolOperation("update", metrics.OutcomeSuccess)
	s.metrics.HistoryAppended()
	s.logger.Info("Protocol updated",
		zap.String("protocol_id", id.String()),
		zap.String("actor_id", actorID.String()),
		zap.Int("fields", len(patch.Fields())),
		zap.Bool("objectives_replaced", patch.ReplaceObjectives),
		zap.Bool("team_replaced", patch.ReplaceTeamMembers),
		zap.Int64("row_version", updated.RowVersion))

	return updated, nil
}

func (s *protocolService) Delete(ctx context.Context, actorID uuid.UUID, id uuid.UUID) error {
	access, err := s.protocolRepo.GetAccess(ctx, id)
	if err != nil {
		s.record("delete", err)
		return s.internal("delete", id, err)
	}

	ok, err := s.policy.CanDelete(ctx, actorID, access)
	if err != nil {
		return s.internal("delete", id, err)
	}
	if !ok {
		return s.deny(ctx, "delete", id)
	}

	if err := s.protocolRepo.Delete(ctx, id); err != nil {
		s.record("delete", err)
		return s.internal("delete", id, err)
	}

	s.metrics.ProtocolOperation("delete", metrics.OutcomeSuccess)
	s.logger.Info("Protocol deleted",
		zap.String("protocol_id", id.String()),
		zap.String("actor_id", actorID.String()))
	return nil
}

func (s *protocolService) List(ctx context.Context, actorID uuid.UUID, filters models.ProtocolFilters, page, pageSize int) (*models.ProtocolPage, error) {
	var violations []string
	if page < 1 {
		violations = append(violations, "page must be at least 1")
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		violations = append(violations, fmt.Sprintf("page_size must be between 1 and %d", MaxPageSize))
	}
	if filters.Status != "" && !models.ProtocolStatus(filters.Status).IsValid() {
		violations = append(violations, "status filter is not a known status")
	}
	if filters.Phase != "" && !models.TrialPhase(filters.Phase).IsValid() {
		violations = append(violations, "phase filter is not a known phase")
	}
	if filters.Search != "" {
		if injected, fingerprint := audit.DetectSQLInjection(filters.Search); injected {
			s.auditor.LogInjectionAttempt(ctx, audit.InjectionDetails{
				Filter:      "search",
				Value:       filters.Search,
				Fingerprint: fingerprint,
			})
			violations = append(violations, "search contains disallowed characters")
		}
	}
	if err := apperrors.NewValidationError(violations); err != nil {
		s.metrics.ProtocolOperation("list", metrics.OutcomeInvalid)
		return nil, err
	}

	items, total, err := s.protocolRepo.ListPage(ctx, filters, actorID, page, pageSize)
	if err != nil {
		s.record("list", err)
		return nil, s.internal("list", uuid.Nil, err)
	}

	s.metrics.ProtocolOperation("list", metrics.OutcomeSuccess)
	return &models.ProtocolPage{
		Items: nonNil(items),
		Pagination: models.Pagination{
			Total:     total,
			Page:      page,
			PageSize:  pageSize,
			PageCount: (total + pageSize - 1) / pageSize,
		},
	}, nil
}

func (s *protocolService) ListHistory(ctx context.Context, actorID uuid.UUID, id uuid.UUID) ([]*models.HistoryEntry, error) {
	if err := s.AuthorizeRead(ctx, actorID, id); err != nil {
		return nil, err
	}

	entries, err := s.protocolRepo.ListHistory(ctx, id)
	if err != nil {
		s.record("history", err)
		return nil, s.internal("history", id, err)
	}
	s.metrics.ProtocolOperation("history", metrics.OutcomeSuccess)
	return nonNil(entries), nil
}

func (s *protocolService) AuthorizeRead(ctx context.Context, actorID uuid.UUID, id uuid.UUID) error {
	access, err := s.protocolRepo.GetAccess(ctx, id)
	if err != nil {
		return s.internal("authorize", id, err)
	}
	ok, err := s.policy.CanRead(ctx, actorID, access)
	if err != nil {
		return s.internal("authorize", id, err)
	}
	if !ok {
		return s.deny(ctx, "read", id)
	}
	return nil
}

// deny records a refused operation and returns ErrForbidden.
func (s *protocolService) deny(ctx context.Context, op string, id uuid.UUID) error {
	s.metrics.ProtocolOperation(op, metrics.OutcomeForbidden)
	s.auditor.LogAccessDenied(ctx, id, op)
	return apperrors.ErrForbidden
}

// record counts a failed operation by its error class.
func (s *protocolService) record(op string, err error) {
	s.metrics.ProtocolOperation(op, outcomeFor(err))
}

// internal passes taxonomy errors through unchanged and logs anything else,
// which callers surface as a generic failure.
func (s *protocolService) internal(op string, id uuid.UUID, err error) error {
	if isDomainError(err) {
		return err
	}
	fields := []zap.Field{zap.String("operation", op), zap.Error(err)}
	if id != uuid.Nil {
		fields = append(fields, zap.String("protocol_id", id.String()))
	}
	s.logger.Error("Protocol operation failed", fields...)
	return fmt.Errorf("%s protocol: %w", op, err)
}

func isDomainError(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound) ||
		errors.Is(err, apperrors.ErrForbidden) ||
		errors.Is(err, apperrors.ErrConflict) ||
		apperrors.IsValidation(err)
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, apperrors.ErrForbidden):
		return metrics.OutcomeForbidden
	case errors.Is(err, apperrors.ErrConflict):
		return metrics.OutcomeConflict
	case apperrors.IsValidation(err):
		return metrics.OutcomeInvalid
	}
	return metrics.OutcomeError
}

// nonNil keeps empty collections as [] rather than null in JSON.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
