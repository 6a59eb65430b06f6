package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/trialmatch/protocol-engine/pkg/apperrors"
	"github.com/trialmatch/protocol-engine/pkg/database"
	"github.com/trialmatch/protocol-engine/pkg/models"
)

// ProtocolRepository provides atomic access to the protocol aggregate: the
// protocol row, its objectives, team members and history.
type ProtocolRepository interface {
	// Create inserts the protocol, its objectives and team members in one
	// transaction. The creator is never inserted as a team member.
	Create(ctx context.Context, p *models.Protocol, objectives []*models.Objective, members []*models.TeamMember) (*models.Protocol, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Protocol, error)
	GetAccess(ctx context.Context, id uuid.UUID) (*models.ProtocolAccess, error)
	GetSummary(ctx context.Context, id uuid.UUID) (*models.ProtocolSummary, error)
	ListPage(ctx context.Context, filters models.ProtocolFilters, actorID uuid.UUID, page, pageSize int) ([]*models.ProtocolListItem, int, error)
	// Update writes only the fields present in patch, replaces child sets the
	// patch asks for, bumps row_version and appends one history entry.
	Update(ctx context.Context, id uuid.UUID, patch *models.ProtocolPatch, actorID uuid.UUID) (*models.Protocol, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListObjectives(ctx context.Context, id uuid.UUID) ([]*models.Objective, error)
	ListTeamMembers(ctx context.Context, id uuid.UUID) ([]*models.TeamMember, error)
	ListHistory(ctx context.Context, id uuid.UUID) ([]*models.HistoryEntry, error)
	UpdateCompliance(ctx context.Context, id uuid.UUID, report *models.ComplianceReport) error
}

type protocolRepository struct{}

// NewProtocolRepository creates a new ProtocolRepository.
func NewProtocolRepository() ProtocolRepository {
	return &protocolRepository{}
}

var _ ProtocolRepository = (*protocolRepository)(nil)

// protocolColumns is selected from a relation aliased p joined with users u.
const protocolColumns = `
	p.id, p.title, p.version, p.status,
	p.molecule_name, p.molecule_description, p.molecule_type, p.molecule_mechanism, p.molecule_structure,
	p.phase, p.therapeutic_area, p.condition, p.study_design, p.criteria, p.endpoints,
	p.company, p.created_by, u.name, u.email,
	p.template_used, p.protocol_outline, p.uncertainty_flags,
	p.compliance_score, p.compliance_issues, p.generated_document_url,
	p.row_version, p.created_at, p.updated_at`

// ============================================================================
// Aggregate writes
// ============================================================================

func (r *protocolRepository) Create(ctx context.Context, p *models.Protocol, objectives []*models.Objective, members []*models.TeamMember) (*models.Protocol, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Version == "" {
		p.Version = models.DefaultProtocolVersion
	}
	now := time.Now()

	params, err := protocolInsertParams(p, now)
	if err != nil {
		return nil, err
	}

	query := `
		WITH p AS (
			INSERT INTO protocols (
				id, title, version, status,
				molecule_name, molecule_description, molecule_type, molecule_mechanism, molecule_structure,
				phase, therapeutic_area, condition, study_design, criteria, endpoints,
				company, created_by, template_used, protocol_outline, uncertainty_flags,
				compliance_score, compliance_issues, generated_document_url,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			          $16, $17, $18, $19, $20, $21, $22, $23, $24, $24)
			RETURNING *
		)
		SELECT ` + protocolColumns + `
		FROM p JOIN users u ON u.id = p.created_by`

	created, err := scanProtocol(tx.QueryRow(ctx, query, params...))
	if err != nil {
		return nil, &apperrors.TransactionError{Op: "insert protocol", Err: err}
	}

	if err := insertObjectives(ctx, tx, created.ID, objectives); err != nil {
		return nil, err
	}
	if err := insertTeamMembers(ctx, tx, created.ID, members, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &apperrors.TransactionError{Op: "commit protocol create", Err: err}
	}

	return created, nil
}

func (r *protocolRepository) Update(ctx context.Context, id uuid.UUID, patch *models.ProtocolPatch, actorID uuid.UUID) (*models.Protocol, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	now := time.Now()
	query, args, err := buildUpdateQuery(id, patch, now)
	if err != nil {
		return nil, err
	}

	updated, err := scanProtocol(tx.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, classifyMissedUpdate(ctx, tx, id)
	}
	if err != nil {
		return nil, &apperrors.TransactionError{Op: "update protocol", Err: err}
	}

	if patch.ReplaceObjectives {
		if _, err := tx.Exec(ctx, `DELETE FROM protocol_objectives WHERE protocol_id = $1`, id); err != nil {
			return nil, &apperrors.TransactionError{Op: "delete objectives", Err: err}
		}
		if err := insertObjectives(ctx, tx, id, patch.Objectives); err != nil {
			return nil, err
		}
	}
	if patch.ReplaceTeamMembers {
		if _, err := tx.Exec(ctx, `DELETE FROM protocol_team_members WHERE protocol_id = $1`, id); err != nil {
			return nil, &apperrors.TransactionError{Op: "delete team members", Err: err}
		}
		if err := insertTeamMembers(ctx, tx, id, patch.TeamMembers, now); err != nil {
			return nil, err
		}
	}

	snapshot, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history snapshot: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO protocol_history (protocol_id, version, changed_at, changed_by, changes, document_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, updated.Version, updated.UpdatedAt, actorID, models.ProtocolUpdatedChange, snapshot)
	if err != nil {
		return nil, &apperrors.TransactionError{Op: "append history", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &apperrors.TransactionError{Op: "commit protocol update", Err: err}
	}

	return updated, nil
}

// buildUpdateQuery renders the SET clause from the fields present in patch.
// Column names come from the closed ProtocolField set, never from input.
// updated_at never moves backwards, so history timestamps stay ordered even
// if the clock does not.
func buildUpdateQuery(id uuid.UUID, patch *models.ProtocolPatch, now time.Time) (string, []any, error) {
	args := []any{id, now}
	sets := make([]string, 0, len(patch.Fields())+2)

	for _, field := range patch.Fields() {
		v, _ := patch.Get(field)
		param, err := columnValue(field, v)
		if err != nil {
			return "", nil, err
		}
		args = append(args, param)
		sets = append(sets, fmt.Sprintf("%s = $%d", field, len(args)))
	}
	sets = append(sets,
		"updated_at = GREATEST($2, updated_at)",
		"row_version = row_version + 1",
	)

	where := "id = $1"
	if patch.ExpectedRowVersion != nil {
		args = append(args, *patch.ExpectedRowVersion)
		where += fmt.Sprintf(" AND row_version = $%d", len(args))
	}

	query := `
		WITH p AS (
			UPDATE protocols SET ` + strings.Join(sets, ", ") + `
			WHERE ` + where + `
			RETURNING *
		)
		SELECT ` + protocolColumns + `
		FROM p JOIN users u ON u.id = p.created_by`

	return query, args, nil
}

// classifyMissedUpdate explains why an UPDATE matched no row: the protocol is
// gone, or the caller's expected row version is stale.
func classifyMissedUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM protocols WHERE id = $1)`, id).Scan(&exists); err != nil {
		return &apperrors.TransactionError{Op: "check protocol exists", Err: err}
	}
	if !exists {
		return apperrors.ErrNotFound
	}
	return fmt.Errorf("protocol %s was modified concurrently: %w", id, apperrors.ErrConflict)
}

func (r *protocolRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	// Children and compatibility records go with the row via ON DELETE CASCADE.
	result, err := scope.Conn.Exec(ctx, `DELETE FROM protocols WHERE id = $1`, id)
	if err != nil {
		return &apperrors.TransactionError{Op: "delete protocol", Err: err}
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *protocolRepository) UpdateCompliance(ctx context.Context, id uuid.UUID, report *models.ComplianceReport) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	issues, err := jsonbParam(report.Issues)
	if err != nil {
		return err
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE protocols
		SET compliance_score = $2, compliance_issues = $3, updated_at = GREATEST($4, updated_at)
		WHERE id = $1`,
		id, report.Score, issues, time.Now())
	if err != nil {
		return fmt.Errorf("failed to persist compliance report: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// ============================================================================
// Reads
// ============================================================================

func (r *protocolRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Protocol, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `SELECT ` + protocolColumns + `
		FROM protocols p JOIN users u ON u.id = p.created_by
		WHERE p.id = $1`

	p, err := scanProtocol(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get protocol: %w", err)
	}
	return p, nil
}

func (r *protocolRepository) GetAccess(ctx context.Context, id uuid.UUID) (*models.ProtocolAccess, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	access := &models.ProtocolAccess{ID: id}
	err := scope.Conn.QueryRow(ctx, `SELECT created_by FROM protocols WHERE id = $1`, id).Scan(&access.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get protocol owner: %w", err)
	}
	return access, nil
}

func (r *protocolRepository) GetSummary(ctx context.Context, id uuid.UUID) (*models.ProtocolSummary, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var s models.ProtocolSummary
	var phase string
	err := scope.Conn.QueryRow(ctx, `
		SELECT id, created_by, therapeutic_area, phase, condition
		FROM protocols WHERE id = $1`, id,
	).Scan(&s.ID, &s.CreatedBy, &s.TherapeuticArea, &phase, &s.Condition)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get protocol summary: %w", err)
	}
	s.Phase = models.TrialPhase(phase)
	return &s, nil
}

func (r *protocolRepository) ListPage(ctx context.Context, filters models.ProtocolFilters, actorID uuid.UUID, page, pageSize int) ([]*models.ProtocolListItem, int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, 0, fmt.Errorf("no database scope in context")
	}

	where, args := buildListFilter(filters, actorID)

	var total int
	countQuery := `SELECT COUNT(*) FROM protocols p WHERE ` + where
	if err := scope.Conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count protocols: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	query := fmt.Sprintf(`
		SELECT p.id, p.title, p.status, p.molecule_name, p.phase, p.therapeutic_area,
		       p.condition, p.company, u.name, u.email, p.created_at, p.updated_at
		FROM protocols p JOIN users u ON u.id = p.created_by
		WHERE %s
		ORDER BY p.updated_at DESC, p.id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list protocols: %w", err)
	}
	defer rows.Close()

	items := make([]*models.ProtocolListItem, 0, pageSize)
	for rows.Next() {
		var item models.ProtocolListItem
		var status *string
		var phase string
		if err := rows.Scan(&item.ID, &item.Title, &status, &item.MoleculeName, &phase,
			&item.TherapeuticArea, &item.Condition, &item.Company,
			&item.CreatorName, &item.CreatorEmail, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan protocol: %w", err)
		}
		item.Status = statusPtr(status)
		item.Phase = models.TrialPhase(phase)
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating protocols: %w", err)
	}

	return items, total, nil
}

// buildListFilter ANDs the present filters. Without an explicit creator filter
// the page is restricted to protocols the actor created or is a member of.
func buildListFilter(f models.ProtocolFilters, actorID uuid.UUID) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.CreatedBy != nil {
		add("p.created_by = $%d", *f.CreatedBy)
	} else {
		args = append(args, actorID)
		conds = append(conds, fmt.Sprintf(`(p.created_by = $%[1]d OR EXISTS (
			SELECT 1 FROM protocol_team_members tm
			WHERE tm.protocol_id = p.id AND tm.user_id = $%[1]d))`, len(args)))
	}
	if f.Status != "" {
		add("p.status = $%d", f.Status)
	}
	if f.Company != "" {
		add("p.company = $%d", f.Company)
	}
	if f.TherapeuticArea != "" {
		add("p.therapeutic_area = $%d", f.TherapeuticArea)
	}
	if f.Phase != "" {
		add("p.phase = $%d", f.Phase)
	}
	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		conds = append(conds, fmt.Sprintf("(p.title ILIKE $%[1]d OR p.molecule_name ILIKE $%[1]d)", len(args)))
	}

	return strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *protocolRepository) ListObjectives(ctx context.Context, id uuid.UUID) ([]*models.Objective, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, protocol_id, position, type, description, endpoints, timepoints
		FROM protocol_objectives
		WHERE protocol_id = $1
		ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query objectives: %w", err)
	}
	defer rows.Close()

	var objectives []*models.Objective
	for rows.Next() {
		var o models.Objective
		var typ string
		var endpoints, timepoints []byte
		if err := rows.Scan(&o.ID, &o.ProtocolID, &o.Position, &typ, &o.Description, &endpoints, &timepoints); err != nil {
			return nil, fmt.Errorf("failed to scan objective: %w", err)
		}
		o.Type = models.ObjectiveType(typ)
		if err := unmarshalJSONB(endpoints, &o.Endpoints); err != nil {
			return nil, fmt.Errorf("failed to unmarshal objective endpoints: %w", err)
		}
		if err := unmarshalJSONB(timepoints, &o.Timepoints); err != nil {
			return nil, fmt.Errorf("failed to unmarshal objective timepoints: %w", err)
		}
		objectives = append(objectives, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating objectives: %w", err)
	}
	return objectives, nil
}

func (r *protocolRepository) ListTeamMembers(ctx context.Context, id uuid.UUID) ([]*models.TeamMember, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT tm.protocol_id, tm.user_id, tm.role, tm.permissions, u.name, u.email, tm.created_at
		FROM protocol_team_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.protocol_id = $1
		ORDER BY tm.created_at, u.email`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query team members: %w", err)
	}
	defer rows.Close()

	var members []*models.TeamMember
	for rows.Next() {
		var m models.TeamMember
		var perm string
		if err := rows.Scan(&m.ProtocolID, &m.UserID, &m.Role, &perm, &m.Name, &m.Email, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team member: %w", err)
		}
		m.Permissions = models.PermissionLevel(perm)
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating team members: %w", err)
	}
	return members, nil
}

func (r *protocolRepository) ListHistory(ctx context.Context, id uuid.UUID) ([]*models.HistoryEntry, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, protocol_id, version, changed_at, changed_by, changes, document_snapshot
		FROM protocol_history
		WHERE protocol_id = $1
		ORDER BY changed_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var snapshot []byte
		if err := rows.Scan(&e.ID, &e.ProtocolID, &e.Version, &e.ChangedAt, &e.ChangedBy, &e.Changes, &snapshot); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Snapshot = json.RawMessage(snapshot)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return entries, nil
}

// ============================================================================
// Child inserts (inside a caller's transaction)
// ============================================================================

func insertObjectives(ctx context.Context, tx pgx.Tx, protocolID uuid.UUID, objectives []*models.Objective) error {
	for i, o := range objectives {
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		o.ProtocolID = protocolID
		o.Position = i

		endpoints, err := jsonbParam(o.Endpoints)
		if err != nil {
			return err
		}
		timepoints, err := jsonbParam(o.Timepoints)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO protocol_objectives (id, protocol_id, position, type, description, endpoints, timepoints)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			o.ID, protocolID, o.Position, string(o.Type), o.Description, endpoints, timepoints)
		if err != nil {
			return &apperrors.TransactionError{Op: fmt.Sprintf("insert objective %d", i), Err: err}
		}
	}
	return nil
}

const (
	foreignKeyViolation = "23503"
	teamMemberUserFK    = "protocol_team_members_user_id_fkey"
)

func insertTeamMembers(ctx context.Context, tx pgx.Tx, protocolID uuid.UUID, members []*models.TeamMember, now time.Time) error {
	for i, m := range members {
		m.ProtocolID = protocolID
		m.CreatedAt = now

		_, err := tx.Exec(ctx, `
			INSERT INTO protocol_team_members (protocol_id, user_id, role, permissions, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			protocolID, m.UserID, m.Role, string(m.Permissions), now)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation && pgErr.ConstraintName == teamMemberUserFK {
				return apperrors.NewValidationError([]string{fmt.Sprintf("team_members[%d].user_id does not exist", i)})
			}
			return &apperrors.TransactionError{Op: fmt.Sprintf("insert team member %s", m.UserID), Err: err}
		}
	}
	return nil
}

// ============================================================================
// Row mapping
// ============================================================================

func protocolInsertParams(p *models.Protocol, now time.Time) ([]any, error) {
	studyDesign, err := jsonbParam(p.StudyDesign)
	if err != nil {
		return nil, err
	}
	criteria, err := jsonbParam(p.Criteria)
	if err != nil {
		return nil, err
	}
	endpoints, err := jsonbParam(p.Endpoints)
	if err != nil {
		return nil, err
	}
	flags, err := jsonbParam(p.UncertaintyFlags)
	if err != nil {
		return nil, err
	}
	issues, err := jsonbParam(p.ComplianceIssues)
	if err != nil {
		return nil, err
	}

	return []any{
		p.ID, p.Title, p.Version, statusParam(p.Status),
		p.Molecule.Name, p.Molecule.Description, p.Molecule.Type, p.Molecule.Mechanism, p.Molecule.Structure,
		string(p.Phase), p.TherapeuticArea, p.Condition, studyDesign, criteria, endpoints,
		p.Company, p.CreatedBy, p.TemplateUsed, p.ProtocolOutline, flags,
		p.ComplianceScore, issues, p.GeneratedDocumentURL,
		now,
	}, nil
}

// columnValue converts a patch value into a query parameter for its column.
func columnValue(field models.ProtocolField, v any) (any, error) {
	switch val := v.(type) {
	case *models.ProtocolStatus:
		return statusParam(val), nil
	case models.TrialPhase:
		return string(val), nil
	}

	switch field {
	case models.FieldStudyDesign, models.FieldCriteria, models.FieldEndpoints,
		models.FieldUncertaintyFlags, models.FieldComplianceIssues:
		return jsonbParam(v)
	}
	return v, nil
}

func scanProtocol(row pgx.Row) (*models.Protocol, error) {
	var p models.Protocol
	var status *string
	var phase string
	var studyDesign, criteria, endpoints, flags, issues []byte

	err := row.Scan(
		&p.ID, &p.Title, &p.Version, &status,
		&p.Molecule.Name, &p.Molecule.Description, &p.Molecule.Type, &p.Molecule.Mechanism, &p.Molecule.Structure,
		&phase, &p.TherapeuticArea, &p.Condition, &studyDesign, &criteria, &endpoints,
		&p.Company, &p.CreatedBy, &p.CreatorName, &p.CreatorEmail,
		&p.TemplateUsed, &p.ProtocolOutline, &flags,
		&p.ComplianceScore, &issues, &p.GeneratedDocumentURL,
		&p.RowVersion, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = statusPtr(status)
	p.Phase = models.TrialPhase(phase)
	if len(studyDesign) > 0 && string(studyDesign) != "null" {
		p.StudyDesign = json.RawMessage(studyDesign)
	}
	if err := unmarshalJSONB(criteria, &p.Criteria); err != nil {
		return nil, fmt.Errorf("failed to unmarshal criteria: %w", err)
	}
	if err := unmarshalJSONB(endpoints, &p.Endpoints); err != nil {
		return nil, fmt.Errorf("failed to unmarshal endpoints: %w", err)
	}
	if err := unmarshalJSONB(flags, &p.UncertaintyFlags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal uncertainty flags: %w", err)
	}
	if err := unmarshalJSONB(issues, &p.ComplianceIssues); err != nil {
		return nil, fmt.Errorf("failed to unmarshal compliance issues: %w", err)
	}

	return &p, nil
}

func statusParam(s *models.ProtocolStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func statusPtr(s *string) *models.ProtocolStatus {
	if s == nil {
		return nil
	}
	v := models.ProtocolStatus(*s)
	return &v
}
