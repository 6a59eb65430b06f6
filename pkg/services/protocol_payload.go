package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/trialmatch/protocol-engine/pkg/apperrors"
	"github.com/trialmatch/protocol-engine/pkg/models"
)

// ProtocolDraft is a decoded create payload.
type ProtocolDraft struct {
	Protocol    *models.Protocol
	Objectives  []*models.Objective
	TeamMembers []*models.TeamMember
}

type objectiveInput struct {
	Type        models.ObjectiveType `json:"type"`
	Description string               `json:"description"`
	Endpoints   []string             `json:"endpoints"`
	Timepoints  []string             `json:"timepoints"`
}

type teamMemberInput struct {
	UserID      uuid.UUID              `json:"user_id"`
	Role        *string                `json:"role"`
	Permissions models.PermissionLevel `json:"permissions"`
}

type createProtocolInput struct {
	Title                string                   `json:"title"`
	Version              string                   `json:"version"`
	Status               *models.ProtocolStatus   `json:"status"`
	MoleculeName         string                   `json:"molecule_name"`
	MoleculeDescription  *string                  `json:"molecule_description"`
	MoleculeType         *string                  `json:"molecule_type"`
	MoleculeMechanism    *string                  `json:"molecule_mechanism"`
	MoleculeStructure    *string                  `json:"molecule_structure"`
	Phase                models.TrialPhase        `json:"phase"`
	TherapeuticArea      string                   `json:"therapeutic_area"`
	Condition            string                   `json:"condition"`
	StudyDesign          json.RawMessage          `json:"study_design"`
	Criteria             []models.Criterion       `json:"criteria"`
	Endpoints            *models.EndpointSet      `json:"endpoints"`
	Company              string                   `json:"company"`
	TemplateUsed         *string                  `json:"template_used"`
	ProtocolOutline      *string                  `json:"protocol_outline"`
	UncertaintyFlags     []string                 `json:"uncertainty_flags"`
	ComplianceScore      *int                     `json:"compliance_score"`
	ComplianceIssues     []models.ComplianceIssue `json:"compliance_issues"`
	GeneratedDocumentURL *string                  `json:"generated_document_url"`
	Objectives           []objectiveInput         `json:"objectives"`
	TeamMembers          []teamMemberInput        `json:"team_members"`
}

// DecodeProtocolDraft parses a create payload. Field validation happens in
// ProtocolService.Create so that every violation is reported together.
func DecodeProtocolDraft(data []byte) (*ProtocolDraft, error) {
	var in createProtocolInput
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, apperrors.NewValidationError([]string{"body: " + jsonProblem(err)})
	}
	if isJSONNull(in.StudyDesign) {
		in.StudyDesign = nil
	}

	draft := &ProtocolDraft{
		Protocol: &models.Protocol{
			Title:   in.Title,
			Version: in.Version,
			Status:  in.Status,
			Molecule: models.MoleculeDescriptor{
				Name:        in.MoleculeName,
				Description: in.MoleculeDescription,
				Type:        in.MoleculeType,
				Mechanism:   in.MoleculeMechanism,
				Structure:   in.MoleculeStructure,
			},
			Phase:                in.Phase,
			TherapeuticArea:      in.TherapeuticArea,
			Condition:            in.Condition,
			StudyDesign:          in.StudyDesign,
			Criteria:             in.Criteria,
			Endpoints:            in.Endpoints,
			Company:              in.Company,
			TemplateUsed:         in.TemplateUsed,
			ProtocolOutline:      in.ProtocolOutline,
			UncertaintyFlags:     in.UncertaintyFlags,
			ComplianceScore:      in.ComplianceScore,
			ComplianceIssues:     in.ComplianceIssues,
			GeneratedDocumentURL: in.GeneratedDocumentURL,
		},
		Objectives:  objectivesFromInput(in.Objectives),
		TeamMembers: teamMembersFromInput(in.TeamMembers),
	}
	return draft, nil
}

// ============================================================================
// Partial updates
// ============================================================================

// patchDecoder decodes one present key into the patch and returns a
// violation message, or "" when the value is acceptable.
type patchDecoder func(p *models.ProtocolPatch, field models.ProtocolField, raw json.RawMessage) string

// patchDecoders is the update allow-list: one typed decoder per mutable field.
var patchDecoders = map[models.ProtocolField]patchDecoder{
	models.FieldTitle:                required((*models.ProtocolPatch).SetTitle, notBlank),
	models.FieldVersion:              required((*models.ProtocolPatch).SetVersion, notBlank),
	models.FieldStatus:               nullable((*models.ProtocolPatch).SetStatus, validStatus),
	models.FieldMoleculeName:         required((*models.ProtocolPatch).SetMoleculeName, notBlank),
	models.FieldMoleculeDescription:  nullable[*string]((*models.ProtocolPatch).SetMoleculeDescription, nil),
	models.FieldMoleculeType:         nullable[*string]((*models.ProtocolPatch).SetMoleculeType, nil),
	models.FieldMoleculeMechanism:    nullable[*string]((*models.ProtocolPatch).SetMoleculeMechanism, nil),
	models.FieldMoleculeStructure:    nullable[*string]((*models.ProtocolPatch).SetMoleculeStructure, nil),
	models.FieldPhase:                required((*models.ProtocolPatch).SetPhase, validPhase),
	models.FieldTherapeuticArea:      required((*models.ProtocolPatch).SetTherapeuticArea, notBlank),
	models.FieldCondition:            required((*models.ProtocolPatch).SetCondition, notBlank),
	models.FieldStudyDesign:          decodeStudyDesign,
	models.FieldCriteria:             nullable[[]models.Criterion]((*models.ProtocolPatch).SetCriteria, nil),
	models.FieldEndpoints:            nullable[*models.EndpointSet]((*models.ProtocolPatch).SetEndpoints, nil),
	models.FieldCompany:              required((*models.ProtocolPatch).SetCompany, notBlank),
	models.FieldTemplateUsed:         nullable[*string]((*models.ProtocolPatch).SetTemplateUsed, nil),
	models.FieldProtocolOutline:      nullable[*string]((*models.ProtocolPatch).SetProtocolOutline, nil),
	models.FieldUncertaintyFlags:     nullable[[]string]((*models.ProtocolPatch).SetUncertaintyFlags, nil),
	models.FieldComplianceScore:      nullable((*models.ProtocolPatch).SetComplianceScore, validComplianceScore),
	models.FieldComplianceIssues:     nullable[[]models.ComplianceIssue]((*models.ProtocolPatch).SetComplianceIssues, nil),
	models.FieldGeneratedDocumentURL: nullable[*string]((*models.ProtocolPatch).SetGeneratedDocumentURL, nil),
}

// Payload keys that are not protocol columns.
const (
	keyObjectives         = "objectives"
	keyTeamMembers        = "team_members"
	keyExpectedRowVersion = "expected_row_version"
)

// DecodeProtocolPatch parses an update payload into a ProtocolPatch. Keys
// outside the allow-list are ignored. A present null clears an optional
// field and is a violation for a required one.
func DecodeProtocolPatch(data []byte) (*models.ProtocolPatch, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil || body == nil {
		return nil, apperrors.NewValidationError([]string{"body must be a JSON object"})
	}

	patch := models.NewProtocolPatch()
	var violations []string

	for _, field := range models.MutableProtocolFields {
		raw, ok := body[string(field)]
		if !ok {
			continue
		}
		if msg := patchDecoders[field](patch, field, raw); msg != "" {
			violations = append(violations, msg)
		}
	}

	// A null child list means "not supplied"; only an array replaces the set.
	if raw, ok := body[keyObjectives]; ok && !isJSONNull(raw) {
		var in []objectiveInput
		if err := json.Unmarshal(raw, &in); err != nil {
			violations = append(violations, keyObjectives+": "+jsonProblem(err))
		} else {
			patch.SetObjectives(objectivesFromInput(in))
		}
	}
	if raw, ok := body[keyTeamMembers]; ok && !isJSONNull(raw) {
		var in []teamMemberInput
		if err := json.Unmarshal(raw, &in); err != nil {
			violations = append(violations, keyTeamMembers+": "+jsonProblem(err))
		} else {
			patch.SetTeamMembers(teamMembersFromInput(in))
		}
	}
	if raw, ok := body[keyExpectedRowVersion]; ok && !isJSONNull(raw) {
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			violations = append(violations, keyExpectedRowVersion+" must be an integer")
		} else {
			patch.ExpectedRowVersion = &v
		}
	}

	if err := apperrors.NewValidationError(violations); err != nil {
		return nil, err
	}
	return patch, nil
}

func required[T any](set func(*models.ProtocolPatch, T), check func(T) string) patchDecoder {
	return func(p *models.ProtocolPatch, field models.ProtocolField, raw json.RawMessage) string {
		if isJSONNull(raw) {
			return fmt.Sprintf("%s cannot be null", field)
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Sprintf("%s: %s", field, jsonProblem(err))
		}
		if check != nil {
			if msg := check(v); msg != "" {
				return fmt.Sprintf("%s %s", field, msg)
			}
		}
		set(p, v)
		return ""
	}
}

// nullable decodes into T; JSON null leaves T at its zero value, which
// clears the column for the pointer and slice types used here.
func nullable[T any](set func(*models.ProtocolPatch, T), check func(T) string) patchDecoder {
	return func(p *models.ProtocolPatch, field models.ProtocolField, raw json.RawMessage) string {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Sprintf("%s: %s", field, jsonProblem(err))
		}
		if check != nil {
			if msg := check(v); msg != "" {
				return fmt.Sprintf("%s %s", field, msg)
			}
		}
		set(p, v)
		return ""
	}
}

func decodeStudyDesign(p *models.ProtocolPatch, _ models.ProtocolField, raw json.RawMessage) string {
	if isJSONNull(raw) {
		p.SetStudyDesign(nil)
		return ""
	}
	p.SetStudyDesign(append(json.RawMessage(nil), raw...))
	return ""
}

// ============================================================================
// Shared validation
// ============================================================================

func notBlank(s string) string {
	if strings.TrimSpace(s) == "" {
		return "is required"
	}
	return ""
}

func validPhase(p models.TrialPhase) string {
	if !p.IsValid() {
		return fmt.Sprintf("must be one of %v", models.ValidPhases)
	}
	return ""
}

func validStatus(s *models.ProtocolStatus) string {
	if s != nil && !s.IsValid() {
		return fmt.Sprintf("must be one of %v", models.ValidStatuses)
	}
	return ""
}

func validComplianceScore(score *int) string {
	if score != nil && (*score < 0 || *score > 100) {
		return "must be between 0 and 100"
	}
	return ""
}

// validateObjectives reports malformed objectives in a replacement list.
// validateObjectives requires a non-empty set: every protocol carries at
// least one objective.
func validateObjectives(objectives []*models.Objective) []string {
	if len(objectives) == 0 {
		return []string{"at least one objective is required"}
	}
	var violations []string
	for i, o := range objectives {
		if !o.Type.IsValid() {
			violations = append(violations, fmt.Sprintf("objectives[%d].type must be primary, secondary or exploratory", i))
		}
		if strings.TrimSpace(o.Description) == "" {
			violations = append(violations, fmt.Sprintf("objectives[%d].description is required", i))
		}
	}
	return violations
}

// validateTeamMembers reports malformed or duplicate members. The creator
// owns the protocol through created_by and cannot also be a member.
func validateTeamMembers(members []*models.TeamMember, creatorID uuid.UUID) []string {
	var violations []string
	seen := make(map[uuid.UUID]bool, len(members))
	for i, m := range members {
		switch {
		case m.UserID == uuid.Nil:
			violations = append(violations, fmt.Sprintf("team_members[%d].user_id is required", i))
		case m.UserID == creatorID:
			violations = append(violations, fmt.Sprintf("team_members[%d] is the protocol creator", i))
		case seen[m.UserID]:
			violations = append(violations, fmt.Sprintf("team_members[%d] duplicates user %s", i, m.UserID))
		}
		seen[m.UserID] = true
		if !m.Permissions.IsValid() {
			violations = append(violations, fmt.Sprintf("team_members[%d].permissions must be view, edit, approve or admin", i))
		}
	}
	return violations
}

func objectivesFromInput(in []objectiveInput) []*models.Objective {
	out := make([]*models.Objective, 0, len(in))
	for _, o := range in {
		out = append(out, &models.Objective{
			Type:        o.Type,
			Description: o.Description,
			Endpoints:   o.Endpoints,
			Timepoints:  o.Timepoints,
		})
	}
	return out
}

func teamMembersFromInput(in []teamMemberInput) []*models.TeamMember {
	out := make([]*models.TeamMember, 0, len(in))
	for _, m := range in {
		level := m.Permissions
		if level == "" {
			level = models.PermissionView
		}
		out = append(out, &models.TeamMember{
			UserID:      m.UserID,
			Role:        m.Role,
			Permissions: level,
		})
	}
	return out
}

func isJSONNull(raw json.RawMessage) bool {
	return raw == nil || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// jsonProblem describes a decode failure without echoing the payload.
func jsonProblem(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field != "" {
			return fmt.Sprintf("%s must be %s", typeErr.Field, typeErr.Type)
		}
		return fmt.Sprintf("must be %s", typeErr.Type)
	}
	return "malformed JSON or invalid value"
}
