package models

import (
	"encoding/json"
	"fmt"
)

// ProtocolField names a mutable protocol field. The set is closed: only the
// constants below can appear in a ProtocolPatch.
type ProtocolField string

const (
	FieldTitle                ProtocolField = "title"
	FieldVersion              ProtocolField = "version"
	FieldStatus               ProtocolField = "status"
	FieldMoleculeName         ProtocolField = "molecule_name"
	FieldMoleculeDescription  ProtocolField = "molecule_description"
	FieldMoleculeType         ProtocolField = "molecule_type"
	FieldMoleculeMechanism    ProtocolField = "molecule_mechanism"
	FieldMoleculeStructure    ProtocolField = "molecule_structure"
	FieldPhase                ProtocolField = "phase"
	FieldTherapeuticArea      ProtocolField = "therapeutic_area"
	FieldCondition            ProtocolField = "condition"
	FieldStudyDesign          ProtocolField = "study_design"
	FieldCriteria             ProtocolField = "criteria"
	FieldEndpoints            ProtocolField = "endpoints"
	FieldCompany              ProtocolField = "company"
	FieldTemplateUsed         ProtocolField = "template_used"
	FieldProtocolOutline      ProtocolField = "protocol_outline"
	FieldUncertaintyFlags     ProtocolField = "uncertainty_flags"
	FieldComplianceScore      ProtocolField = "compliance_score"
	FieldComplianceIssues     ProtocolField = "compliance_issues"
	FieldGeneratedDocumentURL ProtocolField = "generated_document_url"
)

// MutableProtocolFields is the update allow-list, in column order.
var MutableProtocolFields = []ProtocolField{
	FieldTitle, FieldVersion, FieldStatus,
	FieldMoleculeName, FieldMoleculeDescription, FieldMoleculeType, FieldMoleculeMechanism, FieldMoleculeStructure,
	FieldPhase, FieldTherapeuticArea, FieldCondition,
	FieldStudyDesign, FieldCriteria, FieldEndpoints,
	FieldCompany, FieldTemplateUsed, FieldProtocolOutline, FieldUncertaintyFlags,
	FieldComplianceScore, FieldComplianceIssues, FieldGeneratedDocumentURL,
}

// ProtocolPatch is a partial update of a protocol aggregate.
//
// A field that was never set is left untouched. A field set to nil is cleared.
// Objectives and team members are replaced wholesale only when their Replace
// flag is set.
type ProtocolPatch struct {
	values map[ProtocolField]any

	ReplaceObjectives  bool
	Objectives         []*Objective
	ReplaceTeamMembers bool
	TeamMembers        []*TeamMember

	// ExpectedRowVersion, when set, makes the update fail with a conflict if the
	// stored row has moved on.
	ExpectedRowVersion *int64
}

// NewProtocolPatch returns an empty patch.
func NewProtocolPatch() *ProtocolPatch {
	return &ProtocolPatch{values: make(map[ProtocolField]any)}
}

// Typed setters. Passing nil to a pointer/slice setter clears the column.

func (p *ProtocolPatch) SetTitle(v string) { p.set(FieldTitle, v) }
func (p *ProtocolPatch) SetVersion(v string) { p.set(FieldVersion, v) }
func (p *ProtocolPatch) SetStatus(v *ProtocolStatus) { p.set(FieldStatus, v) }
func (p *ProtocolPatch) SetMoleculeName(v string) { p.set(FieldMoleculeName, v) }
func (p *ProtocolPatch) SetMoleculeDescription(v *string) { p.set(FieldMoleculeDescription, v) }
func (p *ProtocolPatch) SetMoleculeType(v *string) { p.set(FieldMoleculeType, v) }
func (p *ProtocolPatch) SetMoleculeMechanism(v *string) { p.set(FieldMoleculeMechanism, v) }
func (p *ProtocolPatch) SetMoleculeStructure(v *string) { p.set(FieldMoleculeStructure, v) }
func (p *ProtocolPatch) SetPhase(v TrialPhase) { p.set(FieldPhase, v) }
func (p *ProtocolPatch) SetTherapeuticArea(v string) { p.set(FieldTherapeuticArea, v) }
func (p *ProtocolPatch) SetCondition(v string) { p.set(FieldCondition, v) }
func (p *ProtocolPatch) SetStudyDesign(v json.RawMessage) { p.set(FieldStudyDesign, v) }
func (p *ProtocolPatch) SetCriteria(v []Criterion) { p.set(FieldCriteria, v) }
func (p *ProtocolPatch) SetEndpoints(v *EndpointSet) { p.set(FieldEndpoints, v) }
func (p *ProtocolPatch) SetCompany(v string) { p.set(FieldCompany, v) }
func (p *ProtocolPatch) SetTemplateUsed(v *string) { p.set(FieldTemplateUsed, v) }
func (p *ProtocolPatch) SetProtocolOutline(v *string) { p.set(FieldProtocolOutline, v) }
func (p *ProtocolPatch) SetUncertaintyFlags(v []string) { p.set(FieldUncertaintyFlags, v) }
func (p *ProtocolPatch) SetComplianceScore(v *int) { p.set(FieldComplianceScore, v) }
func (p *ProtocolPatch) SetComplianceIssues(v []ComplianceIssue) { p.set(FieldComplianceIssues, v) }
func (p *ProtocolPatch) SetGeneratedDocumentURL(v *string) { p.set(FieldGeneratedDocumentURL, v) }

// SetObjectives marks the objective set for full replacement.
func (p *ProtocolPatch) SetObjectives(objectives []*Objective) {
	p.ReplaceObjectives = true
	p.Objectives = objectives
}

// SetTeamMembers marks the team member set for full replacement.
func (p *ProtocolPatch) SetTeamMembers(members []*TeamMember) {
	p.ReplaceTeamMembers = true
	p.TeamMembers = members
}

func (p *ProtocolPatch) set(field ProtocolField, v any) {
	if p.values == nil {
		p.values = make(map[ProtocolField]any)
	}
	p.values[field] = v
}

// Get returns the value set for field and whether it was present.
func (p *ProtocolPatch) Get(field ProtocolField) (any, bool) {
	v, ok := p.values[field]
	return v, ok
}

// Has reports whether field is present in the patch.
func (p *ProtocolPatch) Has(field ProtocolField) bool {
	_, ok := p.values[field]
	return ok
}

// Fields returns the present fields in allow-list order.
func (p *ProtocolPatch) Fields() []ProtocolField {
	fields := make([]ProtocolField, 0, len(p.values))
	for _, f := range MutableProtocolFields {
		if _, ok := p.values[f]; ok {
			fields = append(fields, f)
		}
	}
	return fields
}

// IsEmpty reports whether the patch touches nothing besides updated_at.
func (p *ProtocolPatch) IsEmpty() bool {
	return len(p.values) == 0 && !p.ReplaceObjectives && !p.ReplaceTeamMembers
}

// Apply writes the patch onto a copy of proto and returns it. Used by tests and
// in-memory stores; the SQL store builds its SET clause from Fields instead.
func (p *ProtocolPatch) Apply(proto *Protocol) (*Protocol, error) {
	out := *proto
	for _, f := range p.Fields() {
		v := p.values[f]
		var ok bool
		switch f {
		case FieldTitle:
			out.Title, ok = v.(string)
		case FieldVersion:
			out.Version, ok = v.(string)
		case FieldStatus:
			out.Status, ok = v.(*ProtocolStatus)
		case FieldMoleculeName:
			out.Molecule.Name, ok = v.(string)
		case FieldMoleculeDescription:
			out.Molecule.Description, ok = v.(*string)
		case FieldMoleculeType:
			out.Molecule.Type, ok = v.(*string)
		case FieldMoleculeMechanism:
			out.Molecule.Mechanism, ok = v.(*string)
		case FieldMoleculeStructure:
			out.Molecule.Structure, ok = v.(*string)
		case FieldPhase:
			out.Phase, ok = v.(TrialPhase)
		case FieldTherapeuticArea:
			out.TherapeuticArea, ok = v.(string)
		case FieldCondition:
			out.Condition, ok = v.(string)
		case FieldStudyDesign:
			out.StudyDesign, ok = v.(json.RawMessage)
		case FieldCriteria:
			out.Criteria, ok = v.([]Criterion)
		case FieldEndpoints:
			out.Endpoints, ok = v.(*EndpointSet)
		case FieldCompany:
			out.Company, ok = v.(string)
		case FieldTemplateUsed:
			out.TemplateUsed, ok = v.(*string)
		case FieldProtocolOutline:
			out.ProtocolOutline, ok = v.(*string)
		case FieldUncertaintyFlags:
			out.UncertaintyFlags, ok = v.([]string)
		case FieldComplianceScore:
			out.ComplianceScore, ok = v.(*int)
		case FieldComplianceIssues:
			out.ComplianceIssues, ok = v.([]ComplianceIssue)
		case FieldGeneratedDocumentURL:
			out.GeneratedDocumentURL, ok = v.(*string)
		}
		if !ok {
			return nil, fmt.Errorf("field %s holds unexpected type %T", f, v)
		}
	}
	return &out, nil
}
