// Package models contains domain types for the protocol engine.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProtocolStatus is the lifecycle state of a protocol.
type ProtocolStatus string

const (
	StatusDraft      ProtocolStatus = "draft"
	StatusReview     ProtocolStatus = "review"
	StatusApproved   ProtocolStatus = "approved"
	StatusActive     ProtocolStatus = "active"
	StatusCompleted  ProtocolStatus = "completed"
	StatusTerminated ProtocolStatus = "terminated"
)

// ValidStatuses contains all valid protocol statuses.
var ValidStatuses = []ProtocolStatus{
	StatusDraft, StatusReview, StatusApproved, StatusActive, StatusCompleted, StatusTerminated,
}

// IsValid reports whether s is a known status.
func (s ProtocolStatus) IsValid() bool {
	for _, v := range ValidStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// TrialPhase is the clinical development phase of a trial.
type TrialPhase string

const (
	Phase1   TrialPhase = "Phase 1"
	Phase1_2 TrialPhase = "Phase 1/2"
	Phase2   TrialPhase = "Phase 2"
	Phase2_3 TrialPhase = "Phase 2/3"
	Phase3   TrialPhase = "Phase 3"
	Phase4   TrialPhase = "Phase 4"
)

// ValidPhases contains all valid trial phases.
var ValidPhases = []TrialPhase{Phase1, Phase1_2, Phase2, Phase2_3, Phase3, Phase4}

// IsValid reports whether p is a known phase.
func (p TrialPhase) IsValid() bool {
	for _, v := range ValidPhases {
		if v == p {
			return true
		}
	}
	return false
}

// DefaultProtocolVersion is assigned when a protocol is created without a version.
const DefaultProtocolVersion = "1.0"

// MoleculeDescriptor describes the investigational product.
type MoleculeDescriptor struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Type        *string `json:"type,omitempty"`
	Mechanism   *string `json:"mechanism,omitempty"`
	Structure   *string `json:"structure,omitempty"`
}

// Criterion is a single inclusion or exclusion criterion.
type Criterion struct {
	Category    string  `json:"category"` // 'inclusion', 'exclusion'
	Description string  `json:"description"`
	Rationale   *string `json:"rationale,omitempty"`
	Order       *int    `json:"order,omitempty"`
}

// EndpointSet groups trial endpoints by tier.
type EndpointSet struct {
	Primary     []string `json:"primary,omitempty"`
	Secondary   []string `json:"secondary,omitempty"`
	Exploratory []string `json:"exploratory,omitempty"`
}

// Protocol is the aggregate root for a clinical-trial protocol.
// Children (objectives, team members, history, site associations) are loaded
// separately; see ProtocolWithChildren.
type Protocol struct {
	ID      uuid.UUID       `json:"id"`
	Title   string          `json:"title"`
	Version string          `json:"version"`
	Status  *ProtocolStatus `json:"status"`

	Molecule MoleculeDescriptor `json:"molecule"`

	Phase           TrialPhase      `json:"phase"`
	TherapeuticArea string          `json:"therapeutic_area"`
	Condition       string          `json:"condition"`
	StudyDesign     json.RawMessage `json:"study_design,omitempty"`
	Criteria        []Criterion     `json:"criteria,omitempty"`
	Endpoints       *EndpointSet    `json:"endpoints,omitempty"`

	Company      string    `json:"company"`
	CreatedBy    uuid.UUID `json:"created_by"`
	CreatorName  string    `json:"creator_name,omitempty"`
	CreatorEmail string    `json:"creator_email,omitempty"`

	TemplateUsed     *string  `json:"template_used,omitempty"`
	ProtocolOutline  *string  `json:"protocol_outline,omitempty"`
	UncertaintyFlags []string `json:"uncertainty_flags,omitempty"`

	ComplianceScore      *int              `json:"compliance_score,omitempty"`
	ComplianceIssues     []ComplianceIssue `json:"compliance_issues,omitempty"`
	GeneratedDocumentURL *string           `json:"generated_document_url,omitempty"`

	// RowVersion increments on every update; clients may echo it back as
	// expected_row_version to detect concurrent edits.
	RowVersion int64     `json:"row_version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProtocolAccess is the minimal projection needed for permission checks.
type ProtocolAccess struct {
	ID        uuid.UUID
	CreatedBy uuid.UUID
}

// Access returns the permission-check projection of p.
func (p *Protocol) Access() *ProtocolAccess {
	return &ProtocolAccess{ID: p.ID, CreatedBy: p.CreatedBy}
}

// ProtocolSummary is the subset of protocol fields the site matcher reads.
type ProtocolSummary struct {
	ID              uuid.UUID  `json:"id"`
	CreatedBy       uuid.UUID  `json:"created_by"`
	TherapeuticArea string     `json:"therapeutic_area"`
	Phase           TrialPhase `json:"phase"`
	Condition       string     `json:"condition"`
}

// ProtocolListItem is one row of a protocol list page.
type ProtocolListItem struct {
	ID              uuid.UUID       `json:"id"`
	Title           string          `json:"title"`
	Status          *ProtocolStatus `json:"status"`
	MoleculeName    string          `json:"molecule_name"`
	Phase           TrialPhase      `json:"phase"`
	TherapeuticArea string          `json:"therapeutic_area"`
	Condition       string          `json:"condition"`
	Company         string          `json:"company"`
	CreatorName     string          `json:"creator_name"`
	CreatorEmail    string          `json:"creator_email"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ProtocolFilters is an AND-conjunction of optional predicates.
// Empty strings and nil pointers are ignored.
type ProtocolFilters struct {
	Status          string
	Company         string
	TherapeuticArea string
	Phase           string
	Search          string // substring of title or molecule name
	CreatedBy       *uuid.UUID
}

// Pagination describes a returned page.
type Pagination struct {
	Total     int `json:"total"`
	Page      int `json:"page"`
	PageSize  int `json:"page_size"`
	PageCount int `json:"page_count"`
}

// ProtocolPage is the result of a list call.
type ProtocolPage struct {
	Items      []*ProtocolListItem `json:"items"`
	Pagination Pagination          `json:"pagination"`
}

// ProtocolWithChildren is the assembled aggregate returned by Get. History is
// not included; it is listed separately.
type ProtocolWithChildren struct {
	*Protocol
	Objectives  []*Objective       `json:"objectives"`
	TeamMembers []*TeamMember      `json:"team_members"`
	Sites       []*SiteAssociation `json:"sites"`
}
