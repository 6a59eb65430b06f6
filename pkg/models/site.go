package models

import (
	"time"

	"github.com/google/uuid"
)

// Site is an investigator site. Sites are maintained outside this service;
// the engine reads them and writes compatibility records against them.
type Site struct {
	ID                   uuid.UUID `json:"id" yaml:"id"`
	DoctorID             string    `json:"doctor_id" yaml:"doctor_id"`
	FirstName            string    `json:"first_name" yaml:"first_name"`
	LastName             string    `json:"last_name" yaml:"last_name"`
	Email                string    `json:"email" yaml:"email"`
	SiteName             *string   `json:"site_name,omitempty" yaml:"site_name"`
	SpecialtyDescription string    `json:"specialty_description" yaml:"specialty_description"`
	LicenseState         *string   `json:"license_state,omitempty" yaml:"license_state"`
	IsActive             bool      `json:"is_active" yaml:"is_active"`

	Locations             []SiteLocation          `json:"locations,omitempty" yaml:"locations"`
	TherapeuticExperience []TherapeuticExperience `json:"therapeutic_experience,omitempty" yaml:"therapeutic_experience"`
	TrialExperience       PhaseExperience         `json:"trial_experience" yaml:"trial_experience"`
	Metrics               *SiteMetrics            `json:"metrics,omitempty" yaml:"metrics"`
}

// SiteLocation is an address a site operates from.
type SiteLocation struct {
	City      string   `json:"city" yaml:"city"`
	State     string   `json:"state" yaml:"state"`
	Country   string   `json:"country,omitempty" yaml:"country"`
	Latitude  *float64 `json:"latitude,omitempty" yaml:"latitude"`
	Longitude *float64 `json:"longitude,omitempty" yaml:"longitude"`
	IsPrimary bool     `json:"is_primary" yaml:"is_primary"`
}

// TherapeuticExperience counts a site's history in one therapeutic area.
type TherapeuticExperience struct {
	Area             string `json:"area" yaml:"area"`
	TrialCount       int    `json:"trial_count" yaml:"trial_count"`
	PatientCount     int    `json:"patient_count" yaml:"patient_count"`
	IsSpecialization bool   `json:"is_specialization" yaml:"is_specialization"`
}

// PhaseExperience counts trials run per single phase.
type PhaseExperience struct {
	Phase1 int `json:"phase1" yaml:"phase1"`
	Phase2 int `json:"phase2" yaml:"phase2"`
	Phase3 int `json:"phase3" yaml:"phase3"`
	Phase4 int `json:"phase4" yaml:"phase4"`
}

// CountFor returns the trial count recorded for phase. Combined phases
// ("Phase 1/2", "Phase 2/3") have no counter of their own and return 0.
func (e PhaseExperience) CountFor(phase TrialPhase) int {
	switch phase {
	case Phase1:
		return e.Phase1
	case Phase2:
		return e.Phase2
	case Phase3:
		return e.Phase3
	case Phase4:
		return e.Phase4
	}
	return 0
}

// SiteMetrics holds recruitment and retention performance.
type SiteMetrics struct {
	RecruitmentRate   *float64 `json:"recruitment_rate,omitempty" yaml:"recruitment_rate"`     // patients per month
	RetentionRate     *float64 `json:"retention_rate,omitempty" yaml:"retention_rate"`         // percentage
	ScreenFailureRate *float64 `json:"screen_failure_rate,omitempty" yaml:"screen_failure_rate"` // percentage
}

// CandidateSite is an active site pre-joined with its experience in one
// therapeutic area, as read for scoring.
type CandidateSite struct {
	ID                   uuid.UUID       `json:"id"`
	DoctorID             string          `json:"doctor_id"`
	FirstName            string          `json:"first_name"`
	LastName             string          `json:"last_name"`
	Email                string          `json:"email"`
	SpecialtyDescription string          `json:"specialty_description"`
	PrimaryLocation      *SiteLocation   `json:"primary_location,omitempty"`
	ExperienceArea       *string         `json:"experience_area,omitempty"` // nil when the site has no record for the area
	AreaTrialCount       int             `json:"area_trial_count"`
	TrialExperience      PhaseExperience `json:"trial_experience"`
	Metrics              *SiteMetrics    `json:"metrics,omitempty"`
}

// SiteAssociationStatus tracks a site's progress on a protocol.
type SiteAssociationStatus string

const (
	SiteSelected  SiteAssociationStatus = "selected"
	SiteContacted SiteAssociationStatus = "contacted"
	SiteConfirmed SiteAssociationStatus = "confirmed"
	SiteActive    SiteAssociationStatus = "active"
	SiteCompleted SiteAssociationStatus = "completed"
	SiteWithdrawn SiteAssociationStatus = "withdrawn"
)

// Compatibility score bounds and scoring weights.
const (
	MinCompatibilityScore      = 1.0
	MaxCompatibilityScore      = 5.0
	BaselineCompatibilityScore = 3.0
	StrengthWeight             = 0.5
	WeaknessWeight             = 0.3
)

// CompatibilityRecord is the persisted result of scoring one site against one
// protocol. Unique per (ProtocolID, SiteID).
type CompatibilityRecord struct {
	ProtocolID           uuid.UUID             `json:"protocol_id"`
	SiteID               uuid.UUID             `json:"site_id"`
	Score                float64               `json:"compatibility_score"`
	Strengths            []string              `json:"strengths"`
	Weaknesses           []string              `json:"weaknesses"`
	RecruitmentPotential int                   `json:"recruitment_potential"`
	Status               SiteAssociationStatus `json:"status"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// SiteAssociation is a compatibility record joined with site display fields.
type SiteAssociation struct {
	CompatibilityRecord
	ContactDate          *time.Time `json:"contact_date,omitempty"`
	ConfirmationDate     *time.Time `json:"confirmation_date,omitempty"`
	DoctorID             string     `json:"doctor_id"`
	FirstName            string     `json:"first_name"`
	LastName             string     `json:"last_name"`
	Email                string     `json:"email"`
	SpecialtyDescription string     `json:"specialty_description"`
}

// Compatibility is the scoring evidence for one candidate.
type Compatibility struct {
	Score      float64  `json:"score"`
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
}

// ScoredSite is one entry of a site-matching result.
type ScoredSite struct {
	SiteID               uuid.UUID      `json:"site_id"`
	DoctorID             string         `json:"doctor_id"`
	FirstName            string         `json:"first_name"`
	LastName             string         `json:"last_name"`
	Email                string         `json:"email"`
	SpecialtyDescription string         `json:"specialty_description"`
	Locations            []SiteLocation `json:"locations"`
	Metrics              *SiteMetrics   `json:"metrics,omitempty"`
	Compatibility        Compatibility  `json:"compatibility"`
	RecruitmentPotential int            `json:"recruitment_potential"`
}
