package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trialmatch/protocol-engine/pkg/apperrors"
	"github.com/trialmatch/protocol-engine/pkg/database"
	"github.com/trialmatch/protocol-engine/pkg/models"
)

// SiteRepository reads investigator sites and persists compatibility records.
type SiteRepository interface {
	// ListCandidates returns up to limit active sites, each joined with its
	// experience in area (if any), phase counters, metrics and primary location.
	ListCandidates(ctx context.Context, area string, limit int) ([]*models.CandidateSite, error)
	// UpsertCompatibility inserts or overwrites the record for its
	// (protocol, site) pair. An existing association keeps its status.
	UpsertCompatibility(ctx context.Context, rec *models.CompatibilityRecord) error
	ListAssociations(ctx context.Context, protocolID uuid.UUID) ([]*models.SiteAssociation, error)
	// Seed upserts sites by doctor_id with their locations, experience and
	// metrics, all in one transaction.
	Seed(ctx context.Context, sites []*models.Site) error
}

type siteRepository struct{}

// NewSiteRepository creates a new SiteRepository.
func NewSiteRepository() SiteRepository {
	return &siteRepository{}
}

var _ SiteRepository = (*siteRepository)(nil)

func (r *siteRepository) ListCandidates(ctx context.Context, area string, limit int) ([]*models.CandidateSite, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT s.id, s.doctor_id, s.first_name, s.last_name, s.email, s.specialty_description,
		       sl.city, sl.state, sl.country, sl.latitude, sl.longitude,
		       te.area, COALESCE(te.trial_count, 0),
		       COALESCE(ste.phase1_count, 0), COALESCE(ste.phase2_count, 0),
		       COALESCE(ste.phase3_count, 0), COALESCE(ste.phase4_count, 0),
		       sm.site_id IS NOT NULL, sm.recruitment_rate, sm.retention_rate, sm.screen_failure_rate
		FROM sites s
		LEFT JOIN LATERAL (
			SELECT city, state, country, latitude, longitude
			FROM site_locations
			WHERE site_id = s.id
			ORDER BY is_primary DESC, id
			LIMIT 1
		) sl ON true
		LEFT JOIN site_therapeutic_experience te ON te.site_id = s.id AND te.area = $1
		LEFT JOIN site_trial_experience ste ON ste.site_id = s.id
		LEFT JOIN site_metrics sm ON sm.site_id = s.id
		WHERE s.is_active
		ORDER BY s.created_at, s.doctor_id
		LIMIT $2`

	rows, err := scope.Conn.Query(ctx, query, area, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate sites: %w", err)
	}
	defer rows.Close()

	var candidates []*models.CandidateSite
	for rows.Next() {
		var c models.CandidateSite
		var city, state, country *string
		var lat, lng *float64
		var hasMetrics bool
		var m models.SiteMetrics

		err := rows.Scan(
			&c.ID, &c.DoctorID, &c.FirstName, &c.LastName, &c.Email, &c.SpecialtyDescription,
			&city, &state, &country, &lat, &lng,
			&c.ExperienceArea, &c.AreaTrialCount,
			&c.TrialExperience.Phase1, &c.TrialExperience.Phase2,
			&c.TrialExperience.Phase3, &c.TrialExperience.Phase4,
			&hasMetrics, &m.RecruitmentRate, &m.RetentionRate, &m.ScreenFailureRate,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate site: %w", err)
		}

		if city != nil {
			c.PrimaryLocation = &models.SiteLocation{
				City:      *city,
				State:     deref(state),
				Country:   deref(country),
				Latitude:  lat,
				Longitude: lng,
				IsPrimary: true,
			}
		}
		if hasMetrics {
			c.Metrics = &m
		}
		candidates = append(candidates, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidate sites: %w", err)
	}

	return candidates, nil
}

func (r *siteRepository) UpsertCompatibility(ctx context.Context, rec *models.CompatibilityRecord) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	strengths, err := jsonbParam(nonNilStrings(rec.Strengths))
	if err != nil {
		return err
	}
	weaknesses, err := jsonbParam(nonNilStrings(rec.Weaknesses))
	if err != nil {
		return err
	}

	now := time.Now()
	query := `
		INSERT INTO protocol_sites (
			protocol_id, site_id, compatibility_score, strengths, weaknesses,
			recruitment_potential, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (protocol_id, site_id) DO UPDATE
		SET compatibility_score = EXCLUDED.compatibility_score,
		    strengths = EXCLUDED.strengths,
		    weaknesses = EXCLUDED.weaknesses,
		    recruitment_potential = EXCLUDED.recruitment_potential,
		    updated_at = EXCLUDED.updated_at
		RETURNING status, updated_at`

	var status string
	err = scope.Conn.QueryRow(ctx, query,
		rec.ProtocolID,
		rec.SiteID,
		rec.Score,
		strengths,
		weaknesses,
		rec.RecruitmentPotential,
		string(models.SiteSelected),
		now,
	).Scan(&status, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert compatibility record: %w", err)
	}
	rec.Status = models.SiteAssociationStatus(status)

	return nil
}

func (r *siteRepository) ListAssociations(ctx context.Context, protocolID uuid.UUID) ([]*models.SiteAssociation, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT ps.protocol_id, ps.site_id, ps.compatibility_score, ps.strengths, ps.weaknesses,
		       ps.recruitment_potential, ps.status, ps.updated_at, ps.contact_date, ps.confirmation_date,
		       s.doctor_id, s.first_name, s.last_name, s.email, s.specialty_description
		FROM protocol_sites ps
		JOIN sites s ON s.id = ps.site_id
		WHERE ps.protocol_id = $1
		ORDER BY ps.compatibility_score DESC, s.doctor_id`, protocolID)
	if err != nil {
		return nil, fmt.Errorf("failed to query site associations: %w", err)
	}
	defer rows.Close()

	var associations []*models.SiteAssociation
	for rows.Next() {
		var a models.SiteAssociation
		var strengths, weaknesses []byte
		var status string
		err := rows.Scan(
			&a.ProtocolID, &a.SiteID, &a.Score, &strengths, &weaknesses,
			&a.RecruitmentPotential, &status, &a.UpdatedAt, &a.ContactDate, &a.ConfirmationDate,
			&a.DoctorID, &a.FirstName, &a.LastName, &a.Email, &a.SpecialtyDescription,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site association: %w", err)
		}
		a.Status = models.SiteAssociationStatus(status)
		if err := unmarshalJSONB(strengths, &a.Strengths); err != nil {
			return nil, fmt.Errorf("failed to unmarshal strengths: %w", err)
		}
		if err := unmarshalJSONB(weaknesses, &a.Weaknesses); err != nil {
			return nil, fmt.Errorf("failed to unmarshal weaknesses: %w", err)
		}
		associations = append(associations, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating site associations: %w", err)
	}

	return associations, nil
}

func (r *siteRepository) Seed(ctx context.Context, sites []*models.Site) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	for _, site := range sites {
		if err := seedSite(ctx, tx, site); err != nil {
			return &apperrors.TransactionError{Op: fmt.Sprintf("seed site %s", site.DoctorID), Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &apperrors.TransactionError{Op: "commit site seed", Err: err}
	}
	return nil
}

func seedSite(ctx context.Context, tx pgx.Tx, site *models.Site) error {
	if site.ID == uuid.Nil {
		site.ID = uuid.New()
	}

	err := tx.QueryRow(ctx, `
		INSERT INTO sites (id, doctor_id, first_name, last_name, email, site_name,
		                   specialty_description, license_state, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (doctor_id) DO UPDATE
		SET first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    email = EXCLUDED.email,
		    site_name = EXCLUDED.site_name,
		    specialty_description = EXCLUDED.specialty_description,
		    license_state = EXCLUDED.license_state,
		    is_active = EXCLUDED.is_active,
		    updated_at = now()
		RETURNING id`,
		site.ID, site.DoctorID, site.FirstName, site.LastName, site.Email, site.SiteName,
		site.SpecialtyDescription, site.LicenseState, site.IsActive,
	).Scan(&site.ID)
	if err != nil {
		return fmt.Errorf("upsert site: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM site_locations WHERE site_id = $1`, site.ID); err != nil {
		return fmt.Errorf("clear locations: %w", err)
	}
	for _, loc := range site.Locations {
		_, err := tx.Exec(ctx, `
			INSERT INTO site_locations (site_id, city, state, country, latitude, longitude, is_primary)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			site.ID, loc.City, loc.State, loc.Country, loc.Latitude, loc.Longitude, loc.IsPrimary)
		if err != nil {
			return fmt.Errorf("insert location: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM site_therapeutic_experience WHERE site_id = $1`, site.ID); err != nil {
		return fmt.Errorf("clear therapeutic experience: %w", err)
	}
	for _, exp := range site.TherapeuticExperience {
		_, err := tx.Exec(ctx, `
			INSERT INTO site_therapeutic_experience (site_id, area, trial_count, patient_count, is_specialization)
			VALUES ($1, $2, $3, $4, $5)`,
			site.ID, exp.Area, exp.TrialCount, exp.PatientCount, exp.IsSpecialization)
		if err != nil {
			return fmt.Errorf("insert therapeutic experience: %w", err)
		}
	}

	te := site.TrialExperience
	_, err = tx.Exec(ctx, `
		INSERT INTO site_trial_experience (site_id, phase1_count, phase2_count, phase3_count, phase4_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (site_id) DO UPDATE
		SET phase1_count = EXCLUDED.phase1_count,
		    phase2_count = EXCLUDED.phase2_count,
		    phase3_count = EXCLUDED.phase3_count,
		    phase4_count = EXCLUDED.phase4_count`,
		site.ID, te.Phase1, te.Phase2, te.Phase3, te.Phase4)
	if err != nil {
		return fmt.Errorf("upsert trial experience: %w", err)
	}

	if site.Metrics == nil {
		_, err = tx.Exec(ctx, `DELETE FROM site_metrics WHERE site_id = $1`, site.ID)
	} else {
		_, err = tx.Exec(ctx, `
			INSERT INTO site_metrics (site_id, recruitment_rate, retention_rate, screen_failure_rate)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (site_id) DO UPDATE
			SET recruitment_rate = EXCLUDED.recruitment_rate,
			    retention_rate = EXCLUDED.retention_rate,
			    screen_failure_rate = EXCLUDED.screen_failure_rate`,
			site.ID, site.Metrics.RecruitmentRate, site.Metrics.RetentionRate, site.Metrics.ScreenFailureRate)
	}
	if err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}

	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
