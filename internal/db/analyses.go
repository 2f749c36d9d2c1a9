package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/bidpilot/internal/types"
)

const analysisColumns = `id, tenant_id, job_id, fit_score, recommendation, summary,
	matched_skills, missing_skills, category, model, created_at`

// -----------------------------------------------------------------------------
// Analysis Methods
// -----------------------------------------------------------------------------

// CreateAnalysis persists an analysis result
func (db *DB) CreateAnalysis(ctx context.Context, a *types.Analysis) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	matchedJSON, err := json.Marshal(nonNil(a.MatchedSkills))
	if err != nil {
		return errors.Wrap(err, "failed to marshal matched skills")
	}
	missingJSON, err := json.Marshal(nonNil(a.MissingSkills))
	if err != nil {
		return errors.Wrap(err, "failed to marshal missing skills")
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO job_analyses (id, tenant_id, job_id, fit_score, recommendation, summary,
		        matched_skills, missing_skills, category, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.TenantID, a.JobID, a.FitScore, a.Recommendation, a.Summary,
		matchedJSON, missingJSON, a.Category, a.Model, a.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create analysis")
	}
	return nil
}

// FindExistingAnalysis returns the newest analysis of a job, or nil when none exists
func (db *DB) FindExistingAnalysis(ctx context.Context, tenantID, jobID uuid.UUID) (*types.Analysis, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM job_analyses
		 WHERE job_id = $1 AND tenant_id = $2
		 ORDER BY created_at DESC LIMIT 1`,
		jobID, tenantID,
	)
	a, err := scanAnalysis(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find analysis")
	}
	return a, nil
}

// GetAnalysis returns an analysis by ID, or nil when missing
func (db *DB) GetAnalysis(ctx context.Context, tenantID, analysisID uuid.UUID) (*types.Analysis, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM job_analyses WHERE id = $1 AND tenant_id = $2`,
		analysisID, tenantID,
	)
	a, err := scanAnalysis(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get analysis")
	}
	return a, nil
}

func scanAnalysis(row pgx.Row) (*types.Analysis, error) {
	var a types.Analysis
	var matchedJSON, missingJSON []byte
	err := row.Scan(&a.ID, &a.TenantID, &a.JobID, &a.FitScore, &a.Recommendation, &a.Summary,
		&matchedJSON, &missingJSON, &a.Category, &a.Model, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if matchedJSON != nil {
		_ = json.Unmarshal(matchedJSON, &a.MatchedSkills)
	}
	if missingJSON != nil {
		_ = json.Unmarshal(missingJSON, &a.MissingSkills)
	}
	return &a, nil
}
