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

const jobColumns = `id, tenant_id, title, description, url, category, skills,
	budget_min, budget_max, currency, status, duplicate_of_id, captured_at, updated_at`

// -----------------------------------------------------------------------------
// Job Methods
// -----------------------------------------------------------------------------

// CreateJob inserts a captured job. ID, Status and timestamps are filled when zero.
func (db *DB) CreateJob(ctx context.Context, job *types.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = types.JobNew
	}
	now := time.Now().UTC()
	if job.CapturedAt.IsZero() {
		job.CapturedAt = now
	}
	job.UpdatedAt = now

	skillsJSON, err := json.Marshal(nonNil(job.Skills))
	if err != nil {
		return errors.Wrap(err, "failed to marshal skills")
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO jobs (id, tenant_id, title, description, url, category, skills,
		                   budget_min, budget_max, currency, status, duplicate_of_id, captured_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID, job.TenantID, job.Title, job.Description, job.URL, job.Category, skillsJSON,
		job.BudgetMin, job.BudgetMax, job.Currency, string(job.Status), job.DuplicateOfID,
		job.CapturedAt, job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

// GetJobByID retrieves a job by ID within a tenant. Returns nil, nil when missing.
func (db *DB) GetJobByID(ctx context.Context, tenantID, jobID uuid.UUID) (*types.Job, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND tenant_id = $2`,
		jobID, tenantID,
	)
	job, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// UpdateJobStatus sets a job's coarse status
func (db *DB) UpdateJobStatus(ctx context.Context, tenantID, jobID uuid.UUID, status types.JobStatus) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = NOW() WHERE id = $2 AND tenant_id = $3`,
		string(status), jobID, tenantID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job status")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

// ListJobs returns every job of a tenant, newest capture first
func (db *DB) ListJobs(ctx context.Context, tenantID uuid.UUID) ([]types.Job, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE tenant_id = $1 ORDER BY captured_at DESC`,
		tenantID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListUnanalyzedJobs returns non-duplicate, non-terminal jobs captured after
// since that have no analysis row yet, oldest first.
func (db *DB) ListUnanalyzedJobs(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]types.Job, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs j
		 WHERE j.tenant_id = $1
		   AND j.captured_at >= $2
		   AND j.duplicate_of_id IS NULL
		   AND j.status NOT IN ('REJECTED', 'EXPIRED', 'SKIPPED')
		   AND NOT EXISTS (SELECT 1 FROM job_analyses a WHERE a.job_id = j.id)
		 ORDER BY j.captured_at ASC
		 LIMIT $3`,
		tenantID, since, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list unanalyzed jobs")
	}
	defer rows.Close()

	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]types.Job, error) {
	jobs := make([]types.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate jobs")
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*types.Job, error) {
	var j types.Job
	var status string
	var skillsJSON []byte
	err := row.Scan(&j.ID, &j.TenantID, &j.Title, &j.Description, &j.URL, &j.Category, &skillsJSON,
		&j.BudgetMin, &j.BudgetMax, &j.Currency, &status, &j.DuplicateOfID, &j.CapturedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = types.JobStatus(status)
	if skillsJSON != nil {
		_ = json.Unmarshal(skillsJSON, &j.Skills)
	}
	return &j, nil
}

// -----------------------------------------------------------------------------
// Proposal and Project Methods
// -----------------------------------------------------------------------------

// CreateProposal inserts a proposal
func (db *DB) CreateProposal(ctx context.Context, p *types.Proposal) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO proposals (id, tenant_id, job_id, status, bid_amount, sent_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.TenantID, p.JobID, string(p.Status), p.BidAmount, p.SentAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create proposal")
	}
	return nil
}

// FindLatestProposalForJob returns the most recent proposal for a job, or nil
func (db *DB) FindLatestProposalForJob(ctx context.Context, tenantID, jobID uuid.UUID) (*types.Proposal, error) {
	var p types.Proposal
	var status string
	err := db.pool.QueryRow(ctx,
		`SELECT id, tenant_id, job_id, status, bid_amount, sent_at, created_at, updated_at
		 FROM proposals WHERE job_id = $1 AND tenant_id = $2
		 ORDER BY created_at DESC LIMIT 1`,
		jobID, tenantID,
	).Scan(&p.ID, &p.TenantID, &p.JobID, &status, &p.BidAmount, &p.SentAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get latest proposal")
	}
	p.Status = types.ProposalStatus(status)
	return &p, nil
}

// CreateProject inserts a project
func (db *DB) CreateProject(ctx context.Context, p *types.Project) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO projects (id, tenant_id, job_id, name, status, started_at, completed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.TenantID, p.JobID, p.Name, string(p.Status), p.StartedAt, p.CompletedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create project")
	}
	return nil
}

// FindLatestProjectForJob returns the most recent project for a job, or nil
func (db *DB) FindLatestProjectForJob(ctx context.Context, tenantID, jobID uuid.UUID) (*types.Project, error) {
	var p types.Project
	var status string
	err := db.pool.QueryRow(ctx,
		`SELECT id, tenant_id, job_id, name, status, started_at, completed_at, created_at, updated_at
		 FROM projects WHERE job_id = $1 AND tenant_id = $2
		 ORDER BY created_at DESC LIMIT 1`,
		jobID, tenantID,
	).Scan(&p.ID, &p.TenantID, &p.JobID, &p.Name, &status, &p.StartedAt, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get latest project")
	}
	p.Status = types.ProjectStatus(status)
	return &p, nil
}

// nonNil keeps JSONB columns as [] instead of null
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
