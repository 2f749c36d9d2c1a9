package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/jonathan/bidpilot/internal/types"
)

// -----------------------------------------------------------------------------
// Activity Methods
// -----------------------------------------------------------------------------

// CreateActivity appends a journey activity record
func (db *DB) CreateActivity(ctx context.Context, a *types.ActivityRecord) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	metadata := a.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return errors.Wrap(err, "failed to marshal activity metadata")
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO activities (id, tenant_id, job_id, proposal_id, project_id, phase, title, description, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.TenantID, a.JobID, a.ProposalID, a.ProjectID, string(a.Phase), a.Title, a.Description,
		metadataJSON, a.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create activity")
	}
	return nil
}

// FindLatestActivityForJob returns the newest activity of a job, or nil when none exists
func (db *DB) FindLatestActivityForJob(ctx context.Context, tenantID, jobID uuid.UUID) (*types.ActivityRecord, error) {
	var a types.ActivityRecord
	var phase string
	var metadataJSON []byte

	err := db.pool.QueryRow(ctx,
		`SELECT id, tenant_id, job_id, proposal_id, project_id, phase, title, description, metadata, created_at
		 FROM activities WHERE job_id = $1 AND tenant_id = $2
		 ORDER BY created_at DESC LIMIT 1`,
		jobID, tenantID,
	).Scan(&a.ID, &a.TenantID, &a.JobID, &a.ProposalID, &a.ProjectID, &phase, &a.Title, &a.Description,
		&metadataJSON, &a.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get latest activity")
	}

	a.Phase = types.JourneyPhase(phase)
	if metadataJSON != nil {
		_ = json.Unmarshal(metadataJSON, &a.Metadata)
	}
	return &a, nil
}
