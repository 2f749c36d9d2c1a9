//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/google/uuid"
)

// Job is one tracked opportunity
type Job struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"` // may contain HTML from the capture source
	URL           string     `json:"url,omitempty"`
	Category      string     `json:"category,omitempty"`
	Skills        []string   `json:"skills,omitempty"`
	BudgetMin     *float64   `json:"budget_min,omitempty"`
	BudgetMax     *float64   `json:"budget_max,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	Status        JobStatus  `json:"status"`
	DuplicateOfID *uuid.UUID `json:"duplicate_of_id,omitempty"`
	CapturedAt    time.Time  `json:"captured_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsDuplicate reports whether the job was captured as a copy of another job
func (j *Job) IsDuplicate() bool {
	return j.DuplicateOfID != nil
}

// Proposal is a bid submitted for a job
type Proposal struct {
	ID        uuid.UUID      `json:"id"`
	TenantID  uuid.UUID      `json:"tenant_id"`
	JobID     uuid.UUID      `json:"job_id"`
	Status    ProposalStatus `json:"status"`
	BidAmount *float64       `json:"bid_amount,omitempty"`
	SentAt    *time.Time     `json:"sent_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Project is work derived from an accepted job
type Project struct {
	ID          uuid.UUID     `json:"id"`
	TenantID    uuid.UUID     `json:"tenant_id"`
	JobID       uuid.UUID     `json:"job_id"`
	Name        string        `json:"name"`
	Status      ProjectStatus `json:"status"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ActivityRecord is an immutable journey log entry
type ActivityRecord struct {
	ID          uuid.UUID      `json:"id"`
	TenantID    uuid.UUID      `json:"tenant_id"`
	JobID       uuid.UUID      `json:"job_id"`
	ProposalID  *uuid.UUID     `json:"proposal_id,omitempty"`
	ProjectID   *uuid.UUID     `json:"project_id,omitempty"`
	Phase       JourneyPhase   `json:"phase"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Analysis is the persisted result of an AI analysis of a job
type Analysis struct {
	ID             uuid.UUID `json:"id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	JobID          uuid.UUID `json:"job_id"`
	FitScore       int       `json:"fit_score"` // 0-100
	Recommendation string    `json:"recommendation,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	MatchedSkills  []string  `json:"matched_skills,omitempty"`
	MissingSkills  []string  `json:"missing_skills,omitempty"`
	Category       string    `json:"category,omitempty"`
	Model          string    `json:"model,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
