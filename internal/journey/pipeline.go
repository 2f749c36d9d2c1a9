package journey

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/jonathan/bidpilot/internal/types"
)

// Where a pipeline entry's phase came from
const (
	PhaseFromActivity = "activity"
	PhaseFromStatus   = "status"
)

// ProposalSummary is the pipeline view of a job's latest proposal
type ProposalSummary struct {
	ID        uuid.UUID            `json:"id"`
	Status    types.ProposalStatus `json:"status"`
	BidAmount *float64             `json:"bid_amount,omitempty"`
	SentAt    *time.Time           `json:"sent_at,omitempty"`
}

// ProjectSummary is the pipeline view of a job's latest project
type ProjectSummary struct {
	ID     uuid.UUID           `json:"id"`
	Name   string              `json:"name"`
	Status types.ProjectStatus `json:"status"`
}

// PipelineEntry is the read-only projection of one job's position
type PipelineEntry struct {
	Job            types.Job          `json:"job"`
	Phase          types.JourneyPhase `json:"phase"`
	PhaseSource    string             `json:"phase_source"`
	LastActivityAt *time.Time         `json:"last_activity_at,omitempty"`
	Proposal       *ProposalSummary   `json:"proposal,omitempty"`
	Project        *ProjectSummary    `json:"project,omitempty"`
}

// PipelineStats holds phase counts and funnel conversion ratios (0..1)
type PipelineStats struct {
	Total         int                        `json:"total"`
	PhaseCounts   map[types.JourneyPhase]int `json:"phase_counts"`
	ProposalsSent int                        `json:"proposals_sent"`
	Won           int                        `json:"won"`
	Delivered     int                        `json:"delivered"`
	ProposalRate  float64                    `json:"proposal_rate"`
	WinRate       float64                    `json:"win_rate"`
	DeliveryRate  float64                    `json:"delivery_rate"`
}

// GetPipeline returns one entry per non-duplicate job of the tenant. The
// phase is the latest activity's phase, or the job status's phase when the
// job has no activity yet.
func (e *Engine) GetPipeline(ctx context.Context, tenantID uuid.UUID) ([]PipelineEntry, error) {
	jobs, err := e.store.ListJobs(ctx, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}

	entries := make([]PipelineEntry, 0, len(jobs))
	for _, job := range jobs {
		if job.IsDuplicate() {
			continue
		}
		entry, err := e.pipelineEntry(ctx, job)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (e *Engine) pipelineEntry(ctx context.Context, job types.Job) (PipelineEntry, error) {
	entry := PipelineEntry{Job: job}

	latest, err := e.store.FindLatestActivityForJob(ctx, job.TenantID, job.ID)
	if err != nil {
		return entry, errors.Wrapf(err, "failed to load activity for job %s", job.ID)
	}
	if latest != nil {
		entry.Phase = latest.Phase
		entry.PhaseSource = PhaseFromActivity
		at := latest.CreatedAt
		entry.LastActivityAt = &at
	} else if phase, ok := job.Status.Phase(); ok {
		entry.Phase = phase
		entry.PhaseSource = PhaseFromStatus
	} else {
		entry.Phase = types.PhaseDiscovered
		entry.PhaseSource = PhaseFromStatus
	}

	proposal, err := e.store.FindLatestProposalForJob(ctx, job.TenantID, job.ID)
	if err != nil {
		return entry, errors.Wrapf(err, "failed to load proposal for job %s", job.ID)
	}
	if proposal != nil {
		entry.Proposal = &ProposalSummary{
			ID:        proposal.ID,
			Status:    proposal.Status,
			BidAmount: proposal.BidAmount,
			SentAt:    proposal.SentAt,
		}
	}

	project, err := e.store.FindLatestProjectForJob(ctx, job.TenantID, job.ID)
	if err != nil {
		return entry, errors.Wrapf(err, "failed to load project for job %s", job.ID)
	}
	if project != nil {
		entry.Project = &ProjectSummary{ID: project.ID, Name: project.Name, Status: project.Status}
	}

	return entry, nil
}

// GetPipelineStats computes phase counts and conversion ratios for a tenant
func (e *Engine) GetPipelineStats(ctx context.Context, tenantID uuid.UUID) (*PipelineStats, error) {
	entries, err := e.GetPipeline(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	stats := ComputeStats(entries)
	return &stats, nil
}

// ComputeStats derives funnel numbers from pipeline entries.
//
//	proposal rate = jobs at or past PROPOSAL_SENT / all jobs
//	win rate      = jobs at or past WON / jobs at or past PROPOSAL_SENT
//	delivery rate = jobs at or past PROJECT_DELIVERED / jobs at or past WON
//
// A zero denominator yields 0.
func ComputeStats(entries []PipelineEntry) PipelineStats {
	stats := PipelineStats{
		Total:       len(entries),
		PhaseCounts: make(map[types.JourneyPhase]int),
	}
	for _, entry := range entries {
		stats.PhaseCounts[entry.Phase]++
		if entry.Phase.AtLeast(types.PhaseProposalSent) {
			stats.ProposalsSent++
		}
		if entry.Phase.AtLeast(types.PhaseWon) {
			stats.Won++
		}
		if entry.Phase.AtLeast(types.PhaseProjectDelivered) {
			stats.Delivered++
		}
	}
	stats.ProposalRate = ratio(stats.ProposalsSent, stats.Total)
	stats.WinRate = ratio(stats.Won, stats.ProposalsSent)
	stats.DeliveryRate = ratio(stats.Delivered, stats.Won)
	return stats
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
