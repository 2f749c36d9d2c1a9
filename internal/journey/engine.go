// Package journey maintains the append-only activity log of each job and
// moves a job's coarse status forward when its proposals change.
//
// Activity writes are best effort: a failed write is logged and never
// surfaces to the caller. Status auto-advance only moves forward along the
// job chain NEW, ANALYZED, SHORTLISTED, BIDDING, BID_SENT, INTERVIEWING,
// ACCEPTED and never touches a job whose status is outside that chain.
package journey

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/bidpilot/internal/types"
)

// ErrJobNotFound is returned when a status change references a missing job
var ErrJobNotFound = errors.New("job not found")

// Store is the persistence the engine needs
type Store interface {
	CreateActivity(ctx context.Context, a *types.ActivityRecord) error
	FindLatestActivityForJob(ctx context.Context, tenantID, jobID uuid.UUID) (*types.ActivityRecord, error)
	GetJobByID(ctx context.Context, tenantID, jobID uuid.UUID) (*types.Job, error)
	UpdateJobStatus(ctx context.Context, tenantID, jobID uuid.UUID, status types.JobStatus) error
	ListJobs(ctx context.Context, tenantID uuid.UUID) ([]types.Job, error)
	FindLatestProposalForJob(ctx context.Context, tenantID, jobID uuid.UUID) (*types.Proposal, error)
	FindLatestProjectForJob(ctx context.Context, tenantID, jobID uuid.UUID) (*types.Project, error)
}

// Engine records journey activity and applies monotonic status advance
type Engine struct {
	store Store
	log   *zap.SugaredLogger
}

// NewEngine creates a journey engine
func NewEngine(store Store, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{store: store, log: log.Named("journey")}
}

// OnProposalStatusChanged logs the proposal's phase and pulls the parent job
// forward to the proposal's target status when that is an advance. It reports
// whether the job status changed. Only job read or update failures are returned.
func (e *Engine) OnProposalStatusChanged(ctx context.Context, tenantID uuid.UUID, proposal types.Proposal, job types.Job, oldStatus, newStatus types.ProposalStatus) (bool, error) {
	if phase, ok := newStatus.Phase(); ok {
		proposalID := proposal.ID
		e.record(ctx, &types.ActivityRecord{
			TenantID:    tenantID,
			JobID:       job.ID,
			ProposalID:  &proposalID,
			Phase:       phase,
			Title:       phaseTitle(phase),
			Description: fmt.Sprintf("Proposal for %q moved from %s to %s", job.Title, orNone(string(oldStatus)), newStatus),
			Metadata: map[string]any{
				"source":     "proposal",
				"old_status": string(oldStatus),
				"new_status": string(newStatus),
			},
		})
	}

	target, ok := newStatus.JobTarget()
	if !ok {
		return false, nil
	}
	return e.advanceJob(ctx, tenantID, job.ID, target)
}

// advanceJob re-reads the job so the comparison uses its current status,
// not the snapshot carried by the event.
func (e *Engine) advanceJob(ctx context.Context, tenantID, jobID uuid.UUID, target types.JobStatus) (bool, error) {
	current, err := e.store.GetJobByID(ctx, tenantID, jobID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to load job %s", jobID)
	}
	if current == nil {
		return false, errors.Wrapf(ErrJobNotFound, "job %s", jobID)
	}

	if !ShouldAdvance(current.Status, target) {
		e.log.Debugw("job status not advanced",
			"job_id", jobID, "current", current.Status, "target", target)
		return false, nil
	}

	if err := e.store.UpdateJobStatus(ctx, tenantID, jobID, target); err != nil {
		return false, errors.Wrapf(err, "failed to advance job %s to %s", jobID, target)
	}
	e.log.Infow("job status advanced",
		"tenant_id", tenantID, "job_id", jobID, "from", current.Status, "to", target)
	return true, nil
}

// ShouldAdvance reports whether moving from current to target is a strict
// forward step in the job chain. Statuses outside the chain never advance.
func ShouldAdvance(current, target types.JobStatus) bool {
	ci, ti := current.ChainIndex(), target.ChainIndex()
	return ci >= 0 && ti >= 0 && ti > ci
}

// OnJobCaptured logs the DISCOVERED phase for a newly captured job
func (e *Engine) OnJobCaptured(ctx context.Context, job types.Job) {
	e.record(ctx, &types.ActivityRecord{
		TenantID:    job.TenantID,
		JobID:       job.ID,
		Phase:       types.PhaseDiscovered,
		Title:       phaseTitle(types.PhaseDiscovered),
		Description: fmt.Sprintf("Captured %q", job.Title),
		Metadata:    map[string]any{"source": "capture", "url": job.URL},
	})
}

// OnJobAnalyzed logs the ANALYZED phase with the fit score and moves a NEW
// job to ANALYZED. A failed status advance is logged, not returned.
func (e *Engine) OnJobAnalyzed(ctx context.Context, job types.Job, analysis types.Analysis) {
	e.record(ctx, &types.ActivityRecord{
		TenantID:    job.TenantID,
		JobID:       job.ID,
		Phase:       types.PhaseAnalyzed,
		Title:       phaseTitle(types.PhaseAnalyzed),
		Description: fmt.Sprintf("AI analysis scored %q at %d%%", job.Title, analysis.FitScore),
		Metadata: map[string]any{
			"source":      "analysis",
			"analysis_id": analysis.ID.String(),
			"fit_score":   analysis.FitScore,
		},
	})

	if _, err := e.advanceJob(ctx, job.TenantID, job.ID, types.JobAnalyzed); err != nil {
		e.log.Warnw("failed to mark job analyzed", "job_id", job.ID, "error", err)
	}
}

// OnJobStatusChanged logs the phase of a user-driven job status change
func (e *Engine) OnJobStatusChanged(ctx context.Context, job types.Job, oldStatus, newStatus types.JobStatus) {
	phase, ok := newStatus.Phase()
	if !ok {
		return
	}
	e.record(ctx, &types.ActivityRecord{
		TenantID:    job.TenantID,
		JobID:       job.ID,
		Phase:       phase,
		Title:       phaseTitle(phase),
		Description: fmt.Sprintf("%q moved from %s to %s", job.Title, orNone(string(oldStatus)), newStatus),
		Metadata: map[string]any{
			"source":     "job",
			"old_status": string(oldStatus),
			"new_status": string(newStatus),
		},
	})
}

// OnProjectStatusChanged logs the phase of a project status change.
// PENDING has no phase and is ignored.
func (e *Engine) OnProjectStatusChanged(ctx context.Context, project types.Project, oldStatus, newStatus types.ProjectStatus) {
	phase, ok := newStatus.Phase()
	if !ok {
		return
	}
	projectID := project.ID
	e.record(ctx, &types.ActivityRecord{
		TenantID:    project.TenantID,
		JobID:       project.JobID,
		ProjectID:   &projectID,
		Phase:       phase,
		Title:       phaseTitle(phase),
		Description: fmt.Sprintf("Project %q moved from %s to %s", project.Name, orNone(string(oldStatus)), newStatus),
		Metadata: map[string]any{
			"source":     "project",
			"old_status": string(oldStatus),
			"new_status": string(newStatus),
		},
	})
}

// OnMilestoneCompleted logs a completed project milestone
func (e *Engine) OnMilestoneCompleted(ctx context.Context, project types.Project, milestone string, amount *float64) {
	meta := map[string]any{"source": "milestone", "milestone": milestone}
	if amount != nil {
		meta["amount"] = *amount
	}
	e.recordProject(ctx, project, types.PhaseMilestoneCompleted,
		fmt.Sprintf("Milestone %q completed on %q", milestone, project.Name), meta)
}

// OnPaymentReceived logs a payment for a project
func (e *Engine) OnPaymentReceived(ctx context.Context, project types.Project, amount *float64) {
	meta := map[string]any{"source": "payment"}
	desc := fmt.Sprintf("Payment received for %q", project.Name)
	if amount != nil {
		meta["amount"] = *amount
		desc = fmt.Sprintf("Payment of %.2f received for %q", *amount, project.Name)
	}
	e.recordProject(ctx, project, types.PhasePaymentReceived, desc, meta)
}

// OnFeedbackReceived logs client feedback for a project
func (e *Engine) OnFeedbackReceived(ctx context.Context, project types.Project, rating *int) {
	meta := map[string]any{"source": "feedback"}
	desc := fmt.Sprintf("Client feedback received for %q", project.Name)
	if rating != nil {
		meta["rating"] = *rating
		desc = fmt.Sprintf("Client rated %q %d/5", project.Name, *rating)
	}
	e.recordProject(ctx, project, types.PhaseFeedbackReceived, desc, meta)
}

func (e *Engine) recordProject(ctx context.Context, project types.Project, phase types.JourneyPhase, desc string, meta map[string]any) {
	projectID := project.ID
	e.record(ctx, &types.ActivityRecord{
		TenantID:    project.TenantID,
		JobID:       project.JobID,
		ProjectID:   &projectID,
		Phase:       phase,
		Title:       phaseTitle(phase),
		Description: desc,
		Metadata:    meta,
	})
}

// record appends an activity; failures are logged and swallowed
func (e *Engine) record(ctx context.Context, a *types.ActivityRecord) {
	if err := e.store.CreateActivity(ctx, a); err != nil {
		e.log.Warnw("failed to record activity",
			"tenant_id", a.TenantID,
			"job_id", a.JobID,
			"phase", a.Phase,
			"error", err,
		)
	}
}

func phaseTitle(p types.JourneyPhase) string {
	switch p {
	case types.PhaseDiscovered:
		return "Job discovered"
	case types.PhaseAnalyzed:
		return "Job analyzed"
	case types.PhaseShortlisted:
		return "Job shortlisted"
	case types.PhaseProposalDrafted:
		return "Proposal drafted"
	case types.PhaseProposalSent:
		return "Proposal sent"
	case types.PhaseInterviewing:
		return "Interviewing"
	case types.PhaseOfferReceived:
		return "Offer received"
	case types.PhaseWon:
		return "Contract won"
	case types.PhaseProjectStarted:
		return "Project started"
	case types.PhaseMilestoneCompleted:
		return "Milestone completed"
	case types.PhaseProjectDelivered:
		return "Project delivered"
	case types.PhasePaymentReceived:
		return "Payment received"
	case types.PhaseFeedbackReceived:
		return "Feedback received"
	case types.PhaseLost:
		return "Opportunity lost"
	case types.PhaseSkipped:
		return "Job skipped"
	case types.PhaseExpired:
		return "Job expired"
	}
	return string(p)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
