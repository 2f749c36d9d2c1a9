package journey

import (
	"context"

	"github.com/google/uuid"

	"github.com/jonathan/bidpilot/internal/events"
	"github.com/jonathan/bidpilot/internal/types"
)

// Register subscribes the engine to the lifecycle events so that publishers
// never call it directly. The returned function unsubscribes everything.
func (e *Engine) Register(bus *events.Bus) func() {
	unsubs := []func(){
		events.On(bus, events.JobCaptured, "journey.job_captured",
			func(ctx context.Context, ev events.Event, p events.JobCapturedPayload) error {
				job, err := e.store.GetJobByID(ctx, ev.TenantID, p.JobID)
				if err != nil {
					return err
				}
				if job == nil {
					e.log.Warnw("captured job not found", "tenant_id", ev.TenantID, "job_id", p.JobID)
					return nil
				}
				// a re-announced capture must not pull the phase back to DISCOVERED
				latest, err := e.store.FindLatestActivityForJob(ctx, ev.TenantID, p.JobID)
				if err != nil {
					return err
				}
				if latest != nil {
					e.log.Debugw("capture already recorded", "job_id", p.JobID, "phase", latest.Phase)
					return nil
				}
				e.OnJobCaptured(ctx, *job)
				return nil
			}),
		events.On(bus, events.JobStatusChanged, "journey.job_status",
			func(ctx context.Context, _ events.Event, p events.JobStatusChangedPayload) error {
				e.OnJobStatusChanged(ctx, p.Job, p.OldStatus, p.NewStatus)
				return nil
			}),
		events.On(bus, events.ProposalStatusChanged, "journey.proposal_status",
			func(ctx context.Context, ev events.Event, p events.ProposalStatusChangedPayload) error {
				_, err := e.OnProposalStatusChanged(ctx, tenantOf(ev, p.Job), p.Proposal, p.Job, p.OldStatus, p.NewStatus)
				return err
			}),
		events.On(bus, events.ProjectStatusChanged, "journey.project_status",
			func(ctx context.Context, _ events.Event, p events.ProjectStatusChangedPayload) error {
				e.OnProjectStatusChanged(ctx, p.Project, p.OldStatus, p.NewStatus)
				return nil
			}),
		events.On(bus, events.MilestoneCompleted, "journey.milestone",
			func(ctx context.Context, _ events.Event, p events.MilestonePayload) error {
				e.OnMilestoneCompleted(ctx, p.Project, p.Title, p.Amount)
				return nil
			}),
		events.On(bus, events.PaymentReceived, "journey.payment",
			func(ctx context.Context, _ events.Event, p events.MilestonePayload) error {
				e.OnPaymentReceived(ctx, p.Project, p.Amount)
				return nil
			}),
		events.On(bus, events.FeedbackReceived, "journey.feedback",
			func(ctx context.Context, _ events.Event, p events.MilestonePayload) error {
				e.OnFeedbackReceived(ctx, p.Project, p.Rating)
				return nil
			}),
	}

	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// tenantOf prefers the tenant on the job snapshot and falls back to the event scope
func tenantOf(ev events.Event, job types.Job) uuid.UUID {
	if job.TenantID != uuid.Nil {
		return job.TenantID
	}
	return ev.TenantID
}
