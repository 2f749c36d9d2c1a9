package journey

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/bidpilot/internal/events"
	"github.com/jonathan/bidpilot/internal/logging"
	"github.com/jonathan/bidpilot/internal/memstore"
	"github.com/jonathan/bidpilot/internal/types"
)

var chain = []types.JobStatus{
	types.JobNew,
	types.JobAnalyzed,
	types.JobShortlisted,
	types.JobBidding,
	types.JobBidSent,
	types.JobInterviewing,
	types.JobAccepted,
}

func newTestEngine(t *testing.T) (*Engine, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	return NewEngine(store, logging.Nop()), store
}

func seedJob(t *testing.T, store *memstore.Store, tenant uuid.UUID, status types.JobStatus) types.Job {
	t.Helper()
	job := &types.Job{TenantID: tenant, Title: "Stripe webhook integration", Status: status}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return *job
}

func TestShouldAdvance_Chain(t *testing.T) {
	for ci, current := range chain {
		for ti, target := range chain {
			assert.Equal(t, ti > ci, ShouldAdvance(current, target), "%s -> %s", current, target)
		}
	}
}

func TestShouldAdvance_OutsideChain(t *testing.T) {
	for _, terminal := range []types.JobStatus{types.JobRejected, types.JobExpired, types.JobSkipped} {
		for _, s := range chain {
			assert.False(t, ShouldAdvance(terminal, s), "%s -> %s", terminal, s)
			assert.False(t, ShouldAdvance(s, terminal), "%s -> %s", s, terminal)
		}
	}
}

func TestOnProposalStatusChanged_NeverRegresses(t *testing.T) {
	proposalStatuses := []types.ProposalStatus{
		types.ProposalDraft, types.ProposalReview, types.ProposalReady, types.ProposalSent,
		types.ProposalViewed, types.ProposalShortlisted, types.ProposalAccepted,
		types.ProposalRejected, types.ProposalWithdrawn,
	}
	ctx := context.Background()
	tenant := uuid.New()

	for _, current := range chain {
		for _, ps := range proposalStatuses {
			engine, store := newTestEngine(t)
			job := seedJob(t, store, tenant, current)
			proposal := types.Proposal{ID: uuid.New(), TenantID: tenant, JobID: job.ID, Status: ps}

			advanced, err := engine.OnProposalStatusChanged(ctx, tenant, proposal, job, "", ps)
			require.NoError(t, err)

			after, err := store.GetJobByID(ctx, tenant, job.ID)
			require.NoError(t, err)

			target, hasTarget := ps.JobTarget()
			wantAdvance := hasTarget && ShouldAdvance(current, target)
			assert.Equal(t, wantAdvance, advanced, "%s with proposal %s", current, ps)
			if wantAdvance {
				assert.Equal(t, target, after.Status)
			} else {
				assert.Equal(t, current, after.Status)
			}
			if after.Status.ChainIndex() >= 0 {
				assert.GreaterOrEqual(t, after.Status.ChainIndex(), current.ChainIndex())
			}
		}
	}
}

func TestOnProposalStatusChanged_UsesCurrentJobStatus(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	tenant := uuid.New()
	job := seedJob(t, store, tenant, types.JobNew)

	// The stored job moved on after the event snapshot was taken.
	require.NoError(t, store.UpdateJobStatus(ctx, tenant, job.ID, types.JobInterviewing))

	advanced, err := engine.OnProposalStatusChanged(ctx, tenant, types.Proposal{ID: uuid.New()}, job, types.ProposalDraft, types.ProposalSent)
	require.NoError(t, err)
	assert.False(t, advanced)

	after, _ := store.GetJobByID(ctx, tenant, job.ID)
	assert.Equal(t, types.JobInterviewing, after.Status)
}

func TestOnProposalStatusChanged_RejectedJobStaysRejected(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	tenant := uuid.New()
	job := seedJob(t, store, tenant, types.JobRejected)

	advanced, err := engine.OnProposalStatusChanged(ctx, tenant, types.Proposal{ID: uuid.New()}, job, "", types.ProposalAccepted)
	require.NoError(t, err)
	assert.False(t, advanced)
}

func TestOnProposalStatusChanged_ActivityFailureIsSwallowed(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	tenant := uuid.New()
	job := seedJob(t, store, tenant, types.JobAnalyzed)
	store.FailActivityWrites = true

	advanced, err := engine.OnProposalStatusChanged(ctx, tenant, types.Proposal{ID: uuid.New()}, job, types.ProposalDraft, types.ProposalSent)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Empty(t, store.Activities(job.ID))
}

func TestOnProposalStatusChanged_MissingJob(t *testing.T) {
	engine, _ := newTestEngine(t)
	ghost := types.Job{ID: uuid.New(), TenantID: uuid.New()}

	_, err := engine.OnProposalStatusChanged(context.Background(), ghost.TenantID, types.Proposal{ID: uuid.New()}, ghost, "", types.ProposalSent)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestOnProposalStatusChanged_ViewedLogsNothing(t *testing.T) {
	engine, store := newTestEngine(t)
	tenant := uuid.New()
	job := seedJob(t, store, tenant, types.JobBidSent)

	advanced, err := engine.OnProposalStatusChanged(context.Background(), tenant, types.Proposal{ID: uuid.New()}, job, types.ProposalSent, types.ProposalViewed)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Empty(t, store.Activities(job.ID))
}

func TestOnProposalStatusChanged_RecordsProposalPhase(t *testing.T) {
	engine, store := newTestEngine(t)
	tenant := uuid.New()
	job := seedJob(t, store, tenant, types.JobBidding)
	proposal := types.Proposal{ID: uuid.New(), TenantID: tenant, JobID: job.ID}

	_, err := engine.OnProposalStatusChanged(context.Background(), tenant, proposal, job, types.ProposalReady, types.ProposalSent)
	require.NoError(t, err)

	acts := store.Activities(job.ID)
	require.Len(t, acts, 1)
	assert.Equal(t, types.PhaseProposalSent, acts[0].Phase)
	require.NotNil(t, acts[0].ProposalID)
	assert.Equal(t, proposal.ID, *acts[0].ProposalID)
	assert.Equal(t, "SENT", acts[0].Metadata["new_status"])
}

func TestOnJobAnalyzed_RecordsAndAdvancesNewJob(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	tenant := uuid.New()
	job := seedJob(t, store, tenant, types.JobNew)

	engine.OnJobAnalyzed(ctx, job, types.Analysis{ID: uuid.New(), FitScore: 72})

	acts := store.Activities(job.ID)
	require.Len(t, acts, 1)
	assert.Equal(t, types.PhaseAnalyzed, acts[0].Phase)
	assert.Equal(t, 72, acts[0].Metadata["fit_score"])

	after, _ := store.GetJobByID(ctx, tenant, job.ID)
	assert.Equal(t, types.JobAnalyzed, after.Status)
}

func TestSimpleHooksAppendOneRecord(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	tenant := uuid.New()
	job := seedJob(t, store, tenant, types.JobNew)
	project := types.Project{ID: uuid.New(), TenantID: tenant, JobID: job.ID, Name: "Billing"}
	amount := 500.0
	rating := 5

	engine.OnJobCaptured(ctx, job)
	engine.OnJobStatusChanged(ctx, job, types.JobNew, types.JobShortlisted)
	engine.OnProjectStatusChanged(ctx, project, types.ProjectPending, types.ProjectActive)
	engine.OnProjectStatusChanged(ctx, project, "", types.ProjectPending)
	engine.OnMilestoneCompleted(ctx, project, "API done", &amount)
	engine.OnPaymentReceived(ctx, project, &amount)
	engine.OnFeedbackReceived(ctx, project, &rating)

	var phases []types.JourneyPhase
	for _, a := range store.Activities(job.ID) {
		phases = append(phases, a.Phase)
	}
	assert.Equal(t, []types.JourneyPhase{
		types.PhaseDiscovered,
		types.PhaseShortlisted,
		types.PhaseProjectStarted,
		types.PhaseMilestoneCompleted,
		types.PhasePaymentReceived,
		types.PhaseFeedbackReceived,
	}, phases)

	after, _ := store.GetJobByID(ctx, tenant, job.ID)
	assert.Equal(t, types.JobNew, after.Status, "activity hooks never change the job")
}

func TestRegister_RoutesEvents(t *testing.T) {
	engine, store := newTestEngine(t)
	bus := events.NewBus(logging.Nop())
	unsubscribe := engine.Register(bus)
	defer unsubscribe()

	ctx := context.Background()
	tenant := uuid.New()
	job := seedJob(t, store, tenant, types.JobAnalyzed)

	bus.Publish(ctx, events.Event{
		Kind:     events.ProposalStatusChanged,
		TenantID: tenant,
		Payload: events.ProposalStatusChangedPayload{
			Proposal:  types.Proposal{ID: uuid.New(), TenantID: tenant, JobID: job.ID},
			Job:       job,
			OldStatus: types.ProposalReady,
			NewStatus: types.ProposalSent,
		},
	})
	bus.Wait()

	after, _ := store.GetJobByID(ctx, tenant, job.ID)
	assert.Equal(t, types.JobBidSent, after.Status)

	unsubscribe()
	assert.Equal(t, 0, bus.SubscriberCount(events.ProposalStatusChanged))
}

func TestRegister_RecaptureKeepsLaterPhase(t *testing.T) {
	engine, store := newTestEngine(t)
	bus := events.NewBus(logging.Nop())
	defer engine.Register(bus)()

	ctx := context.Background()
	tenant := uuid.New()
	job := seedJob(t, store, tenant, types.JobAnalyzed)
	capture := events.Event{
		Kind:     events.JobCaptured,
		TenantID: tenant,
		Payload:  events.JobCapturedPayload{JobID: job.ID},
	}

	bus.Publish(ctx, capture)
	bus.Wait()
	bus.Publish(ctx, events.Event{
		Kind:     events.ProposalStatusChanged,
		TenantID: tenant,
		Payload: events.ProposalStatusChangedPayload{
			Proposal:  types.Proposal{ID: uuid.New(), TenantID: tenant, JobID: job.ID, Status: types.ProposalSent},
			Job:       job,
			OldStatus: types.ProposalDraft,
			NewStatus: types.ProposalSent,
		},
	})
	bus.Wait()

	bus.Publish(ctx, capture)
	bus.Wait()

	entries, err := engine.GetPipeline(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.PhaseProposalSent, entries[0].Phase)

	discovered := 0
	for _, a := range store.Activities(job.ID) {
		if a.Phase == types.PhaseDiscovered {
			discovered++
		}
	}
	assert.Equal(t, 1, discovered)

	after, _ := store.GetJobByID(ctx, tenant, job.ID)
	assert.Equal(t, types.JobBidSent, after.Status)
}
