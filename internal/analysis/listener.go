package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/bidpilot/internal/events"
	"github.com/jonathan/bidpilot/internal/inflight"
	"github.com/jonathan/bidpilot/internal/notify"
	"github.com/jonathan/bidpilot/internal/types"
)

// DefaultTimeout bounds one analyzer call
const DefaultTimeout = 90 * time.Second

// Store is the persistence the listener needs
type Store interface {
	FindActivePreferencesForTenant(ctx context.Context, tenantID uuid.UUID) ([]types.AlertPreference, error)
	GetJobByID(ctx context.Context, tenantID, jobID uuid.UUID) (*types.Job, error)
	FindExistingAnalysis(ctx context.Context, tenantID, jobID uuid.UUID) (*types.Analysis, error)
	CreateAnalysis(ctx context.Context, a *types.Analysis) error
	GetAnalysis(ctx context.Context, tenantID, analysisID uuid.UUID) (*types.Analysis, error)
}

// JourneyRecorder receives the analysed milestone. *journey.Engine implements it.
type JourneyRecorder interface {
	OnJobAnalyzed(ctx context.Context, job types.Job, analysis types.Analysis)
}

// AlertProcessor fans a match out to users. *notify.Engine implements it.
type AlertProcessor interface {
	ProcessJobMatchAlerts(ctx context.Context, tenantID uuid.UUID, alert types.JobMatchAlert) (*notify.Summary, error)
}

// Listener connects job capture to analysis and analysis to notification
type Listener struct {
	store    Store
	bus      *events.Bus
	analyzer Analyzer
	guard    inflight.Set
	journey  JourneyRecorder
	notifier AlertProcessor
	timeout  time.Duration
	log      *zap.SugaredLogger

	once   sync.Once
	mu     sync.Mutex
	unsubs []func()
}

// Deps groups the listener's collaborators
type Deps struct {
	Store    Store
	Bus      *events.Bus
	Analyzer Analyzer
	Guard    inflight.Set // defaults to an in-memory set
	Journey  JourneyRecorder
	Notifier AlertProcessor
	Timeout  time.Duration
	Logger   *zap.SugaredLogger
}

// NewListener creates a listener. Call Register to start receiving events.
func NewListener(d Deps) *Listener {
	if d.Guard == nil {
		d.Guard = inflight.NewMemorySet()
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	return &Listener{
		store:    d.Store,
		bus:      d.Bus,
		analyzer: d.Analyzer,
		guard:    d.Guard,
		journey:  d.Journey,
		notifier: d.Notifier,
		timeout:  d.Timeout,
		log:      d.Logger.Named("analysis"),
	}
}

// Register subscribes the listener to job:captured and ai:analysisComplete.
// Calling it more than once has no further effect.
func (l *Listener) Register() {
	l.once.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.unsubs = append(l.unsubs,
			events.On(l.bus, events.JobCaptured, "analysis.job-captured", l.HandleJobCaptured),
			events.On(l.bus, events.AnalysisComplete, "analysis.analysis-complete", l.HandleAnalysisComplete),
		)
		l.log.Infow("Auto-analysis listener registered")
	})
}

// Close removes the listener's subscriptions
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, unsub := range l.unsubs {
		unsub()
	}
	l.unsubs = nil
}

// HandleJobCaptured analyses a newly captured job at most once. Concurrent
// deliveries are collapsed by the in-flight guard and repeated deliveries by
// the persisted analysis row.
func (l *Listener) HandleJobCaptured(ctx context.Context, ev events.Event, p events.JobCapturedPayload) error {
	tenantID := ev.TenantID
	key := p.JobID.String()
	log := l.log.With("tenant_id", tenantID, "job_id", p.JobID, "correlation_id", events.CorrelationID(ctx))

	acquired, err := l.guard.Acquire(ctx, key)
	if err != nil {
		return errors.Wrap(err, "failed to acquire in-flight guard")
	}
	if !acquired {
		log.Debugw("Analysis already in flight")
		return nil
	}
	defer func() {
		if err := l.guard.Release(context.WithoutCancel(ctx), key); err != nil {
			log.Warnw("Failed to release in-flight guard", "error", err)
		}
	}()

	prefs, err := l.store.FindActivePreferencesForTenant(ctx, tenantID)
	if err != nil {
		return errors.Wrap(err, "failed to load alert preferences")
	}
	if len(prefs) == 0 {
		log.Debugw("No active alert preferences, skipping analysis")
		return nil
	}

	job, err := l.store.GetJobByID(ctx, tenantID, p.JobID)
	if err != nil {
		return errors.Wrap(err, "failed to load job")
	}
	if job == nil {
		log.Warnw("Captured job not found")
		return nil
	}
	if job.IsDuplicate() {
		log.Debugw("Skipping duplicate job", "duplicate_of", job.DuplicateOfID)
		return nil
	}

	existing, err := l.store.FindExistingAnalysis(ctx, tenantID, job.ID)
	if err != nil {
		return errors.Wrap(err, "failed to check existing analysis")
	}
	if existing != nil {
		log.Debugw("Job already analysed", "analysis_id", existing.ID)
		return nil
	}

	l.bus.Publish(ctx, events.Event{
		Kind:     events.AnalysisStarted,
		TenantID: tenantID,
		Payload:  events.AnalysisStartedPayload{JobID: job.ID},
	})

	analysis, err := l.analyse(ctx, *job, prefs)
	if err != nil {
		log.Errorw("Job analysis failed", "error", err)
		l.bus.Publish(ctx, events.Event{
			Kind:     events.AnalysisFailed,
			TenantID: tenantID,
			Payload:  events.AnalysisFailedPayload{JobID: job.ID, Error: err.Error()},
		})
		return errors.Wrapf(err, "analysis of job %s", job.ID)
	}

	if l.journey != nil {
		l.journey.OnJobAnalyzed(ctx, *job, *analysis)
	}

	log.Infow("Job analysed", "analysis_id", analysis.ID, "fit_score", analysis.FitScore)
	l.bus.Publish(ctx, events.Event{
		Kind:     events.AnalysisComplete,
		TenantID: tenantID,
		Payload: events.AnalysisCompletePayload{
			JobID:      job.ID,
			AnalysisID: analysis.ID,
			FitScore:   analysis.FitScore,
		},
	})
	return nil
}

// analyse runs the analyzer under the listener timeout and persists the result
func (l *Listener) analyse(ctx context.Context, job types.Job, prefs []types.AlertPreference) (*types.Analysis, error) {
	actx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	result, err := l.analyzer.Analyse(actx, buildInput(job, prefs))
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.New("analyzer returned no result")
	}

	analysis := &types.Analysis{
		TenantID:       job.TenantID,
		JobID:          job.ID,
		FitScore:       result.FitScore,
		Recommendation: result.Recommendation,
		Summary:        result.Summary,
		MatchedSkills:  result.MatchedSkills,
		MissingSkills:  result.MissingSkills,
		Category:       result.Category,
		Model:          result.Model,
	}
	if err := l.store.CreateAnalysis(ctx, analysis); err != nil {
		return nil, errors.Wrap(err, "failed to store analysis")
	}
	return analysis, nil
}

// HandleAnalysisComplete builds the match alert for a finished analysis and
// forwards it to the notification engine. A zero fit score notifies nobody.
func (l *Listener) HandleAnalysisComplete(ctx context.Context, ev events.Event, p events.AnalysisCompletePayload) error {
	log := l.log.With("tenant_id", ev.TenantID, "job_id", p.JobID, "analysis_id", p.AnalysisID)

	analysis, err := l.store.GetAnalysis(ctx, ev.TenantID, p.AnalysisID)
	if err != nil {
		return errors.Wrap(err, "failed to load analysis")
	}
	if analysis == nil {
		log.Warnw("Analysis not found")
		return nil
	}

	job, err := l.store.GetJobByID(ctx, ev.TenantID, analysis.JobID)
	if err != nil {
		return errors.Wrap(err, "failed to load job")
	}
	if job == nil {
		log.Warnw("Analysed job not found")
		return nil
	}

	alert := NewJobMatchAlert(*job, *analysis)
	if alert.FitScore <= 0 {
		log.Debugw("Zero fit score, no alerts")
		return nil
	}
	if l.notifier == nil {
		return nil
	}

	if _, err := l.notifier.ProcessJobMatchAlerts(ctx, ev.TenantID, alert); err != nil {
		return errors.Wrap(err, "failed to process job match alerts")
	}
	return nil
}

// NewJobMatchAlert builds the alert for an analysed job. The job's own
// category wins over the one the model inferred.
func NewJobMatchAlert(job types.Job, a types.Analysis) types.JobMatchAlert {
	return types.JobMatchAlert{
		TenantID:       job.TenantID,
		JobID:          job.ID,
		AnalysisID:     a.ID,
		JobTitle:       job.Title,
		JobURL:         job.URL,
		FitScore:       a.FitScore,
		MatchedSkills:  a.MatchedSkills,
		JobSkills:      job.Skills,
		Category:       firstNonEmpty(job.Category, a.Category),
		Recommendation: a.Recommendation,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
