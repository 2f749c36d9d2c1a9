// Package memstore is an in-memory implementation of every store interface
// used by bidpilot. It backs `serve --memory` and the package tests. Records
// are copied on the way in and out so callers never share state with the store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/jonathan/bidpilot/internal/db"
	"github.com/jonathan/bidpilot/internal/types"
)

// Store holds all records in maps guarded by a single mutex
type Store struct {
	mu sync.RWMutex

	jobs        map[uuid.UUID]types.Job
	jobOrder    []uuid.UUID
	proposals   []types.Proposal
	projects    []types.Project
	activities  []types.ActivityRecord
	preferences map[prefKey]types.AlertPreference
	analyses    []types.Analysis
	logs        []types.NotificationLogEntry

	// FailActivityWrites makes CreateActivity fail, for exercising the
	// log-and-continue paths.
	FailActivityWrites bool
}

type prefKey struct {
	tenant uuid.UUID
	user   uuid.UUID
}

// New returns an empty store
func New() *Store {
	return &Store{
		jobs:        make(map[uuid.UUID]types.Job),
		preferences: make(map[prefKey]types.AlertPreference),
	}
}

// -----------------------------------------------------------------------------
// Jobs
// -----------------------------------------------------------------------------

// CreateJob stores a job, filling ID, Status and timestamps when zero
func (s *Store) CreateJob(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	if _, exists := s.jobs[job.ID]; !exists {
		s.jobOrder = append(s.jobOrder, job.ID)
	}
	s.jobs[job.ID] = copyJob(*job)
	return nil
}

// GetJobByID returns nil, nil when the job is missing or belongs to another tenant
func (s *Store) GetJobByID(_ context.Context, tenantID, jobID uuid.UUID) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return nil, nil
	}
	out := copyJob(job)
	return &out, nil
}

// UpdateJobStatus sets a job's coarse status
func (s *Store) UpdateJobStatus(_ context.Context, tenantID, jobID uuid.UUID, status types.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return errors.Wrapf(db.ErrNotFound, "job %s", jobID)
	}
	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = job
	return nil
}

// ListJobs returns a tenant's jobs, newest capture first
func (s *Store) ListJobs(_ context.Context, tenantID uuid.UUID) ([]types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]types.Job, 0)
	for i := len(s.jobOrder) - 1; i >= 0; i-- {
		job := s.jobs[s.jobOrder[i]]
		if job.TenantID == tenantID {
			jobs = append(jobs, copyJob(job))
		}
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CapturedAt.After(jobs[j].CapturedAt) })
	return jobs, nil
}

// ListUnanalyzedJobs mirrors the Postgres query: non-duplicate, non-terminal
// jobs captured at or after since with no analysis, oldest first.
func (s *Store) ListUnanalyzedJobs(_ context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	analyzed := make(map[uuid.UUID]bool, len(s.analyses))
	for _, a := range s.analyses {
		analyzed[a.JobID] = true
	}

	jobs := make([]types.Job, 0)
	for _, id := range s.jobOrder {
		job := s.jobs[id]
		if job.TenantID != tenantID || job.IsDuplicate() || analyzed[id] || job.CapturedAt.Before(since) {
			continue
		}
		switch job.Status {
		case types.JobRejected, types.JobExpired, types.JobSkipped:
			continue
		}
		jobs = append(jobs, copyJob(job))
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CapturedAt.Before(jobs[j].CapturedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// -----------------------------------------------------------------------------
// Proposals and projects
// -----------------------------------------------------------------------------

// CreateProposal stores a proposal
func (s *Store) CreateProposal(_ context.Context, p *types.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.proposals = append(s.proposals, *p)
	return nil
}

// FindLatestProposalForJob returns the most recently stored proposal for a job
func (s *Store) FindLatestProposalForJob(_ context.Context, tenantID, jobID uuid.UUID) (*types.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.proposals) - 1; i >= 0; i-- {
		p := s.proposals[i]
		if p.TenantID == tenantID && p.JobID == jobID {
			return &p, nil
		}
	}
	return nil, nil
}

// CreateProject stores a project
func (s *Store) CreateProject(_ context.Context, p *types.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.projects = append(s.projects, *p)
	return nil
}

// FindLatestProjectForJob returns the most recently stored project for a job
func (s *Store) FindLatestProjectForJob(_ context.Context, tenantID, jobID uuid.UUID) (*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.projects) - 1; i >= 0; i-- {
		p := s.projects[i]
		if p.TenantID == tenantID && p.JobID == jobID {
			return &p, nil
		}
	}
	return nil, nil
}

// -----------------------------------------------------------------------------
// Activities
// -----------------------------------------------------------------------------

// CreateActivity appends an activity record
func (s *Store) CreateActivity(_ context.Context, a *types.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailActivityWrites {
		return errors.New("activity store unavailable")
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.activities = append(s.activities, copyActivity(*a))
	return nil
}

// FindLatestActivityForJob returns the last appended activity of a job
func (s *Store) FindLatestActivityForJob(_ context.Context, tenantID, jobID uuid.UUID) (*types.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.activities) - 1; i >= 0; i-- {
		a := s.activities[i]
		if a.TenantID == tenantID && a.JobID == jobID {
			out := copyActivity(a)
			return &out, nil
		}
	}
	return nil, nil
}

// Activities returns every activity of a job in append order
func (s *Store) Activities(jobID uuid.UUID) []types.ActivityRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.ActivityRecord, 0)
	for _, a := range s.activities {
		if a.JobID == jobID {
			out = append(out, copyActivity(a))
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Preferences
// -----------------------------------------------------------------------------

// UpsertPreference inserts or replaces the preference of (tenant, user)
func (s *Store) UpsertPreference(_ context.Context, p *types.AlertPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := prefKey{tenant: p.TenantID, user: p.UserID}
	now := time.Now().UTC()
	if existing, ok := s.preferences[key]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.preferences[key] = copyPreference(*p)
	return nil
}

// GetPreference returns nil, nil when the user has no preference
func (s *Store) GetPreference(_ context.Context, tenantID, userID uuid.UUID) (*types.AlertPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.preferences[prefKey{tenant: tenantID, user: userID}]
	if !ok {
		return nil, nil
	}
	out := copyPreference(p)
	return &out, nil
}

// FindActivePreferencesForTenant returns enabled preferences ordered by creation
func (s *Store) FindActivePreferencesForTenant(_ context.Context, tenantID uuid.UUID) ([]types.AlertPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefs := make([]types.AlertPreference, 0)
	for key, p := range s.preferences {
		if key.tenant == tenantID && p.Enabled {
			prefs = append(prefs, copyPreference(p))
		}
	}
	sort.Slice(prefs, func(i, j int) bool { return prefs[i].CreatedAt.Before(prefs[j].CreatedAt) })
	return prefs, nil
}

// ListAutoScanTenants returns tenants with an enabled auto-scan preference
func (s *Store) ListAutoScanTenants(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[uuid.UUID]bool)
	tenants := make([]uuid.UUID, 0)
	for key, p := range s.preferences {
		if p.Enabled && p.AutoScan && !seen[key.tenant] {
			seen[key.tenant] = true
			tenants = append(tenants, key.tenant)
		}
	}
	return tenants, nil
}

// -----------------------------------------------------------------------------
// Analyses
// -----------------------------------------------------------------------------

// CreateAnalysis stores an analysis result
func (s *Store) CreateAnalysis(_ context.Context, a *types.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.analyses = append(s.analyses, *a)
	return nil
}

// FindExistingAnalysis returns the newest analysis of a job
func (s *Store) FindExistingAnalysis(_ context.Context, tenantID, jobID uuid.UUID) (*types.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.analyses) - 1; i >= 0; i-- {
		a := s.analyses[i]
		if a.TenantID == tenantID && a.JobID == jobID {
			return &a, nil
		}
	}
	return nil, nil
}

// GetAnalysis returns an analysis by ID
func (s *Store) GetAnalysis(_ context.Context, tenantID, analysisID uuid.UUID) (*types.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.analyses {
		if a.ID == analysisID && a.TenantID == tenantID {
			out := a
			return &out, nil
		}
	}
	return nil, nil
}

// AnalysisCount returns how many analyses exist for a job
func (s *Store) AnalysisCount(jobID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.analyses {
		if a.JobID == jobID {
			n++
		}
	}
	return n
}

// -----------------------------------------------------------------------------
// Notification log
// -----------------------------------------------------------------------------

// CreateNotificationLog appends a log entry. Like the Postgres unique index,
// a second sent entry for (user, job, channel) is rejected with db.ErrDuplicateSend.
func (s *Store) CreateNotificationLog(_ context.Context, e *types.NotificationLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Status == types.NotificationSent {
		for _, existing := range s.logs {
			if existing.Status == types.NotificationSent && existing.UserID == e.UserID &&
				existing.JobID == e.JobID && existing.Channel == e.Channel {
				return errors.Wrapf(db.ErrDuplicateSend, "user %s job %s channel %s", e.UserID, e.JobID, e.Channel)
			}
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.logs = append(s.logs, *e)
	return nil
}

// CountSentNotifications counts sent entries for (user, job) on any channel
func (s *Store) CountSentNotifications(_ context.Context, tenantID, userID, jobID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.logs {
		if e.TenantID == tenantID && e.UserID == userID && e.JobID == jobID && e.Status == types.NotificationSent {
			n++
		}
	}
	return n, nil
}

// ListNotificationLogs returns a user's entries, newest first
func (s *Store) ListNotificationLogs(_ context.Context, tenantID, userID uuid.UUID, limit int) ([]types.NotificationLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = db.DefaultNotificationPageSize
	}
	out := make([]types.NotificationLogEntry, 0)
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.logs[i]
		if e.TenantID == tenantID && e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

// NotificationLogs returns every entry for a job in append order
func (s *Store) NotificationLogs(jobID uuid.UUID) []types.NotificationLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.NotificationLogEntry, 0)
	for _, e := range s.logs {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// copies
// -----------------------------------------------------------------------------

func copyJob(j types.Job) types.Job {
	j.Skills = append([]string(nil), j.Skills...)
	return j
}

func copyActivity(a types.ActivityRecord) types.ActivityRecord {
	if a.Metadata != nil {
		m := make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			m[k] = v
		}
		a.Metadata = m
	}
	return a
}

func copyPreference(p types.AlertPreference) types.AlertPreference {
	p.Categories = append([]string(nil), p.Categories...)
	p.TargetSkills = append([]string(nil), p.TargetSkills...)
	p.Channels = append([]types.Channel(nil), p.Channels...)
	return p
}
