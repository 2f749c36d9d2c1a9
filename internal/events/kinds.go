package events

import (
	"github.com/google/uuid"

	"github.com/jonathan/bidpilot/internal/types"
)

// Kind names an event type
type Kind string

const (
	JobCaptured           Kind = "job:captured"
	AnalysisStarted       Kind = "ai:analysisStarted"
	AnalysisComplete      Kind = "ai:analysisComplete"
	AnalysisFailed        Kind = "ai:analysisFailed"
	AlertJobMatch         Kind = "alert:jobMatch"
	JobStatusChanged      Kind = "job:statusChanged"
	ProposalStatusChanged Kind = "proposal:statusChanged"
	ProjectStatusChanged  Kind = "project:statusChanged"
	MilestoneCompleted    Kind = "project:milestoneCompleted"
	PaymentReceived       Kind = "project:paymentReceived"
	FeedbackReceived      Kind = "project:feedbackReceived"
)

// JobCapturedPayload accompanies JobCaptured
type JobCapturedPayload struct {
	JobID uuid.UUID
}

// AnalysisStartedPayload accompanies AnalysisStarted
type AnalysisStartedPayload struct {
	JobID uuid.UUID
}

// AnalysisCompletePayload accompanies AnalysisComplete
type AnalysisCompletePayload struct {
	JobID      uuid.UUID
	AnalysisID uuid.UUID
	FitScore   int
}

// AnalysisFailedPayload accompanies AnalysisFailed
type AnalysisFailedPayload struct {
	JobID uuid.UUID
	Error string
}

// JobMatchPayload accompanies AlertJobMatch; it is the in-app relay of a
// notification to one user.
type JobMatchPayload struct {
	UserID    uuid.UUID
	JobID     uuid.UUID
	MessageID string
	Title     string
	Body      string
	URL       string
	FitScore  int
}

// JobStatusChangedPayload accompanies JobStatusChanged
type JobStatusChangedPayload struct {
	Job       types.Job
	OldStatus types.JobStatus
	NewStatus types.JobStatus
}

// ProposalStatusChangedPayload accompanies ProposalStatusChanged
type ProposalStatusChangedPayload struct {
	Proposal  types.Proposal
	Job       types.Job
	OldStatus types.ProposalStatus
	NewStatus types.ProposalStatus
}

// ProjectStatusChangedPayload accompanies ProjectStatusChanged
type ProjectStatusChangedPayload struct {
	Project   types.Project
	OldStatus types.ProjectStatus
	NewStatus types.ProjectStatus
}

// MilestonePayload accompanies MilestoneCompleted, PaymentReceived and
// FeedbackReceived.
type MilestonePayload struct {
	Project types.Project
	Title   string
	Amount  *float64
	Rating  *int
}
