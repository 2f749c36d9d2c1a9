//nolint:revive // types is a standard Go package name pattern
package types

import "fmt"

// JobStatus is the coarse, user-facing status of a job.
type JobStatus string

const (
	JobNew          JobStatus = "NEW"
	JobAnalyzed     JobStatus = "ANALYZED"
	JobShortlisted  JobStatus = "SHORTLISTED"
	JobBidding      JobStatus = "BIDDING"
	JobBidSent      JobStatus = "BID_SENT"
	JobInterviewing JobStatus = "INTERVIEWING"
	JobAccepted     JobStatus = "ACCEPTED"
	JobRejected     JobStatus = "REJECTED"
	JobExpired      JobStatus = "EXPIRED"
	JobSkipped      JobStatus = "SKIPPED"
)

// jobChain is the linear order auto-advance is allowed to move along.
var jobChain = []JobStatus{
	JobNew,
	JobAnalyzed,
	JobShortlisted,
	JobBidding,
	JobBidSent,
	JobInterviewing,
	JobAccepted,
}

// ChainIndex returns the position of s in the auto-advance chain, or -1 when
// s is not part of it (terminal statuses).
func (s JobStatus) ChainIndex() int {
	for i, c := range jobChain {
		if c == s {
			return i
		}
	}
	return -1
}

// Phase maps a job status to its journey phase.
func (s JobStatus) Phase() (JourneyPhase, bool) {
	switch s {
	case JobNew:
		return PhaseDiscovered, true
	case JobAnalyzed:
		return PhaseAnalyzed, true
	case JobShortlisted:
		return PhaseShortlisted, true
	case JobBidding:
		return PhaseProposalDrafted, true
	case JobBidSent:
		return PhaseProposalSent, true
	case JobInterviewing:
		return PhaseInterviewing, true
	case JobAccepted:
		return PhaseWon, true
	case JobRejected:
		return PhaseLost, true
	case JobExpired:
		return PhaseExpired, true
	case JobSkipped:
		return PhaseSkipped, true
	}
	return "", false
}

// ParseJobStatus converts a raw string to a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	if _, ok := st.Phase(); ok {
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// ProposalStatus is the status of a bid submitted for a job.
type ProposalStatus string

const (
	ProposalDraft       ProposalStatus = "DRAFT"
	ProposalReview      ProposalStatus = "REVIEW"
	ProposalReady       ProposalStatus = "READY"
	ProposalSent        ProposalStatus = "SENT"
	ProposalViewed      ProposalStatus = "VIEWED"
	ProposalShortlisted ProposalStatus = "SHORTLISTED"
	ProposalAccepted    ProposalStatus = "ACCEPTED"
	ProposalRejected    ProposalStatus = "REJECTED"
	ProposalWithdrawn   ProposalStatus = "WITHDRAWN"
)

// Phase maps a proposal status to its journey phase. VIEWED carries no phase.
func (s ProposalStatus) Phase() (JourneyPhase, bool) {
	switch s {
	case ProposalDraft, ProposalReview, ProposalReady:
		return PhaseProposalDrafted, true
	case ProposalSent:
		return PhaseProposalSent, true
	case ProposalViewed:
		return "", false
	case ProposalShortlisted:
		return PhaseInterviewing, true
	case ProposalAccepted:
		return PhaseWon, true
	case ProposalRejected, ProposalWithdrawn:
		return PhaseLost, true
	}
	return "", false
}

// JobTarget returns the job status a proposal status pulls its job towards.
func (s ProposalStatus) JobTarget() (JobStatus, bool) {
	switch s {
	case ProposalDraft:
		return JobBidding, true
	case ProposalSent:
		return JobBidSent, true
	case ProposalShortlisted:
		return JobInterviewing, true
	case ProposalAccepted:
		return JobAccepted, true
	case ProposalRejected:
		return JobRejected, true
	case ProposalReview, ProposalReady, ProposalViewed, ProposalWithdrawn:
		return "", false
	}
	return "", false
}

// ParseProposalStatus converts a raw string to a ProposalStatus.
func ParseProposalStatus(s string) (ProposalStatus, error) {
	st := ProposalStatus(s)
	switch st {
	case ProposalDraft, ProposalReview, ProposalReady, ProposalSent, ProposalViewed,
		ProposalShortlisted, ProposalAccepted, ProposalRejected, ProposalWithdrawn:
		return st, nil
	}
	return "", fmt.Errorf("unknown proposal status %q", s)
}

// ProjectStatus is the status of work derived from an accepted job.
type ProjectStatus string

const (
	ProjectPending   ProjectStatus = "PENDING"
	ProjectActive    ProjectStatus = "ACTIVE"
	ProjectCompleted ProjectStatus = "COMPLETED"
	ProjectCancelled ProjectStatus = "CANCELLED"
)

// Phase maps a project status to its journey phase. PENDING carries no phase.
func (s ProjectStatus) Phase() (JourneyPhase, bool) {
	switch s {
	case ProjectPending:
		return "", false
	case ProjectActive:
		return PhaseProjectStarted, true
	case ProjectCompleted:
		return PhaseProjectDelivered, true
	case ProjectCancelled:
		return PhaseLost, true
	}
	return "", false
}

// ParseProjectStatus converts a raw string to a ProjectStatus.
func ParseProjectStatus(s string) (ProjectStatus, error) {
	st := ProjectStatus(s)
	switch st {
	case ProjectPending, ProjectActive, ProjectCompleted, ProjectCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown project status %q", s)
}
