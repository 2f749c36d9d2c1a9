// Package types provides type definitions for the entities and enumerations shared across bidpilot.
//
//nolint:revive // types is a standard Go package name pattern
package types

import "fmt"

// JourneyPhase is the single lifecycle vocabulary used for reporting.
// Forward phases are totally ordered; LOST, SKIPPED and EXPIRED sit off the path.
type JourneyPhase string

const (
	PhaseDiscovered         JourneyPhase = "DISCOVERED"
	PhaseAnalyzed           JourneyPhase = "ANALYZED"
	PhaseShortlisted        JourneyPhase = "SHORTLISTED"
	PhaseProposalDrafted    JourneyPhase = "PROPOSAL_DRAFTED"
	PhaseProposalSent       JourneyPhase = "PROPOSAL_SENT"
	PhaseInterviewing       JourneyPhase = "INTERVIEWING"
	PhaseOfferReceived      JourneyPhase = "OFFER_RECEIVED"
	PhaseWon                JourneyPhase = "WON"
	PhaseProjectStarted     JourneyPhase = "PROJECT_STARTED"
	PhaseMilestoneCompleted JourneyPhase = "MILESTONE_COMPLETED"
	PhaseProjectDelivered   JourneyPhase = "PROJECT_DELIVERED"
	PhasePaymentReceived    JourneyPhase = "PAYMENT_RECEIVED"
	PhaseFeedbackReceived   JourneyPhase = "FEEDBACK_RECEIVED"

	PhaseLost    JourneyPhase = "LOST"
	PhaseSkipped JourneyPhase = "SKIPPED"
	PhaseExpired JourneyPhase = "EXPIRED"
)

// ForwardPhases lists the on-path phases in rank order.
var ForwardPhases = []JourneyPhase{
	PhaseDiscovered,
	PhaseAnalyzed,
	PhaseShortlisted,
	PhaseProposalDrafted,
	PhaseProposalSent,
	PhaseInterviewing,
	PhaseOfferReceived,
	PhaseWon,
	PhaseProjectStarted,
	PhaseMilestoneCompleted,
	PhaseProjectDelivered,
	PhasePaymentReceived,
	PhaseFeedbackReceived,
}

// TerminalPhases lists the off-path phases.
var TerminalPhases = []JourneyPhase{PhaseLost, PhaseSkipped, PhaseExpired}

// Rank returns the phase position in the forward order, or -1 for
// terminal and unknown phases.
func (p JourneyPhase) Rank() int {
	switch p {
	case PhaseDiscovered:
		return 0
	case PhaseAnalyzed:
		return 1
	case PhaseShortlisted:
		return 2
	case PhaseProposalDrafted:
		return 3
	case PhaseProposalSent:
		return 4
	case PhaseInterviewing:
		return 5
	case PhaseOfferReceived:
		return 6
	case PhaseWon:
		return 7
	case PhaseProjectStarted:
		return 8
	case PhaseMilestoneCompleted:
		return 9
	case PhaseProjectDelivered:
		return 10
	case PhasePaymentReceived:
		return 11
	case PhaseFeedbackReceived:
		return 12
	case PhaseLost, PhaseSkipped, PhaseExpired:
		return -1
	}
	return -1
}

// IsTerminal reports whether p is one of the off-path phases.
func (p JourneyPhase) IsTerminal() bool {
	switch p {
	case PhaseLost, PhaseSkipped, PhaseExpired:
		return true
	}
	return false
}

// AtLeast reports whether p is on the forward path at or beyond other.
func (p JourneyPhase) AtLeast(other JourneyPhase) bool {
	r := p.Rank()
	return r >= 0 && r >= other.Rank()
}

// ParsePhase converts a raw string to a JourneyPhase.
func ParsePhase(s string) (JourneyPhase, error) {
	p := JourneyPhase(s)
	if p.Rank() >= 0 || p.IsTerminal() {
		return p, nil
	}
	return "", fmt.Errorf("unknown journey phase %q", s)
}
