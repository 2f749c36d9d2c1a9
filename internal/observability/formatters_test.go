package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/bidpilot/internal/channels"
	"github.com/jonathan/bidpilot/internal/journey"
	"github.com/jonathan/bidpilot/internal/notify"
	"github.com/jonathan/bidpilot/internal/types"
)

func TestPrintPipelineStats(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintPipelineStats(&journey.PipelineStats{
		Total: 4,
		PhaseCounts: map[types.JourneyPhase]int{
			types.PhaseAnalyzed:     2,
			types.PhaseProposalSent: 1,
			types.PhaseLost:         1,
		},
		ProposalsSent: 1,
		ProposalRate:  0.25,
	})
	output := buf.String()

	assert.Contains(t, output, "PIPELINE STATS")
	assert.Contains(t, output, "Jobs in pipeline: 4")
	assert.Contains(t, output, " 25.0%")
	assert.Contains(t, output, "LOST")
	assert.NotContains(t, output, "WON ")
	assert.Less(t, strings.Index(output, "ANALYZED"), strings.Index(output, "PROPOSAL_SENT"))
	assert.Less(t, strings.Index(output, "PROPOSAL_SENT"), strings.Index(output, "LOST"))
}

func TestPrintPipelineStats_Nil(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintPipelineStats(nil)
	assert.Empty(t, buf.String())
}

func TestPrintPipeline_NewestFirst(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	now := time.Now()
	recent := now.Add(-time.Minute)
	p.PrintPipeline([]journey.PipelineEntry{
		{Job: types.Job{Title: "Old scraper", CapturedAt: now.Add(-48 * time.Hour)}, Phase: types.PhaseDiscovered, PhaseSource: journey.PhaseFromStatus},
		{
			Job:            types.Job{Title: "Go API", CapturedAt: now.Add(-72 * time.Hour)},
			Phase:          types.PhaseProposalSent,
			PhaseSource:    journey.PhaseFromActivity,
			LastActivityAt: &recent,
			Proposal:       &journey.ProposalSummary{Status: types.ProposalSent},
		},
	})
	output := buf.String()

	assert.Less(t, strings.Index(output, "Go API"), strings.Index(output, "Old scraper"))
	assert.Contains(t, output, "proposal SENT")
	assert.Contains(t, output, "DISCOVERED (from status)")
}

func TestPrintPipeline_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintPipeline(nil)
	assert.Contains(t, buf.String(), "No jobs yet")
}

func TestPrintChannelHealth(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintChannelHealth(map[types.Channel]bool{
		types.ChannelSMS:   false,
		types.ChannelInApp: true,
	})
	output := buf.String()

	assert.Contains(t, output, "✓ ready")
	assert.Contains(t, output, "✗ not ready")
	assert.Less(t, strings.Index(output, "IN_APP"), strings.Index(output, "SMS"))
}

func TestPrintAlertSummary(t *testing.T) {
	var buf bytes.Buffer
	user := uuid.New()
	NewPrinter(&buf).PrintAlertSummary(&notify.Summary{
		CorrelationID: "corr-1",
		Evaluated:     2,
		Notified:      1,
		Skipped:       1,
		SendsOK:       1,
		SendsFailed:   1,
		Users: []notify.UserResult{{
			UserID:  user,
			Outcome: notify.OutcomeDelivered,
			Results: []channels.Result{
				{Success: true, Channel: types.ChannelInApp},
				{Channel: types.ChannelSMS, Error: "HTTP 401"},
			},
		}},
	})
	output := buf.String()

	assert.Contains(t, output, "corr-1")
	assert.Contains(t, output, "✓ IN_APP")
	assert.Contains(t, output, "✗ SMS: HTTP 401")
}

func TestPrintBox_ClipsLongLines(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).printBox("T", strings.Repeat("é", 100))

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.Equal(t, boxWidth, len([]rune(line)), line)
	}
}
