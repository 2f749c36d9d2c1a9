package channels

import (
	"context"

	"github.com/google/uuid"

	"github.com/jonathan/bidpilot/internal/events"
	"github.com/jonathan/bidpilot/internal/types"
)

// InApp relays notifications onto the event bus as alert:jobMatch for the
// UI layer to pick up.
type InApp struct {
	bus *events.Bus
}

// NewInApp creates the in-app provider
func NewInApp(bus *events.Bus) *InApp {
	return &InApp{bus: bus}
}

// Channel implements Provider
func (p *InApp) Channel() types.Channel {
	return types.ChannelInApp
}

// Send implements Provider
func (p *InApp) Send(ctx context.Context, payload Payload, _ Config) Result {
	if p.bus == nil {
		return Failed(types.ChannelInApp, "event bus not configured")
	}

	messageID := uuid.NewString()
	p.bus.Publish(ctx, events.Event{
		Kind:     events.AlertJobMatch,
		TenantID: payload.TenantID,
		Payload: events.JobMatchPayload{
			UserID:    payload.UserID,
			JobID:     payload.JobID,
			MessageID: messageID,
			Title:     payload.Title,
			Body:      payload.Body,
			URL:       payload.URL,
			FitScore:  payload.FitScore,
		},
	})
	return Result{Success: true, Channel: types.ChannelInApp, MessageID: messageID}
}

// HealthCheck implements Provider
func (p *InApp) HealthCheck(context.Context) bool {
	return p.bus != nil
}
