package channels

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/jonathan/bidpilot/internal/types"
)

// Limited throttles a provider's sends with a token bucket so a large
// tenant roster cannot exceed the external API's rate limit.
type Limited struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewLimited wraps p with a limiter of perSecond sends and the given burst.
// A non-positive perSecond disables limiting.
func NewLimited(p Provider, perSecond float64, burst int) *Limited {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{inner: p, limiter: rate.NewLimiter(limit, burst)}
}

// Channel implements Provider
func (l *Limited) Channel() types.Channel {
	return l.inner.Channel()
}

// Send waits for a token, then delegates. A wait cut short by the context
// deadline is a failed send.
func (l *Limited) Send(ctx context.Context, payload Payload, cfg Config) Result {
	if err := l.limiter.Wait(ctx); err != nil {
		return Failed(l.inner.Channel(), "rate limited: %v", err)
	}
	return l.inner.Send(ctx, payload, cfg)
}

// HealthCheck implements Provider
func (l *Limited) HealthCheck(ctx context.Context) bool {
	return l.inner.HealthCheck(ctx)
}
