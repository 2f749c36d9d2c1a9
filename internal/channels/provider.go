// Package channels implements the notification delivery providers.
//
// Every provider satisfies the same contract: Send never returns an error
// value, it reports failures inside Result, and HealthCheck is a best-effort
// signal for diagnostics that never gates a send.
package channels

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/bidpilot/internal/types"
)

// DefaultHTTPTimeout bounds provider HTTP calls when the caller sets no deadline
const DefaultHTTPTimeout = 20 * time.Second

// Payload is the channel-independent notification content
type Payload struct {
	TenantID uuid.UUID `json:"tenant_id"`
	UserID   uuid.UUID `json:"user_id"`
	JobID    uuid.UUID `json:"job_id"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	URL      string    `json:"url,omitempty"`
	FitScore int       `json:"fit_score"`
}

// Text renders the payload as a plain message for text channels
func (p Payload) Text() string {
	text := p.Title
	if p.Body != "" {
		text += "\n" + p.Body
	}
	if p.URL != "" {
		text += "\n" + p.URL
	}
	return text
}

// Config is the per-user, per-channel configuration resolved at send time.
// Secrets arrive already decrypted and must not be logged.
type Config struct {
	PushSubscription string
	Phone            string // E.164, e.g. +14155550100
	ChatInstanceID   string
	ChatToken        string
	ChatPhone        string // E.164
}

// Result is the outcome of one send
type Result struct {
	Success   bool
	Channel   types.Channel
	MessageID string
	Error     string
}

// Failed builds an unsuccessful result
func Failed(ch types.Channel, format string, args ...any) Result {
	return Result{Channel: ch, Error: fmt.Sprintf(format, args...)}
}

// Provider delivers notifications over one channel
type Provider interface {
	Channel() types.Channel
	Send(ctx context.Context, payload Payload, cfg Config) Result
	HealthCheck(ctx context.Context) bool
}

// Registry maps channels to their provider. It is built once at startup.
type Registry struct {
	providers map[types.Channel]Provider
}

// NewRegistry registers providers; a later provider replaces an earlier one
// for the same channel.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[types.Channel]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Channel()] = p
		}
	}
	return r
}

// Get returns the provider for ch
func (r *Registry) Get(ch types.Channel) (Provider, bool) {
	p, ok := r.providers[ch]
	return p, ok
}

// Channels returns the registered channels in a stable order
func (r *Registry) Channels() []types.Channel {
	out := make([]types.Channel, 0, len(r.providers))
	for ch := range r.providers {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Health runs every provider's health check
func (r *Registry) Health(ctx context.Context) map[types.Channel]bool {
	out := make(map[types.Channel]bool, len(r.providers))
	for ch, p := range r.providers {
		out[ch] = p.HealthCheck(ctx)
	}
	return out
}

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: DefaultHTTPTimeout}
}
