package ratelimit

import (
	"strings"
	"time"
)

// EndpointConfig represents rate limiting configuration for a group of
// endpoints sharing a path pattern.
type EndpointConfig struct {
	Pattern string        // path pattern, "*" matches exactly one segment
	Method  string        // HTTP method (GET, POST, etc.)
	Limit   int           // maximum requests per window, 0 means unlimited
	Window  time.Duration // time window
	Burst   int           // burst capacity (defaults to Limit if 0)
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	IdleTTL         time.Duration // buckets unused for this long are dropped
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// NewConfig builds a Config from service settings using the default
// endpoint tiers.
func NewConfig(enabled bool, perMinute int, whitelist, blacklist []string) *Config {
	return &Config{
		Enabled:         enabled,
		DefaultLimit:    perMinute,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         time.Hour,
		Whitelist:       ipSet(whitelist),
		Blacklist:       ipSet(blacklist),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the default endpoint-specific configurations.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Health and key discovery are never limited
		{Pattern: "/health", Method: "GET"},
		{Pattern: "/health/channels", Method: "GET"},
		{Pattern: "/push/vapid-public-key", Method: "GET"},

		// Capture starts an LLM analysis, the expensive path
		{Pattern: "/tenants/*/jobs/*/capture", Method: "POST", Limit: 30, Window: time.Minute, Burst: 5},

		// Writes
		{Pattern: "/tenants/*/users/*/preferences", Method: "PUT", Limit: 60, Window: time.Minute, Burst: 10},

		// Decrypted secrets
		{Pattern: "/tenants/*/users/*/preferences/secrets", Method: "GET", Limit: 20, Window: time.Minute, Burst: 5},

		// Opening a stream is cheap to serve but long-lived
		{Pattern: "/tenants/*/users/*/alerts/stream", Method: "GET", Limit: 10, Window: time.Minute, Burst: 3},

		// Everything else falls back to the default limit
	}
}

func ipSet(ips []string) map[string]bool {
	result := make(map[string]bool, len(ips))
	for _, ip := range ips {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			result[ip] = true
		}
	}
	return result
}
