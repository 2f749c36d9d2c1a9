package ratelimit

import (
	"strings"
)

// MatchEndpoint matches a request path and method to an endpoint configuration.
// Returns the matching EndpointConfig or nil if no match is found.
// A "*" segment in a pattern matches any single path segment, so
// "/tenants/*/jobs/*/capture" matches "/tenants/{id}/jobs/{id}/capture".
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		path = "/"
	}
	segments := strings.Split(path, "/")

	for i := range configs {
		config := &configs[i]
		if config.Method == method && matchSegments(strings.Split(config.Pattern, "/"), segments) {
			return config
		}
	}
	return nil
}

func matchSegments(pattern, segments []string) bool {
	if len(pattern) != len(segments) {
		return false
	}
	for i, p := range pattern {
		if p == "*" {
			if segments[i] == "" {
				return false
			}
			continue
		}
		if p != segments[i] {
			return false
		}
	}
	return true
}
