// Package analysis runs AI fit analysis for newly captured jobs and hands
// the results to the notification engine.
package analysis

import (
	"context"
	"strings"

	"github.com/jonathan/bidpilot/internal/types"
)

// Input is what an Analyzer scores: the job plus the tenant's combined
// target profile taken from its active preferences.
type Input struct {
	Job          types.Job
	TargetSkills []string
	Categories   []string
}

// Result is an analyzer's verdict for one job
type Result struct {
	FitScore       int // 0-100
	Recommendation string
	Summary        string
	MatchedSkills  []string
	MissingSkills  []string
	Category       string
	Model          string
}

// Analyzer scores a job against a target profile
type Analyzer interface {
	Analyse(ctx context.Context, in Input) (*Result, error)
}

// AnalyzerFunc adapts a function to Analyzer
type AnalyzerFunc func(ctx context.Context, in Input) (*Result, error)

// Analyse implements Analyzer
func (f AnalyzerFunc) Analyse(ctx context.Context, in Input) (*Result, error) {
	return f(ctx, in)
}

// buildInput merges the target profile of every active preference
func buildInput(job types.Job, prefs []types.AlertPreference) Input {
	var skills, categories []string
	for _, p := range prefs {
		skills = append(skills, p.TargetSkills...)
		categories = append(categories, p.Categories...)
	}
	return Input{
		Job:          job,
		TargetSkills: NormalizeSkills(skills),
		Categories:   dedupeFold(categories),
	}
}

// dedupeFold trims and removes case-insensitive duplicates, keeping the
// first spelling
func dedupeFold(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
