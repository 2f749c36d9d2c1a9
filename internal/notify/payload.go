package notify

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/jonathan/bidpilot/internal/channels"
	"github.com/jonathan/bidpilot/internal/types"
)

const (
	maxTitleRunes   = 120
	maxBodyRunes    = 400
	maxListedSkills = 5
)

// BuildPayload renders the one payload shared by every channel of a user
func BuildPayload(tenantID, userID uuid.UUID, alert types.JobMatchAlert) channels.Payload {
	title := truncate(fmt.Sprintf("%d%% match: %s", alert.FitScore, alert.JobTitle), maxTitleRunes)

	var parts []string
	if rec := strings.TrimSpace(alert.Recommendation); rec != "" {
		parts = append(parts, rec)
	}
	if len(alert.MatchedSkills) > 0 {
		skills := alert.MatchedSkills
		suffix := ""
		if len(skills) > maxListedSkills {
			suffix = fmt.Sprintf(" (+%d more)", len(skills)-maxListedSkills)
			skills = skills[:maxListedSkills]
		}
		parts = append(parts, "Matched skills: "+strings.Join(skills, ", ")+suffix)
	}
	if alert.Category != "" {
		parts = append(parts, "Category: "+alert.Category)
	}

	return channels.Payload{
		TenantID: tenantID,
		UserID:   userID,
		JobID:    alert.JobID,
		Title:    title,
		Body:     truncate(strings.Join(parts, "\n"), maxBodyRunes),
		URL:      alert.JobURL,
		FitScore: alert.FitScore,
	}
}

// MatchesCategory reports whether the alert passes the preference's
// category allow-list. An empty list or an uncategorised alert passes.
func MatchesCategory(allowed []string, category string) bool {
	category = strings.TrimSpace(category)
	if len(allowed) == 0 || category == "" {
		return true
	}
	for _, c := range allowed {
		if strings.EqualFold(strings.TrimSpace(c), category) {
			return true
		}
	}
	return false
}

// SkillOverlap returns the target skills present in jobSkills (case
// insensitive) and the fraction of target skills matched. It is
// informational and never filters a notification.
func SkillOverlap(target, jobSkills []string) ([]string, float64) {
	if len(target) == 0 {
		return nil, 0
	}
	have := make(map[string]bool, len(jobSkills))
	for _, s := range jobSkills {
		have[strings.ToLower(strings.TrimSpace(s))] = true
	}

	var matched []string
	for _, s := range target {
		if have[strings.ToLower(strings.TrimSpace(s))] {
			matched = append(matched, s)
		}
	}
	return matched, float64(len(matched)) / float64(len(target))
}

// ErrInvalidPhone is returned for numbers that cannot be made E.164
var ErrInvalidPhone = errors.New("invalid phone number")

// FormatPhone combines a country code and a local number into E.164.
// A number already starting with "+" is taken as international and the
// country code is ignored. A single leading trunk "0" is dropped.
func FormatPhone(countryCode, number string) (string, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return "", errors.Wrap(ErrInvalidPhone, "empty number")
	}

	international := strings.HasPrefix(number, "+") || strings.HasPrefix(number, "00")
	digits := onlyDigits(number)
	if strings.HasPrefix(number, "00") {
		digits = strings.TrimPrefix(digits, "00")
	}

	var full string
	if international {
		full = digits
	} else {
		cc := onlyDigits(countryCode)
		if cc == "" {
			return "", errors.Wrap(ErrInvalidPhone, "country code required for a local number")
		}
		full = cc + strings.TrimPrefix(digits, "0")
	}

	if len(full) < 8 || len(full) > 15 {
		return "", errors.Wrapf(ErrInvalidPhone, "%d digits", len(full))
	}
	return "+" + full, nil
}

func onlyDigits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
