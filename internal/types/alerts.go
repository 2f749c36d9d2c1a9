//nolint:revive // types is a standard Go package name pattern
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel identifies a notification delivery mechanism
type Channel string

const (
	ChannelInApp   Channel = "IN_APP"
	ChannelDesktop Channel = "DESKTOP"
	ChannelSMS     Channel = "SMS"
	ChannelChat    Channel = "CHAT"
)

// AllChannels lists every supported channel in dispatch order
var AllChannels = []Channel{ChannelInApp, ChannelDesktop, ChannelSMS, ChannelChat}

// ParseChannel converts a raw string to a Channel
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	switch c {
	case ChannelInApp, ChannelDesktop, ChannelSMS, ChannelChat:
		return c, nil
	}
	return "", fmt.Errorf("unknown notification channel %q", s)
}

// AlertPreference is one user's notification configuration.
// PhoneNumberEnc, ChatTokenEnc and ChatPhoneEnc hold ciphertext produced by
// the secrets package and are only decrypted at send time.
type AlertPreference struct {
	ID                 uuid.UUID `json:"id"`
	TenantID           uuid.UUID `json:"tenant_id"`
	UserID             uuid.UUID `json:"user_id"`
	Enabled            bool      `json:"enabled"`
	AutoScan           bool      `json:"auto_scan"`
	MinMatchPercentage int       `json:"min_match_percentage"`
	Categories         []string  `json:"categories,omitempty"`
	TargetSkills       []string  `json:"target_skills,omitempty"`
	Channels           []Channel `json:"channels"`

	PushSubscription string `json:"push_subscription,omitempty"` // JSON web-push subscription
	PhoneCountryCode string `json:"phone_country_code,omitempty"`
	PhoneNumberEnc   string `json:"-"`
	ChatInstanceID   string `json:"chat_instance_id,omitempty"`
	ChatTokenEnc     string `json:"-"`
	ChatPhoneEnc     string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasChannel reports whether c is in the preference's enabled channel set
func (p *AlertPreference) HasChannel(c Channel) bool {
	for _, ch := range p.Channels {
		if ch == c {
			return true
		}
	}
	return false
}

// NotificationStatus is the outcome of one send attempt
type NotificationStatus string

const (
	NotificationSent   NotificationStatus = "sent"
	NotificationFailed NotificationStatus = "failed"
)

// NotificationLogEntry records one (user, job, channel) send attempt
type NotificationLogEntry struct {
	ID              uuid.UUID          `json:"id"`
	TenantID        uuid.UUID          `json:"tenant_id"`
	UserID          uuid.UUID          `json:"user_id"`
	JobID           uuid.UUID          `json:"job_id"`
	Channel         Channel            `json:"channel"`
	Title           string             `json:"title"`
	Body            string             `json:"body"`
	MatchPercentage int                `json:"match_percentage"`
	Status          NotificationStatus `json:"status"`
	Error           *string            `json:"error,omitempty"`
	MessageID       *string            `json:"message_id,omitempty"`
	CorrelationID   string             `json:"correlation_id"`
	CreatedAt       time.Time          `json:"created_at"`
	SentAt          *time.Time         `json:"sent_at,omitempty"`
}

// JobMatchAlert is the transient input to preference evaluation,
// assembled from a job and its latest analysis.
type JobMatchAlert struct {
	TenantID       uuid.UUID `json:"tenant_id"`
	JobID          uuid.UUID `json:"job_id"`
	AnalysisID     uuid.UUID `json:"analysis_id"`
	JobTitle       string    `json:"job_title"`
	JobURL         string    `json:"job_url,omitempty"`
	FitScore       int       `json:"fit_score"`
	MatchedSkills  []string  `json:"matched_skills,omitempty"`
	JobSkills      []string  `json:"job_skills,omitempty"`
	Category       string    `json:"category,omitempty"`
	Recommendation string    `json:"recommendation,omitempty"`
}
