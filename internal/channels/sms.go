package channels

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/jonathan/bidpilot/internal/types"
)

// DefaultTwilioBaseURL is the Twilio REST API root
const DefaultTwilioBaseURL = "https://api.twilio.com"

// maxSMSLength is Twilio's concatenated message limit
const maxSMSLength = 1600

// SMS sends text messages through a Twilio-compatible REST API
type SMS struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	client     *http.Client
}

// NewSMS creates the SMS provider. An empty baseURL selects Twilio.
func NewSMS(baseURL, accountSID, authToken, from string, client *http.Client) *SMS {
	if baseURL == "" {
		baseURL = DefaultTwilioBaseURL
	}
	return &SMS{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		client:     defaultClient(client),
	}
}

// Channel implements Provider
func (s *SMS) Channel() types.Channel {
	return types.ChannelSMS
}

// HealthCheck reports whether account credentials and a sender are present
func (s *SMS) HealthCheck(context.Context) bool {
	return s.accountSID != "" && s.authToken != "" && s.from != ""
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send implements Provider
func (s *SMS) Send(ctx context.Context, payload Payload, cfg Config) Result {
	ch := types.ChannelSMS
	if !s.HealthCheck(ctx) {
		return Failed(ch, "sms provider credentials not configured")
	}
	if cfg.Phone == "" {
		return Failed(ch, "no phone number configured")
	}

	body := clipRunes(payload.Text(), maxSMSLength)

	form := url.Values{}
	form.Set("To", cfg.Phone)
	form.Set("From", s.from)
	form.Set("Body", body)

	endpoint := s.baseURL + "/2010-04-01/Accounts/" + url.PathEscape(s.accountSID) + "/Messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Failed(ch, "failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(s.accountSID, s.authToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return Failed(ch, "sms request failed: %v", err)
	}
	defer resp.Body.Close()

	var out twilioResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if out.Message != "" {
			return Failed(ch, "sms API error %d: %s", out.Code, out.Message)
		}
		return Failed(ch, "sms API returned HTTP %d", resp.StatusCode)
	}
	return Result{Success: true, Channel: ch, MessageID: out.SID}
}

// clipRunes shortens s to at most max characters, ending in "..." when cut
func clipRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-3]) + "..."
}
