package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/jonathan/bidpilot/internal/types"
)

// DefaultChatAPIBaseURL is the WhatsApp gateway API root
const DefaultChatAPIBaseURL = "https://api.green-api.com"

// ChatAPI sends WhatsApp messages through a gateway keyed by a per-user
// instance id and API token.
type ChatAPI struct {
	baseURL string
	client  *http.Client
}

// NewChatAPI creates the chat provider. An empty baseURL selects the default gateway.
func NewChatAPI(baseURL string, client *http.Client) *ChatAPI {
	if baseURL == "" {
		baseURL = DefaultChatAPIBaseURL
	}
	return &ChatAPI{baseURL: strings.TrimRight(baseURL, "/"), client: defaultClient(client)}
}

// Channel implements Provider
func (c *ChatAPI) Channel() types.Channel {
	return types.ChannelChat
}

// HealthCheck reports whether the gateway URL is usable; credentials are per user
func (c *ChatAPI) HealthCheck(context.Context) bool {
	u, err := url.Parse(c.baseURL)
	return err == nil && u.Host != ""
}

type chatSendRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

type chatSendResponse struct {
	IDMessage string `json:"idMessage"`
	Message   string `json:"message"`
}

// Send implements Provider
func (c *ChatAPI) Send(ctx context.Context, payload Payload, cfg Config) Result {
	ch := types.ChannelChat
	if cfg.ChatInstanceID == "" || cfg.ChatToken == "" {
		return Failed(ch, "chat API credentials not configured")
	}
	if cfg.ChatPhone == "" {
		return Failed(ch, "no chat phone number configured")
	}

	reqBody, err := json.Marshal(chatSendRequest{
		ChatID:  strings.TrimPrefix(cfg.ChatPhone, "+") + "@c.us",
		Message: payload.Text(),
	})
	if err != nil {
		return Failed(ch, "failed to encode request: %v", err)
	}

	endpoint := c.baseURL + "/waInstance" + url.PathEscape(cfg.ChatInstanceID) + "/sendMessage/" + url.PathEscape(cfg.ChatToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return Failed(ch, "failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// The URL embeds the token; report the transport failure without it.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return Failed(ch, "chat API request failed: %v", err)
	}
	defer resp.Body.Close()

	var out chatSendResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if out.Message != "" {
			return Failed(ch, "chat API error: %s", out.Message)
		}
		return Failed(ch, "chat API returned HTTP %d", resp.StatusCode)
	}
	if out.IDMessage == "" {
		return Failed(ch, "chat API returned no message id")
	}
	return Result{Success: true, Channel: ch, MessageID: out.IDMessage}
}
